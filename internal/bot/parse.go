package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ytlive_bot/internal/forward"
	"ytlive_bot/internal/model"
)

const (
	callbackPrefix = "fwd"
	selectAll      = "ALL"
)

var errUsage = errors.New("wrong number of arguments")

// ParseChannelArg extracts the single channel name taken by /add and /del.
func ParseChannelArg(args string) (string, error) {
	parts := strings.Fields(args)
	if len(parts) != 1 {
		return "", errUsage
	}
	return parts[0], nil
}

// ParseForwardTarget parses "<chatId> [threadId]" for /forward_to.
func ParseForwardTarget(args string) (model.Endpoint, error) {
	parts := strings.Fields(args)
	if len(parts) < 1 || len(parts) > 2 {
		return model.Endpoint{}, errUsage
	}

	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || chatID == 0 {
		return model.Endpoint{}, fmt.Errorf("invalid chat ID %q", parts[0])
	}
	target := model.Endpoint{ChatID: chatID}

	if len(parts) == 2 {
		threadID, err := strconv.Atoi(parts[1])
		if err != nil || threadID < 0 {
			return model.Endpoint{}, fmt.Errorf("invalid thread ID %q", parts[1])
		}
		target.ThreadID = threadID
	}
	return target, nil
}

// ForwardCallbackData encodes a chooser button as fwd:<sessionId>:<ALL|index>.
func ForwardCallbackData(sessionID string, sel forward.Selector) string {
	if sel.All {
		return callbackPrefix + ":" + sessionID + ":" + selectAll
	}
	return callbackPrefix + ":" + sessionID + ":" + strconv.Itoa(sel.Index)
}

// ParseForwardCallback decodes callback data produced by ForwardCallbackData.
func ParseForwardCallback(data string) (string, forward.Selector, error) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != callbackPrefix || parts[1] == "" {
		return "", forward.Selector{}, fmt.Errorf("unknown callback data %q", data)
	}
	if parts[2] == selectAll {
		return parts[1], forward.Selector{All: true}, nil
	}
	idx, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", forward.Selector{}, fmt.Errorf("invalid selector %q", parts[2])
	}
	return parts[1], forward.Selector{Index: idx}, nil
}
