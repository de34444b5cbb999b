// Package model defines the domain types used across the application.
package model

import "time"

// Endpoint addresses a chat, optionally narrowed to a forum thread.
// ThreadID 0 means the chat itself.
type Endpoint struct {
	ChatID   int64
	ThreadID int
}

// Subscription routes the live announcements of one YouTube channel to a
// chat, optionally to a forum thread within it. ThreadID 0 means no thread.
//
// A subscription is identified by (ChannelName, ChatID, ThreadID).
type Subscription struct {
	ChannelName string `json:"channelName"`
	RSSURL      string `json:"rssUrl"`
	ChatID      int64  `json:"chatId"`
	ThreadID    int    `json:"threadId,omitempty"`
}

// SameKey reports whether s and o share the same identity tuple.
func (s Subscription) SameKey(o Subscription) bool {
	return s.ChannelName == o.ChannelName && s.ChatID == o.ChatID && s.ThreadID == o.ThreadID
}

// ForwardSession is a pending request to copy a set of channels from the
// source chat to the target chat. It is single-use and expires at ExpiresAt.
type ForwardSession struct {
	ID             string    `json:"id"`
	SourceChatID   int64     `json:"sourceChatId"`
	SourceThreadID int       `json:"sourceThreadId,omitempty"`
	TargetChatID   int64     `json:"targetChatId"`
	TargetThreadID int       `json:"targetThreadId,omitempty"`
	Channels       []string  `json:"channelMap"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Expired reports whether the session is no longer usable at now.
func (s *ForwardSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
