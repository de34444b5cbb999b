// Package webhook receives Telegram updates over HTTP.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"ytlive_bot/internal/bot"
)

const (
	secretHeader    = "X-Telegram-Bot-Api-Secret-Token"
	maxUpdateSize   = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// UpdateHandler processes one decoded update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u bot.Update)
}

// Server routes webhook deliveries to an UpdateHandler.
type Server struct {
	handler UpdateHandler
	secret  string
	log     *slog.Logger
	router  *mux.Router
}

// New creates a Server accepting updates at path. When secret is non-empty,
// requests must carry it in the X-Telegram-Bot-Api-Secret-Token header.
func New(path, secret string, h UpdateHandler, log *slog.Logger) *Server {
	s := &Server{handler: h, secret: secret, log: log, router: mux.NewRouter()}

	s.router.HandleFunc(path, s.handleUpdate).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("webhook server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown webhook server: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), []byte(s.secret)) != 1 {
		s.log.Warn("webhook secret mismatch", "remote_addr", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateSize))
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	u, err := bot.DecodeUpdate(body)
	if err != nil {
		s.log.Warn("undecodable webhook update", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	// Telegram drops the connection on slow replies; the update must still
	// be handled to completion.
	s.handler.HandleUpdate(context.WithoutCancel(r.Context()), u)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "OK")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}
