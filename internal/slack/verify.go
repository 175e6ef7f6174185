package slack

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/slack-go/slack"
)

// VerifyRequest checks the Slack signature of r and restores its body for
// the next reader.
func VerifyRequest(signingSecret string, r *http.Request) error {
	sv, err := slack.NewSecretsVerifier(r.Header, signingSecret)
	if err != nil {
		return fmt.Errorf("invalid signature headers: %w", err)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("failed to hash request body: %w", err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	return nil
}

// VerifyMiddleware rejects requests that are not signed by Slack.
func VerifyMiddleware(signingSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := VerifyRequest(signingSecret, r); err != nil {
				slog.Warn("rejected slack request", "error", err, "remote_addr", r.RemoteAddr)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
