package translator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cenkalti/backoff/v5"
)

// ErrEmptyResponse is returned by clients when the model produced no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Fallback makes a Client infallible: each call is retried with exponential
// backoff and, once the attempts are spent, answered by the mock.
type Fallback struct {
	client   Client
	mock     *Mock
	attempts uint
	backoff  func() backoff.BackOff
	logger   *slog.Logger
}

// NewFallback wraps client. attempts < 1 is treated as 1.
func NewFallback(client Client, attempts uint, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		client:   client,
		mock:     NewMock(),
		attempts: max(attempts, 1),
		backoff:  func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:   logger,
	}
}

// Name reports the wrapped client's name.
func (f *Fallback) Name() string { return f.client.Name() }

// Complete returns the model's text, or the mock's answer when the model
// keeps failing or the context ends.
func (f *Fallback) Complete(ctx context.Context, msgs []Message, temperature float64, maxTokens int) string {
	text, err := backoff.Retry(ctx, func() (string, error) {
		out, err := f.client.Generate(ctx, msgs, temperature, maxTokens)
		if err != nil {
			f.logger.Warn("⚠️ Translator: generation failed", "client", f.client.Name(), "error", err)
			return "", err
		}
		return out, nil
	}, backoff.WithBackOff(f.backoff()), backoff.WithMaxTries(f.attempts))

	if err == nil {
		return text
	}

	f.logger.Warn("⚠️ Translator: falling back to mock", "client", f.client.Name(), "error", err)
	out, _ := f.mock.Generate(ctx, msgs, temperature, maxTokens)
	return out
}
