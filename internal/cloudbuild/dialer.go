package cloudbuild

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shipyard-cli/shipyard/internal/debug"
)

const connectRetryInitialInterval = 500 * time.Millisecond

// Dialer opens connected sessions.
type Dialer struct {
	opts Options
}

// NewDialer returns a Dialer that creates sessions with opts.
func NewDialer(opts Options) *Dialer {
	return &Dialer{opts: opts}
}

func newConnectBackoff(retries int) backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = connectRetryInitialInterval
	bo.MaxElapsedTime = 0
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(bo, uint64(retries))
}

func isRetryableConnectError(err error) bool {
	var connErr *BuildConnectError
	var timeoutErr *BuildTimeoutError
	return errors.As(err, &connErr) || errors.As(err, &timeoutErr)
}

// Open returns a session that has completed the connect handshake. The
// caller must Run or Close it. Only connect and timeout failures are
// retried, and only Options.Retries times.
func (d *Dialer) Open(ctx context.Context, req Request) (*Session, error) {
	var session *Session
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		s := NewSession(d.opts)
		err := s.Connect(ctx, req)
		if err == nil {
			session = s
			return nil
		}
		if ctx.Err() != nil || !isRetryableConnectError(err) {
			return backoff.Permanent(err)
		}
		debug.Logf("cloudbuild: connect attempt %d failed: %v\n", attempt, err)
		return err
	}, backoff.WithContext(newConnectBackoff(d.opts.Retries), ctx))
	if err != nil {
		return nil, err
	}
	return session, nil
}
