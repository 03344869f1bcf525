package transport

import (
	"context"

	"github.com/pathforge/pathforge/internal/credential"
	"github.com/pathforge/pathforge/internal/metrics"
)

const refreshKey = "refresh"

// renew tries to obtain a credential newer than rejected. It reports whether
// the original request should be re-dispatched.
func (t *Transport) renew(ctx context.Context, rejected, requestID string) bool {
	// Someone else already replaced the rejected credential
	if t.superseded(rejected) {
		t.metrics.Refresh(metrics.RefreshShared)
		return true
	}

	if t.refresher == nil {
		t.expire()
		return false
	}

	// Concurrent 401s share one exchange. The exchange outlives any single
	// caller's cancellation: its outcome decides everyone's session.
	flightCtx := context.WithoutCancel(ctx)
	_, err, shared := t.refreshes.Do(refreshKey, func() (any, error) {
		return t.refresh(flightCtx, rejected, requestID)
	})
	if shared {
		t.metrics.Refresh(metrics.RefreshShared)
	}
	if err != nil {
		// A login during the exchange stored a usable credential
		return t.superseded(rejected)
	}
	return true
}

// superseded reports whether the store now holds a credential other than
// rejected.
func (t *Transport) superseded(rejected string) bool {
	current, err := credential.Current(t.store)
	return err == nil && current != "" && current != rejected
}

// refresh runs one exchange. On failure the session is over: the credential is
// cleared and the caller-supplied navigation command runs. A credential stored
// by someone else while the exchange was in flight is never overwritten or
// cleared.
func (t *Transport) refresh(ctx context.Context, rejected, requestID string) (string, error) {
	token, err := t.refresher.Refresh(ctx)
	if err == nil && token == "" {
		err = ErrEmptyCredential
	}

	if err == nil && t.superseded(rejected) {
		t.log.Debug().
			Str("request_id", requestID).
			Msg("Credential replaced during refresh, keeping the newer one")
		t.metrics.Refresh(metrics.RefreshSuccess)
		return token, nil
	}
	if err == nil {
		err = t.store.Set(token)
	}

	if err != nil {
		t.metrics.Refresh(metrics.RefreshFailure)
		if t.superseded(rejected) {
			t.log.Info().
				Err(err).
				Str("request_id", requestID).
				Msg("Credential refresh failed after a new credential was stored, keeping session")
			return "", err
		}

		t.log.Warn().
			Err(err).
			Str("request_id", requestID).
			Msg("Credential refresh failed, ending session")
		t.expire()
		return "", err
	}

	t.metrics.Refresh(metrics.RefreshSuccess)
	t.log.Info().
		Str("request_id", requestID).
		Msg("Credential refreshed")
	return token, nil
}

func (t *Transport) expire() {
	if err := t.store.Clear(); err != nil {
		t.log.Error().Err(err).Msg("Failed to clear credential")
	}
	if t.onExpired != nil {
		t.onExpired()
	}
}
