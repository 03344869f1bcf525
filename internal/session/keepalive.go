package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const revalidateTimeout = time.Minute

// Keepalive re-resolves the session on a cron schedule so long-running views
// notice a session that ended server-side.
type Keepalive struct {
	cron *cron.Cron
}

// StartKeepalive schedules Revalidate. schedule accepts standard five-field
// cron expressions and descriptors such as "@every 5m".
func StartKeepalive(h *Holder, schedule string, log zerolog.Logger) (*Keepalive, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), revalidateTimeout)
		defer cancel()

		snap := h.Revalidate(ctx)
		log.Debug().Str("status", snap.Status.String()).Msg("Session revalidated")
	})
	if err != nil {
		return nil, fmt.Errorf("invalid revalidate schedule %q: %w", schedule, err)
	}

	c.Start()
	return &Keepalive{cron: c}, nil
}

// Stop waits for a running revalidation to finish
func (k *Keepalive) Stop() {
	<-k.cron.Stop().Done()
}
