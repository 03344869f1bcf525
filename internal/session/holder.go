// Package session is the single source of truth for "who is logged in".
//
// The Holder owns the session lifecycle: Unresolved at start, Resolving while
// the "who am I" call is in flight, then Authenticated or Anonymous. Consumers
// read snapshots or subscribe to changes; they never trigger resolution
// themselves.
package session

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/pathforge/pathforge/internal/api"
	"github.com/pathforge/pathforge/internal/credential"
	"github.com/pathforge/pathforge/internal/metrics"
)

// ProfileFetcher calls the "who am I" endpoint
type ProfileFetcher interface {
	Me(ctx context.Context) (api.UserProfile, error)
}

// Holder holds the process-wide session
type Holder struct {
	store   credential.Store
	users   ProfileFetcher
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	snap    Snapshot
	gen     uint64
	subs    map[uint64]chan Snapshot
	nextSub uint64

	flights singleflight.Group
	pending sync.WaitGroup
}

// NewHolder creates a Holder in the Unresolved state
func NewHolder(store credential.Store, users ProfileFetcher, log zerolog.Logger, m *metrics.Metrics) *Holder {
	return &Holder{
		store:   store,
		users:   users,
		log:     log.With().Str("component", "session").Logger(),
		metrics: m,
		snap:    Snapshot{Status: Unresolved},
		subs:    make(map[uint64]chan Snapshot),
	}
}

// Snapshot returns the current session
func (h *Holder) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

// Resolve determines the session from the stored credential and returns the
// terminal snapshot. Concurrent calls share one "who am I" call. If ctx ends
// first, Resolve returns the current snapshot and the resolution finishes in
// the background.
func (h *Holder) Resolve(ctx context.Context) Snapshot {
	return h.run(ctx, false)
}

// Revalidate is Resolve without the Resolving transition: an authenticated
// session stays visible until the answer arrives.
func (h *Holder) Revalidate(ctx context.Context) Snapshot {
	return h.run(ctx, true)
}

// Reset returns the session to Unresolved. Results of resolutions started
// before the reset are discarded. Call it after login, logout or an OAuth
// callback, then Resolve.
func (h *Holder) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gen++
	h.setLocked(Snapshot{Status: Unresolved})
}

// Expire marks the session Anonymous after its credential was dropped
// elsewhere, e.g. by a failed refresh. It reports whether the session really
// ended: when a credential is stored again (a login won the race) nothing
// changes and Expire returns false.
func (h *Holder) Expire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if token, err := credential.Current(h.store); err == nil && token != "" {
		return false
	}
	if h.snap.Status != Anonymous {
		h.setLocked(Snapshot{Status: Anonymous})
		h.metrics.Resolution(Anonymous.String())
	}
	return true
}

// Wait blocks until every resolution started so far has finished, including
// ones whose callers gave up early. Call it before closing the store.
func (h *Holder) Wait() {
	h.pending.Wait()
}

func (h *Holder) run(ctx context.Context, quiet bool) Snapshot {
	h.mu.Lock()
	gen := h.gen
	h.mu.Unlock()

	key := strconv.FormatUint(gen, 10)
	if quiet {
		key = "quiet-" + key
	}

	flightCtx := context.WithoutCancel(ctx)
	h.pending.Add(1)
	ch := h.flights.DoChan(key, func() (any, error) {
		return h.resolve(flightCtx, gen, quiet), nil
	})

	select {
	case res := <-ch:
		h.pending.Done()
		return res.Val.(Snapshot)
	case <-ctx.Done():
		go func() {
			<-ch
			h.pending.Done()
		}()
		return h.Snapshot()
	}
}

func (h *Holder) resolve(ctx context.Context, gen uint64, quiet bool) Snapshot {
	token, err := credential.Current(h.store)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read credential, treating session as anonymous")
	}
	if token == "" {
		return h.commit(gen, Snapshot{Status: Anonymous})
	}

	if !quiet || h.Snapshot().Status != Authenticated {
		h.commit(gen, Snapshot{Status: Resolving})
	}

	user, err := h.users.Me(ctx)
	if errors.Is(err, api.ErrMalformedPayload) {
		// The backend answered but the profile was unreadable: the credential
		// stays and an authenticated session is left as it was.
		h.log.Warn().Err(err).Msg("Unreadable user profile, keeping credential")
		if quiet {
			if snap := h.Snapshot(); snap.Status == Authenticated {
				return snap
			}
		}
		return h.commit(gen, Snapshot{Status: Anonymous})
	}
	if err != nil {
		h.log.Info().Err(err).Msg("Session resolution failed")
		h.clearIfCurrent(gen)
		return h.commit(gen, Snapshot{Status: Anonymous})
	}
	if len(user) == 0 {
		return h.commit(gen, Snapshot{Status: Anonymous})
	}

	return h.commit(gen, Snapshot{Status: Authenticated, User: user})
}

// clearIfCurrent drops the credential unless a newer session has begun
func (h *Holder) clearIfCurrent(gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != gen {
		return
	}
	if err := h.store.Clear(); err != nil {
		h.log.Error().Err(err).Msg("Failed to clear credential")
	}
}

// commit publishes snap unless the session was reset since gen began
func (h *Holder) commit(gen uint64, snap Snapshot) Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.gen != gen {
		return h.snap
	}
	h.setLocked(snap)

	if snap.Status.Terminal() {
		h.metrics.Resolution(snap.Status.String())
		h.log.Debug().Str("status", snap.Status.String()).Msg("Session resolved")
	}
	return snap
}

func (h *Holder) setLocked(snap Snapshot) {
	h.snap = snap
	for _, ch := range h.subs {
		deliver(ch, snap)
	}
}

// deliver replaces whatever the subscriber has not read yet
func deliver(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// Subscribe returns a channel that always holds the latest snapshot, starting
// with the current one, and a function that ends the subscription.
func (h *Holder) Subscribe() (<-chan Snapshot, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- h.snap
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Await blocks until the session reaches a terminal status
func (h *Holder) Await(ctx context.Context) (Snapshot, error) {
	ch, cancel := h.Subscribe()
	defer cancel()

	for {
		select {
		case snap := <-ch:
			if snap.Status.Terminal() {
				return snap, nil
			}
		case <-ctx.Done():
			return h.Snapshot(), ctx.Err()
		}
	}
}
