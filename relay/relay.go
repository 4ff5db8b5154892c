package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/richinsley/viewcomfy/generation"
	"github.com/richinsley/viewcomfy/metrics"
	"github.com/richinsley/viewcomfy/results"
	"github.com/richinsley/viewcomfy/session"
)

type Options struct {
	Logger *zerolog.Logger
}

// Relay feeds results arriving on a Session into a Tracker for as long as it is
// mounted.
type Relay struct {
	session *session.Session
	tracker *generation.Tracker
	log     zerolog.Logger

	mu      sync.Mutex
	mounted bool
	subs    session.Subscriptions
}

func New(s *session.Session, t *generation.Tracker, opts Options) *Relay {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Relay{
		session: s,
		tracker: t,
		log:     logger.With().Str("component", "relay").Logger(),
	}
}

// Mount registers the result handlers and connects. Without a configured endpoint it
// does nothing. Not being signed in is logged, not returned. Mounting again keeps the
// handlers and retries the connection if none is running.
func (r *Relay) Mount(ctx context.Context) error {
	if !r.session.Enabled() {
		r.log.Debug().Msg("realtime endpoint not configured, results arrive only with submissions")
		return nil
	}

	r.mu.Lock()
	if !r.mounted {
		r.mounted = true
		r.subscribe(ctx)
	}
	r.mu.Unlock()

	return r.connect(ctx)
}

// SyncAuth follows the credential supplier: it connects a mounted relay once the user
// is signed in and disconnects it on sign-out.
func (r *Relay) SyncAuth(ctx context.Context) error {
	r.mu.Lock()
	mounted := r.mounted
	r.mu.Unlock()
	if !mounted {
		return nil
	}
	if !r.session.SignedIn() {
		if r.session.IsConnected() {
			r.log.Info().Msg("signed out, disconnecting socket")
		}
		r.session.Disconnect()
		return nil
	}
	return r.connect(ctx)
}

// WatchAuth calls SyncAuth every interval until ctx is done.
func (r *Relay) WatchAuth(ctx context.Context, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := r.SyncAuth(ctx); err != nil {
				r.log.Warn().Err(err).Msg("socket not connected")
			}
		}
	}
}

func (r *Relay) connect(ctx context.Context) error {
	err := r.session.Connect(ctx)
	if errors.Is(err, session.ErrUnauthenticated) {
		r.log.Info().Msg("not signed in, socket not connected")
		return nil
	}
	return err
}

func (r *Relay) subscribe(ctx context.Context) {
	r.subs.Add(
		r.session.OnConnected(func() {
			r.log.Info().Msg("socket connected")
		}),
		r.session.OnDisconnected(func(reason string, details interface{}) {
			r.log.Info().Str("reason", reason).Interface("details", details).Msg("socket disconnected")
		}),
		r.session.OnTransportError(func(err error) {
			r.log.Warn().Err(err).Msg("socket connection error")
		}),
		r.session.OnResult(func(rec *results.ResultRecord) {
			r.handleResult(ctx, rec)
		}),
		r.session.OnErrorMessage(func(rec *results.ErrorRecord) {
			r.handleErrorMessage(ctx, rec)
		}),
	)
}

func (r *Relay) handleResult(ctx context.Context, rec *results.ResultRecord) {
	job, err := results.Normalize(rec)
	if err != nil {
		metrics.IncResult(metrics.OutcomeMalformed)
		r.log.Error().Err(err).Msg("dropping malformed result message")
		return
	}
	r.tracker.Merge(ctx, job)
}

func (r *Relay) handleErrorMessage(ctx context.Context, rec *results.ErrorRecord) {
	metrics.IncErrorMessage()
	r.log.Error().Str("prompt_id", rec.PromptID).RawJSON("data", rawOrNull(rec.Data)).Msg("infer error message")

	job, err := results.FromErrorRecord(rec)
	if err != nil {
		// not tied to a job; nothing to record
		return
	}
	r.tracker.Merge(ctx, job)
}

// Teardown unregisters every handler and disconnects. It is safe to call more than once.
func (r *Relay) Teardown() {
	r.mu.Lock()
	if !r.mounted {
		r.mu.Unlock()
		return
	}
	r.mounted = false
	r.subs.Cancel()
	r.mu.Unlock()
	r.session.Disconnect()
}

func (r *Relay) IsConnected() bool {
	return r.session.IsConnected()
}

func (r *Relay) Tracker() *generation.Tracker {
	return r.tracker
}

func rawOrNull(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
