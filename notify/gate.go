package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/richinsley/viewcomfy/metrics"
	"github.com/richinsley/viewcomfy/results"
)

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

const (
	CompletionTitle = "Generation Complete!"
	CompletionBody  = "Your image generation has finished."
)

type Notification struct {
	Title string
	Body  string
	// Tag groups notifications for the same job.
	Tag string
}

// Platform is whatever can put a notification in front of the user.
type Platform interface {
	Available() bool
	Permission() Permission
	// RequestPermission asks the user and returns the resulting permission.
	RequestPermission(ctx context.Context) (Permission, error)
	Show(n Notification) error
}

// Gate announces finished jobs through a Platform. It never blocks the caller on a
// permission prompt and never lets a platform failure escape.
type Gate struct {
	platform       Platform
	log            zerolog.Logger
	requestTimeout time.Duration

	mu         sync.Mutex
	requesting bool
	inflight   sync.WaitGroup
}

func NewGate(platform Platform, logger zerolog.Logger) *Gate {
	if platform == nil {
		platform = NopPlatform{}
	}
	return &Gate{
		platform:       platform,
		log:            logger.With().Str("component", "notify").Logger(),
		requestTimeout: time.Minute,
	}
}

// Notify announces job. With permission still undecided it starts a permission request
// (at most one at a time) and drops this notification.
func (g *Gate) Notify(ctx context.Context, job *results.Job) {
	if g == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			metrics.IncNotification("failed")
			g.log.Error().Err(fmt.Errorf("%v", p)).Msg("notification platform panicked")
		}
	}()

	if !g.platform.Available() {
		metrics.IncNotification("unavailable")
		return
	}

	switch g.platform.Permission() {
	case PermissionGranted:
		n := Notification{Title: CompletionTitle, Body: CompletionBody}
		if job != nil {
			n.Tag = job.PromptID
		}
		if err := g.platform.Show(n); err != nil {
			metrics.IncNotification("failed")
			g.log.Error().Err(err).Msg("error showing notification")
			return
		}
		metrics.IncNotification("shown")
	case PermissionDenied:
		metrics.IncNotification("denied")
	default:
		metrics.IncNotification("dropped")
		g.requestPermission(ctx)
	}
}

// Requesting reports whether a permission request is in flight.
func (g *Gate) Requesting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requesting
}

// Wait blocks until any in-flight permission request has finished.
func (g *Gate) Wait() {
	g.inflight.Wait()
}

func (g *Gate) requestPermission(ctx context.Context) {
	g.mu.Lock()
	if g.requesting {
		g.mu.Unlock()
		return
	}
	g.requesting = true
	g.inflight.Add(1)
	g.mu.Unlock()

	// the prompt outlives the job that triggered it
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.requestTimeout)
	go func() {
		defer g.inflight.Done()
		defer cancel()
		defer func() {
			g.mu.Lock()
			g.requesting = false
			g.mu.Unlock()
		}()
		defer func() {
			if p := recover(); p != nil {
				g.log.Error().Err(fmt.Errorf("%v", p)).Msg("permission request panicked")
			}
		}()

		perm, err := g.platform.RequestPermission(reqCtx)
		if err != nil {
			g.log.Error().Err(err).Msg("error requesting notification permission")
			return
		}
		g.log.Info().Str("permission", string(perm)).Msg("notification permission decided")
	}()
}
