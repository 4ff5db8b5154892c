package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/richinsley/viewcomfy/config"
	"github.com/richinsley/viewcomfy/results"
)

var ErrNotFound = errors.New("archive: not found")

// Archive keeps finished jobs beyond the life of the process. Like the in-memory
// store, the first record for a prompt id wins.
type Archive interface {
	// Record stores job and reports whether it was new.
	Record(ctx context.Context, job *results.Job) (bool, error)
	Get(ctx context.Context, promptID string) (*results.Job, error)
	// List returns up to limit jobs, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*results.Job, error)
	Close() error
}

// Open returns the archive cfg asks for, or nil when no driver is configured.
func Open(ctx context.Context, cfg config.ArchiveConfig) (Archive, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.Path)
	case "redis":
		cli, err := NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("archive: connect redis: %w", err)
		}
		return NewRedisArchive(cli, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("archive: unknown driver %q", cfg.Driver)
	}
}

// Recorder returns a tracker hook that archives every accepted job. Failures are
// logged; they never affect the in-memory state.
func Recorder(a Archive, logger zerolog.Logger) func(ctx context.Context, job *results.Job) {
	return func(ctx context.Context, job *results.Job) {
		created, err := a.Record(ctx, job)
		if err != nil {
			logger.Error().Err(err).Str("prompt_id", job.PromptID).Msg("error archiving result")
			return
		}
		if !created {
			logger.Debug().Str("prompt_id", job.PromptID).Msg("result already archived")
		}
	}
}
