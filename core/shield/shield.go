package shield

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/settings"
)

type (
	// Store keeps per-client refresh counters and blocks.
	Store interface {
		// Hit counts a request of client in the current window, starting a window of length window if none.
		Hit(ctx context.Context, client string, window time.Duration) (int64, error)
		Block(ctx context.Context, client string, d time.Duration) error
		// BlockedFor returns the remaining block duration of client, 0 if not blocked.
		BlockedFor(ctx context.Context, client string) (time.Duration, error)
	}

	Verdict struct {
		Allowed    bool
		RetryAfter time.Duration
	}

	// Shield throttles page refreshes of the public site while the login shield is active.
	Shield struct {
		store  Store
		logger core.Logger
	}
)

func New(store Store, logger core.Logger) *Shield {
	return &Shield{store: store, logger: logger}
}

// Check counts a request of client. Store errors let the request through.
func (s *Shield) Check(ctx context.Context, client string, sec settings.Security) Verdict {
	if !sec.IsActive {
		return Verdict{Allowed: true}
	}

	blocked, err := s.store.BlockedFor(ctx, client)
	if err != nil {
		s.logger.Error("checking shield block", errors.Wrap(err, "reading block"), map[string]interface{}{"client": client})
		return Verdict{Allowed: true}
	}
	if blocked > 0 {
		return Verdict{RetryAfter: blocked}
	}

	count, err := s.store.Hit(ctx, client, sec.RateLimit.Window())
	if err != nil {
		s.logger.Error("counting shield hit", errors.Wrap(err, "incrementing counter"), map[string]interface{}{"client": client})
		return Verdict{Allowed: true}
	}
	if count <= int64(sec.RateLimit.MaxRefreshes) {
		return Verdict{Allowed: true}
	}

	block := sec.RateLimit.BlockDuration()
	if err = s.store.Block(ctx, client, block); err != nil {
		s.logger.Error("blocking client", errors.Wrap(err, "writing block"), map[string]interface{}{"client": client})
	}
	return Verdict{RetryAfter: block}
}
