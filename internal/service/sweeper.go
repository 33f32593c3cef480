package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prperemyshlev/auth-lifecycle/internal/repository"
	"go.uber.org/zap"
)

// TokenSweeper periodically deletes persisted one-time tokens past their
// expiry. Their cache mirrors lapse on their own.
type TokenSweeper struct {
	tokens   repository.OneTimeTokenRepository
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

// NewTokenSweeper creates a sweeper running every interval
func NewTokenSweeper(tokens repository.OneTimeTokenRepository, interval time.Duration, logger *zap.Logger) *TokenSweeper {
	return &TokenSweeper{
		tokens:   tokens,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. A non-positive interval disables it.
func (s *TokenSweeper) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	if s.interval <= 0 {
		close(s.done)
		return
	}

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep(context.Background())
			case <-s.stop:
				return
			}
		}
	}()
}

// Sweep runs one pass and returns the number of deleted rows
func (s *TokenSweeper) Sweep(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	deleted, err := s.tokens.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		s.logger.Error("failed to sweep expired tokens", zap.Error(err))
		return 0
	}
	if deleted > 0 {
		s.logger.Info("expired tokens swept", zap.Int64("deleted", deleted))
	}
	return deleted
}

// Stop ends the loop and waits for an in-flight sweep. Stopping a sweeper
// that never started is a no-op.
func (s *TokenSweeper) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}
	s.once.Do(func() { close(s.stop) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
