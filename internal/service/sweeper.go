package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tidemark/authd/internal/config"
	"github.com/tidemark/authd/internal/repository"
)

// Sweeper deletes credential rows whose expiry is older than the retention
// window. It reclaims storage only; validity is always decided at read time.
type Sweeper struct {
	codes    repository.CodeRepository
	tokens   repository.TokenRepository
	sessions repository.SessionRepository
	cfg      config.Config
	logger   *zap.Logger
}

// NewSweeper wires dependencies.
func NewSweeper(codes repository.CodeRepository, tokens repository.TokenRepository, sessions repository.SessionRepository, cfg config.Config, logger *zap.Logger) *Sweeper {
	return &Sweeper{codes: codes, tokens: tokens, sessions: sessions, cfg: cfg, logger: logger}
}

// Sweep runs one pass and returns the number of rows deleted.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.cfg.SweepRetention)
	return s.SweepBefore(ctx, cutoff)
}

// SweepBefore deletes expired rows older than the given cutoff.
func (s *Sweeper) SweepBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64

	n, err := s.codes.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return total, err
	}
	total += n

	n, err = s.tokens.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return total, err
	}
	total += n

	n, err = s.sessions.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return total, err
	}
	total += n

	return total, nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Warn("sweep pass failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				s.logger.Info("swept expired credentials", zap.Int64("deleted", deleted))
			}
		}
	}
}
