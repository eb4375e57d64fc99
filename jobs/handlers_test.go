package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sweepStub struct {
	swept int64
	err   error
	calls int
}

func (s *sweepStub) DeactivateExpired(context.Context, time.Time) (int64, error) {
	s.calls++
	return s.swept, s.err
}

type bumpStub struct {
	bumps int
}

func (b *bumpStub) Invalidate(context.Context) error {
	b.bumps++
	return nil
}

type pruneStub struct {
	pruned int64
	err    error
	cutoff time.Time
}

func (p *pruneStub) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return p.pruned, p.err
}

func TestExpireSweepHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("bumps cache when rows changed", func(t *testing.T) {
		repo := &sweepStub{swept: 3}
		cache := &bumpStub{}
		handler := NewExpireSweepHandler(repo, cache, logger)

		require.NoError(t, handler(context.Background(), NewExpireSweepTask()))
		require.Equal(t, 1, repo.calls)
		require.Equal(t, 1, cache.bumps)
	})

	t.Run("skips cache when nothing changed", func(t *testing.T) {
		repo := &sweepStub{swept: 0}
		cache := &bumpStub{}
		handler := NewExpireSweepHandler(repo, cache, logger)

		require.NoError(t, handler(context.Background(), NewExpireSweepTask()))
		require.Zero(t, cache.bumps)
	})

	t.Run("propagates errors for retry", func(t *testing.T) {
		repo := &sweepStub{err: errors.New("db down")}
		handler := NewExpireSweepHandler(repo, nil, logger)

		require.Error(t, handler(context.Background(), NewExpireSweepTask()))
	})
}

func TestAuditPruneHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("cutoff honors retention", func(t *testing.T) {
		pruner := &pruneStub{pruned: 12}
		handler := NewAuditPruneHandler(pruner, 90*24*time.Hour, logger)

		require.NoError(t, handler(context.Background(), NewAuditPruneTask()))
		require.WithinDuration(t, time.Now().UTC().Add(-90*24*time.Hour), pruner.cutoff, time.Minute)
	})

	t.Run("propagates errors for retry", func(t *testing.T) {
		pruner := &pruneStub{err: errors.New("db down")}
		handler := NewAuditPruneHandler(pruner, time.Hour, logger)

		require.Error(t, handler(context.Background(), NewAuditPruneTask()))
	})
}
