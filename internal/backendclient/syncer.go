package backendclient

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/bodiless/contentsync/internal/content"
)

// Backend is the part of HTTPClient the syncer depends on.
type Backend interface {
	FetchSnapshot(ctx context.Context, slug string) (content.Snapshot, error)
	Subscribe(ctx context.Context, slug string, fn func(content.Snapshot)) error
}

// SnapshotSink receives reconciled snapshots; *content.Store implements it.
type SnapshotSink interface {
	UpdateData(snapshot content.Snapshot)
}

type Logger interface {
	Printf(format string, args ...any)
}

type SyncerOptions struct {
	Slug         string
	PollInterval time.Duration
	// PollJitter is the fraction of PollInterval added or removed at random.
	PollJitter float64
	Logger     Logger
	// Sample returns values in [0,1); it drives the jitter.
	Sample func() float64
}

// Syncer keeps a store in step with the backend: one snapshot at start, then
// pushed snapshots, polling while the push channel is down.
type Syncer struct {
	backend  Backend
	sink     SnapshotSink
	slug     string
	interval time.Duration
	jitter   float64
	logger   Logger
	sample   func() float64
}

func NewSyncer(backend Backend, sink SnapshotSink, opts SyncerOptions) (*Syncer, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("snapshot sink is required")
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	sample := opts.Sample
	if sample == nil {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		sample = rng.Float64
	}
	return &Syncer{
		backend:  backend,
		sink:     sink,
		slug:     strings.TrimSpace(opts.Slug),
		interval: interval,
		jitter:   ClampJitterRatio(opts.PollJitter),
		logger:   opts.Logger,
		sample:   sample,
	}, nil
}

// SyncOnce fetches the page snapshot and reconciles it.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	snapshot, err := s.backend.FetchSnapshot(ctx, s.slug)
	if err != nil {
		return fmt.Errorf("fetch snapshot %q: %w", s.slug, err)
	}
	s.sink.UpdateData(snapshot)
	return nil
}

// Run blocks until ctx ends.
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.SyncOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.logf("initial sync failed: %v", err)
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := s.backend.Subscribe(ctx, s.slug, s.sink.UpdateData)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.logf("snapshot subscription for %q dropped: %v; polling", s.slug, err)
		}
		if err := sleep(ctx, s.nextInterval()); err != nil {
			return nil
		}
		if err := s.SyncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logf("poll failed: %v", err)
		}
	}
}

func (s *Syncer) nextInterval() time.Duration {
	return JitteredInterval(s.interval, s.jitter, s.sample())
}

func (s *Syncer) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func ClampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// JitteredInterval spreads base by up to jitterRatio in either direction;
// sample picks the point in that range.
func JitteredInterval(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = ClampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
