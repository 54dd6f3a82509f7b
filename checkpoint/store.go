package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Store caches checkpoints by pair name. A checkpoint is read from the Source
// on first use and kept for the life of the Store.
type Store struct {
	source Source
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Checkpoint
	group singleflight.Group

	preloadLimit int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPreloadLimit bounds the concurrent loads of Preload. Default: 4.
func WithPreloadLimit(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.preloadLimit = n
		}
	}
}

// NewStore creates a Store reading from source.
func NewStore(source Source, opts ...StoreOption) *Store {
	s := &Store{
		source:       source,
		logger:       slog.Default(),
		cache:        make(map[string]*Checkpoint),
		preloadLimit: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pairs lists the configured pair names.
func (s *Store) Pairs() []string {
	return s.source.Pairs()
}

// Get returns the checkpoint of a language pair. Repeated calls return the
// same *Checkpoint; concurrent first calls share one load. A caller whose ctx
// is done stops waiting, but the shared load carries on for the others.
func (s *Store) Get(ctx context.Context, sourceLang, targetLang string) (*Checkpoint, error) {
	return s.get(ctx, PairName(sourceLang, targetLang))
}

func (s *Store) get(ctx context.Context, name string) (*Checkpoint, error) {
	s.mu.RLock()
	cp, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return cp, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := s.group.DoChan(name, func() (any, error) {
		s.mu.RLock()
		cp, ok := s.cache[name]
		s.mu.RUnlock()
		if ok {
			return cp, nil
		}

		cp, err := s.load(context.WithoutCancel(ctx), name)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cache[name] = cp
		s.mu.Unlock()
		return cp, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Checkpoint), nil
	}
}

func (s *Store) load(ctx context.Context, name string) (*Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "checkpoint.Load",
		trace.WithAttributes(attribute.String("checkpoint.pair", name)),
	)
	defer span.End()

	start := time.Now()
	cp, err := s.source.Load(ctx, name)
	if err != nil {
		checkpointLoads.WithLabelValues(name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if cp.Name == "" {
		cp.Name = name
	}

	checkpointLoads.WithLabelValues(name, "ok").Inc()
	span.SetStatus(codes.Ok, "")
	s.logger.Info("checkpoint loaded",
		slog.String("pair", name),
		slog.Bool("multilingual", cp.MultilingualTarget),
		slog.Duration("elapsed", time.Since(start)))
	return cp, nil
}

// Preload loads every configured pair.
func (s *Store) Preload(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.preloadLimit)

	for _, name := range s.Pairs() {
		g.Go(func() error {
			_, err := s.get(ctx, name)
			return err
		})
	}
	return g.Wait()
}

// Loaded lists the pair names already in the cache.
func (s *Store) Loaded() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.cache))
	for name := range s.cache {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// LoadInto writes cp into the session model unless it is already loaded and
// the weights are not stale. It reports whether weights were written.
func (s *Store) LoadInto(ctx context.Context, sess *Session, cp *Checkpoint) (bool, error) {
	if !sess.needsLoad(cp) {
		return false, nil
	}

	ctx, span := tracer.Start(ctx, "checkpoint.LoadInto",
		trace.WithAttributes(
			attribute.String("checkpoint.pair", cp.Name),
			attribute.Bool("checkpoint.stale", sess.Stale()),
		),
	)
	defer span.End()

	start := time.Now()
	if err := sess.Model().LoadWeights(ctx, cp.Weights); err != nil {
		// A partial write leaves unknown weights behind.
		sess.MarkStale()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("loading weights of %s: %w", cp.Name, err)
	}
	sess.loaded(cp)

	elapsed := time.Since(start)
	weightLoads.WithLabelValues(cp.Name).Inc()
	weightLoadDuration.Observe(elapsed.Seconds())
	span.SetStatus(codes.Ok, "")
	s.logger.Debug("weights loaded", slog.String("pair", cp.Name), slog.Duration("elapsed", elapsed))
	return true, nil
}
