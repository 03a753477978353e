package sched

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"hotspot-billing/internal/config"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"
	"hotspot-billing/internal/infra/metrics"
	"hotspot-billing/internal/infra/redis"
	"hotspot-billing/internal/usecase"
)

const sweepLockKey = "sweep:leader"

// Reconciler is the slice of the reconcile use case the sweep needs.
type Reconciler interface {
	ReconcileOrder(ctx context.Context, o *model.Order) error
}

var _ Reconciler = (usecase.ReconcileUseCase)(nil)

// SweepWorker periodically scans unresolved orders and tries to finalize
// them against the gateway. This covers webhooks that were lost and return
// redirects that never arrived, and retries paid-but-not-delivered orders.
//
// The per-order attempt counter lives in memory and resets on restart; the
// cap exists to stop hot-looping on a permanently broken order, and a
// restart doubles as the manual reset valve.
type SweepWorker struct {
	uc       Reconciler
	orders   repository.OrderRepository
	locker   redis.Locker
	interval time.Duration
	minAge   time.Duration // how old an order must be before the sweep touches it
	maxAge   time.Duration // orders older than this are treated as abandoned
	throttle time.Duration // delay between orders within one cycle
	maxTries int
	batch    int
	log      *zerolog.Logger

	mu       sync.Mutex
	attempts map[string]int

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweepWorker(uc Reconciler, orders repository.OrderRepository, locker redis.Locker, cfg config.SweepConfig, logger *zerolog.Logger) *SweepWorker {
	swLog := logger.With().Str("component", "SweepWorker").Logger()
	return &SweepWorker{
		uc:       uc,
		orders:   orders,
		locker:   locker,
		interval: cfg.Interval,
		minAge:   cfg.MinAge,
		maxAge:   cfg.MaxAge,
		throttle: cfg.Throttle,
		maxTries: cfg.MaxAttempts,
		batch:    cfg.BatchSize,
		log:      &swLog,
		attempts: make(map[string]int),
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (w *SweepWorker) Start(parentCtx context.Context) {
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	w.cancel = cancel
	go w.loop(ctx)
}

// Stop halts scheduling of further cycles and waits for an in-flight cycle
// to run to completion.
func (w *SweepWorker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (w *SweepWorker) loop(ctx context.Context) {
	defer close(w.done)
	w.log.Info().Dur("interval", w.interval).Msg("starting reconciliation sweep")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping reconciliation sweep")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one sweep cycle. Exported so the admin surface can trigger an
// out-of-band cycle.
func (w *SweepWorker) Tick(ctx context.Context) {
	runID := ulid.Make().String()
	log := w.log.With().Str("sweep_run", runID).Logger()

	var token string
	if w.locker != nil {
		var err error
		token, err = w.locker.TryLock(ctx, sweepLockKey, w.interval)
		if err != nil {
			log.Debug().Err(err).Msg("sweep leadership not acquired; skipping cycle")
			return
		}
		defer func() {
			if err := w.locker.Unlock(ctx, sweepLockKey, token); err != nil {
				log.Warn().Err(err).Msg("sweep lock release failed")
			}
		}()
	}

	now := time.Now()
	candidates, err := w.orders.ListUnresolvedBetween(ctx, nil, now.Add(-w.minAge), now.Add(-w.maxAge), w.batch)
	if err != nil {
		log.Error().Err(err).Msg("listing unresolved orders failed")
		return
	}
	metrics.AddSweepScanned(len(candidates))
	w.pruneTries(candidates)

	for i, o := range candidates {
		if ctx.Err() != nil {
			return
		}
		if w.tries(o.ID) >= w.maxTries {
			metrics.IncSweepSkippedAttemptCap()
			log.Debug().Str("order_id", o.ID).Msg("attempt cap reached; order left for manual recovery")
			continue
		}
		w.bumpTries(o.ID)
		if err := w.uc.ReconcileOrder(ctx, o); err != nil {
			log.Warn().Err(err).Str("order_id", o.ID).Msg("sweep reconcile failed")
		}
		if i < len(candidates)-1 {
			w.sleep(ctx)
		}
	}
}

// sleep waits the throttle delay with a little jitter, or returns early on
// cancellation.
func (w *SweepWorker) sleep(ctx context.Context) {
	d := w.throttle + time.Duration(rand.Int63n(int64(w.throttle)/4+1))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *SweepWorker) tries(orderID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempts[orderID]
}

func (w *SweepWorker) bumpTries(orderID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[orderID]++
}

// pruneTries drops counters for orders no longer in the candidate window,
// so the map tracks at most one batch worth of orders.
func (w *SweepWorker) pruneTries(candidates []*model.Order) {
	seen := make(map[string]struct{}, len(candidates))
	for _, o := range candidates {
		seen[o.ID] = struct{}{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for id := range w.attempts {
		if _, ok := seen[id]; !ok {
			delete(w.attempts, id)
		}
	}
}
