package poller

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hotspot-billing/internal/config"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/adapter"
	"hotspot-billing/internal/infra/metrics"
)

// Snapshot is the last successfully fetched account listing. Readers always
// get the cached value; they never wait on a live fetch.
type Snapshot struct {
	TakenAt  time.Time
	Accounts []*model.Account
}

// SnapshotStore shares snapshots across replicas and restarts; optional.
type SnapshotStore interface {
	Store(ctx context.Context, takenAt time.Time, accounts []*model.Account) error
	Load(ctx context.Context) (time.Time, []*model.Account, error)
}

// AccountPoller polls the account-manager listing on a timer, honoring the
// provider's rate limits. Cycles run strictly one at a time; a 429 pushes
// the next cycle out exponentially (respecting Retry-After) with jitter,
// while any other failure retries at the base interval.
type AccountPoller struct {
	accounts   adapter.Provisioner
	store      SnapshotStore
	interval   time.Duration
	maxBackoff time.Duration
	log        *zerolog.Logger
	rand       *rand.Rand

	mu       sync.RWMutex
	snapshot Snapshot
	count429 int

	cancel context.CancelFunc
	done   chan struct{}
}

func NewAccountPoller(accounts adapter.Provisioner, store SnapshotStore, cfg config.PollerConfig, logger *zerolog.Logger) *AccountPoller {
	pLog := logger.With().Str("component", "AccountPoller").Logger()
	return &AccountPoller{
		accounts:   accounts,
		store:      store,
		interval:   cfg.Interval,
		maxBackoff: cfg.MaxBackoff,
		log:        &pLog,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
		done:       make(chan struct{}),
	}
}

// Start begins polling in a background goroutine.
func (p *AccountPoller) Start(parentCtx context.Context) {
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	p.cancel = cancel
	go p.loop(ctx)
}

// Stop halts scheduling of further cycles. An in-flight fetch runs to
// completion and its result is still published.
func (p *AccountPoller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Snapshot returns the last published snapshot without blocking.
func (p *AccountPoller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// seedFromStore publishes a snapshot cached by a previous run so reads have
// data before the first poll completes. A snapshot from a live poll always
// wins over the cached one.
func (p *AccountPoller) seedFromStore(ctx context.Context) {
	if p.store == nil {
		return
	}
	takenAt, accounts, err := p.store.Load(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("snapshot cache read failed")
		return
	}
	if takenAt.IsZero() {
		return
	}
	p.mu.Lock()
	seeded := p.snapshot.TakenAt.IsZero()
	if seeded {
		p.snapshot = Snapshot{TakenAt: takenAt, Accounts: accounts}
	}
	p.mu.Unlock()
	if seeded {
		metrics.SetPollerSnapshotSize(len(accounts))
		p.log.Info().Time("taken_at", takenAt).Int("accounts", len(accounts)).Msg("seeded snapshot from cache")
	}
}

func (p *AccountPoller) loop(ctx context.Context) {
	defer close(p.done)
	p.log.Info().Dur("interval", p.interval).Msg("starting account poller")
	p.seedFromStore(ctx)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("stopping account poller")
			return
		case <-timer.C:
			delay := p.cycle(ctx)
			metrics.SetPollerBackoff(delay.Seconds())
			timer.Reset(delay)
		}
	}
}

// cycle fetches once and returns the delay before the next cycle.
func (p *AccountPoller) cycle(ctx context.Context) time.Duration {
	accounts, err := p.accounts.ListAccounts(ctx)
	if err != nil {
		var rle *adapter.RateLimitedError
		if errors.As(err, &rle) {
			p.mu.Lock()
			p.count429++
			n := p.count429
			p.mu.Unlock()
			delay := p.nextBackoff(n, rle.RetryAfter)
			metrics.IncPollerCycle("rate_limited")
			p.log.Warn().Int("consecutive_429", n).Dur("delay", delay).Msg("account manager rate limited")
			return delay
		}
		// Non-429 failures do not feed the backoff schedule.
		p.mu.Lock()
		p.count429 = 0
		p.mu.Unlock()
		metrics.IncPollerCycle("error")
		p.log.Warn().Err(err).Msg("account poll failed")
		return p.interval
	}

	p.mu.Lock()
	p.count429 = 0
	p.snapshot = Snapshot{TakenAt: time.Now(), Accounts: accounts}
	p.mu.Unlock()

	metrics.IncPollerCycle("ok")
	metrics.SetPollerSnapshotSize(len(accounts))
	if p.store != nil {
		if err := p.store.Store(ctx, time.Now(), accounts); err != nil {
			p.log.Warn().Err(err).Msg("snapshot cache write failed")
		}
	}
	return p.interval
}

// nextBackoff computes min(maxBackoff, max(retryAfter, interval*2^n) + jitter)
// with jitter drawn from [0, interval/2).
func (p *AccountPoller) nextBackoff(consecutive429 int, retryAfter time.Duration) time.Duration {
	base := p.interval
	for i := 0; i < consecutive429 && base < p.maxBackoff; i++ {
		base *= 2
	}
	if retryAfter > base {
		base = retryAfter
	}
	jitter := time.Duration(p.rand.Int63n(int64(p.interval)/2 + 1))
	delay := base + jitter
	if delay > p.maxBackoff {
		delay = p.maxBackoff
	}
	return delay
}
