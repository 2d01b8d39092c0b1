package multitenant

import (
	"context"
	"errors"
	"time"

	"github.com/walletmesh/multitoken/logger"
	"github.com/walletmesh/multitoken/wallet"
)

// Sweeper periodically scans wallet records and prunes issuance entries
// whose expiry has passed, reclaiming storage for tokens that were
// never re-presented after expiring. Validation already cleans up
// lazily; the sweeper covers tokens nobody validates again.
//
// Sweeping is best-effort. A record that is mutated concurrently is
// retried on the next pass rather than fought over.
type Sweeper struct {
	store    wallet.Store
	clock    func() time.Time
	interval time.Duration
	logger   logger.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
}

func NewSweeper(store wallet.Store, interval time.Duration, clock func() time.Time, log logger.Logger) *Sweeper {
	if clock == nil {
		clock = time.Now
	}
	return &Sweeper{
		store:    store,
		clock:    clock,
		interval: interval,
		logger:   log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop in a background goroutine
func (s *Sweeper) Start() {
	s.started = true
	go s.run()
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			pruned := s.Sweep(context.Background())
			if pruned > 0 {
				s.logger.Info("pruned expired issuances", logger.Int("count", pruned))
			}
		}
	}
}

// Stop terminates the sweep loop and waits for it to finish
func (s *Sweeper) Stop() {
	if !s.started {
		return
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
}

// Sweep runs one pass over all wallet records and returns the number of
// issuance entries pruned
func (s *Sweeper) Sweep(ctx context.Context) int {
	walletIDs, err := s.store.List(ctx)
	if err != nil {
		s.logger.Warn("failed to list wallet records for sweep", logger.Err(err))
		return 0
	}

	now := s.clock()
	pruned := 0
	for _, walletID := range walletIDs {
		n, err := s.sweepWallet(ctx, walletID, now)
		if err != nil {
			s.logger.Warn("failed to sweep wallet",
				logger.String("wallet_id", walletID),
				logger.Err(err),
			)
			continue
		}
		pruned += n
	}
	return pruned
}

func (s *Sweeper) sweepWallet(ctx context.Context, walletID string, now time.Time) (int, error) {
	record, err := s.store.Get(ctx, walletID)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			return 0, nil
		}
		return 0, err
	}

	removed := record.PruneExpired(now)
	if removed == 0 {
		return 0, nil
	}

	if err := s.store.Put(ctx, record); err != nil {
		if errors.Is(err, wallet.ErrVersionConflict) {
			// Lost the race with an issue or validate; next pass will
			// catch anything still expired.
			return 0, nil
		}
		return 0, err
	}
	return removed, nil
}
