package multitenant

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/walletmesh/multitoken/config"
	"github.com/walletmesh/multitoken/logger"
	"github.com/walletmesh/multitoken/wallet"
)

// Manager kinds. This is the closed set of implementations the
// configuration can select; there is no runtime class loading.
const (
	ManagerKindBasic  = "basic"
	ManagerKindCached = "cached"
)

// sweeperAttacher is implemented by every manager kind so the provider
// can tie a sweeper's lifecycle to the manager's
type sweeperAttacher interface {
	setSweeper(*Sweeper)
}

// NewManager builds the configured manager kind with its wallet store
// and, unless disabled, a background expiry sweeper. The returned
// manager owns the store: Close shuts both down.
func NewManager(ctx context.Context, cfg *config.Config, resolver ProfileResolver, log logger.Logger) (Manager, error) {
	ttl, err := cfg.GetTokenTTL()
	if err != nil {
		return nil, err
	}
	sweepInterval, err := cfg.GetSweepInterval()
	if err != nil {
		return nil, err
	}

	storageConf := map[string]string{"type": "inmem"}
	if cfg.Storage != nil {
		storageConf = cfg.Storage.Config()
	}
	store, err := wallet.NewStore(ctx, storageConf, log.WithSubsystem("storage"))
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		result := multierror.Append(fmt.Errorf("failed to initialize wallet store: %w", err))
		if stopErr := store.Stop(); stopErr != nil {
			result = multierror.Append(result, stopErr)
		}
		return nil, result.ErrorOrNil()
	}

	managerConf := ManagerConfig{
		SigningSecret: cfg.SigningSecret,
		TokenTTL:      ttl,
	}

	kind := cfg.Manager
	if kind == "" {
		kind = ManagerKindBasic
	}

	var mgr Manager
	switch kind {
	case ManagerKindBasic:
		mgr, err = NewBasicManager(managerConf, store, resolver, log.WithSubsystem("multitenant"))
	case ManagerKindCached:
		mgr, err = NewCachedManager(managerConf, nil, store, resolver, log.WithSubsystem("multitenant"))
	default:
		err = fmt.Errorf("unknown manager kind %q", kind)
	}
	if err != nil {
		result := multierror.Append(err)
		if stopErr := store.Stop(); stopErr != nil {
			result = multierror.Append(result, stopErr)
		}
		return nil, result.ErrorOrNil()
	}

	if sweepInterval > 0 {
		sweeper := NewSweeper(store, sweepInterval, nil, log.WithSubsystem("sweeper"))
		mgr.(sweeperAttacher).setSweeper(sweeper)
		sweeper.Start()
	}

	log.Info("multitenant manager created",
		logger.String("kind", kind),
		logger.Duration("token_ttl", ttl),
		logger.Duration("sweep_interval", sweepInterval),
	)
	return mgr, nil
}
