package wallet

import (
	"context"
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/walletmesh/multitoken/logger"
)

// Factory is the factory function to create a wallet store from a
// storage configuration block.
type Factory func(ctx context.Context, conf map[string]string, log logger.Logger) (Store, error)

// builtinStores maps storage types to their factories. This is the
// closed set of backends; there is no runtime class loading.
var builtinStores = map[string]Factory{
	"inmem":    newInmemFromConfig,
	"file":     newFileFromConfig,
	"postgres": newPostgresFromConfig,
}

// NewStore builds the wallet store selected by conf["type"]
func NewStore(ctx context.Context, conf map[string]string, log logger.Logger) (Store, error) {
	storeType := conf["type"]
	factory, ok := builtinStores[storeType]
	if !ok {
		return nil, fmt.Errorf("unknown storage type %q", storeType)
	}

	store, err := factory(ctx, conf, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s store: %w", storeType, err)
	}

	log.Info("wallet store created", logger.String("type", storeType))
	return store, nil
}

func newInmemFromConfig(ctx context.Context, conf map[string]string, log logger.Logger) (Store, error) {
	return NewInmemStore(), nil
}

func newFileFromConfig(ctx context.Context, conf map[string]string, log logger.Logger) (Store, error) {
	var fileConf FileStoreConfig
	if err := decodeConfig(conf, &fileConf); err != nil {
		return nil, err
	}
	return NewFileStore(fileConf)
}

func newPostgresFromConfig(ctx context.Context, conf map[string]string, log logger.Logger) (Store, error) {
	var pgConf PostgresStoreConfig
	if err := decodeConfig(conf, &pgConf); err != nil {
		return nil, err
	}
	return NewPostgresStore(ctx, pgConf)
}

// decodeConfig decodes the string config map into a typed backend
// config, converting numerics and booleans along the way
func decodeConfig(conf map[string]string, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(conf); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}
	return nil
}
