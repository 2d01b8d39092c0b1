package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Verify interface is satisfied
var _ Store = (*PostgresStore)(nil)

const defaultPostgresTable = "wallet_records"

// PostgresStore persists wallet records in a single table, one row per
// wallet, with the record serialized as JSONB. The version column backs
// the optimistic concurrency check: updates are conditional on the
// version the caller read, so concurrent read-modify-write cycles for
// the same wallet cannot lose updates.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// PostgresStoreConfig configures a PostgresStore
type PostgresStoreConfig struct {
	ConnectionURL   string `mapstructure:"connection_url"`
	Table           string `mapstructure:"table"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	SkipCreateTable bool   `mapstructure:"skip_create_table"`
}

func NewPostgresStore(ctx context.Context, conf PostgresStoreConfig) (*PostgresStore, error) {
	if conf.ConnectionURL == "" {
		return nil, fmt.Errorf("postgres store requires a connection_url")
	}
	if conf.Table == "" {
		conf.Table = defaultPostgresTable
	}

	poolCfg, err := pgxpool.ParseConfig(conf.ConnectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection_url: %w", err)
	}
	if conf.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(conf.MaxOpenConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	store := &PostgresStore{
		pool:  pool,
		table: conf.Table,
	}
	if !conf.SkipCreateTable {
		if err := store.createTable(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			wallet_id  TEXT PRIMARY KEY,
			version    BIGINT NOT NULL,
			record     JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) Init(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Stop() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, walletID string) (*Record, error) {
	query := fmt.Sprintf("SELECT record, version FROM %s WHERE wallet_id = $1", s.table)

	var data []byte
	var version int64
	err := s.pool.QueryRow(ctx, query, walletID).Scan(&data, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to read wallet record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wallet record: %w", err)
	}
	record.Version = uint64(version)
	return &record, nil
}

func (s *PostgresStore) Put(ctx context.Context, record *Record) error {
	next := record.Version + 1

	// The record column stores the post-write version so that a dump of
	// the table is self-consistent.
	clone := record.Clone()
	clone.Version = next
	data, err := json.Marshal(clone)
	if err != nil {
		return fmt.Errorf("failed to marshal wallet record: %w", err)
	}

	var tag interface{ RowsAffected() int64 }
	if record.Version == 0 {
		query := fmt.Sprintf(`
			INSERT INTO %s (wallet_id, version, record, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (wallet_id) DO NOTHING`, s.table)
		tag, err = s.pool.Exec(ctx, query, record.WalletID, int64(next), data)
	} else {
		query := fmt.Sprintf(`
			UPDATE %s SET version = $1, record = $2, updated_at = now()
			WHERE wallet_id = $3 AND version = $4`, s.table)
		tag, err = s.pool.Exec(ctx, query, int64(next), data, record.WalletID, int64(record.Version))
	}
	if err != nil {
		return fmt.Errorf("failed to write wallet record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	record.Version = next
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf("SELECT wallet_id FROM %s ORDER BY wallet_id", s.table)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan wallet id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
