package wallet

import (
	"context"
	"errors"
)

var (
	// ErrWalletNotFound is returned when no record exists for a wallet ID
	ErrWalletNotFound = errors.New("wallet record not found")

	// ErrVersionConflict is returned by Put when the record's version is
	// stale, i.e. another writer persisted the record since it was read.
	// Callers re-read and retry.
	ErrVersionConflict = errors.New("wallet record version conflict")

	// ErrStoreClosed is returned after Stop
	ErrStoreClosed = errors.New("wallet store is closed")
)

// Store persists wallet records with optimistic concurrency control.
// Per-wallet serialization of read-modify-write cycles is the store's
// responsibility: a Put only succeeds when the record's Version matches
// the stored version, and the stored version is bumped on every write.
type Store interface {
	// Get returns a copy of the record, or ErrWalletNotFound.
	Get(ctx context.Context, walletID string) (*Record, error)

	// Put persists the record. For a new record Version must be zero.
	// On success the record's Version is advanced; a stale version
	// fails with ErrVersionConflict and persists nothing.
	Put(ctx context.Context, record *Record) error

	// List returns all wallet IDs in the store.
	List(ctx context.Context) ([]string, error)

	Init(ctx context.Context) error
	Stop() error
}
