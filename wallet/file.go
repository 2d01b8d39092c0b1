package wallet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Verify interface is satisfied
var _ Store = (*FileStore)(nil)

const fileStoreExt = ".json"

// storedRecord is the versioned on-disk format for wallet records
type storedRecord struct {
	Record    *Record   `json:"record"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileStore persists one JSON document per wallet under a root
// directory. Writes are atomic (temp file + rename) and serialized by a
// process-wide lock, which also arbitrates the version check. Suitable
// for single-process deployments.
type FileStore struct {
	mu     sync.Mutex
	path   string
	closed bool
}

// FileStoreConfig configures a FileStore
type FileStoreConfig struct {
	// Path is the directory that holds the record files. Created on Init
	// if it does not exist.
	Path string `mapstructure:"path"`
}

func NewFileStore(conf FileStoreConfig) (*FileStore, error) {
	if conf.Path == "" {
		return nil, fmt.Errorf("file store requires a path")
	}
	return &FileStore{path: conf.Path}, nil
}

func (s *FileStore) Init(ctx context.Context) error {
	return os.MkdirAll(s.path, 0o700)
}

func (s *FileStore) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// filename encodes the wallet ID so that arbitrary IDs map to safe path
// components
func (s *FileStore) filename(walletID string) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(walletID))
	return filepath.Join(s.path, encoded+fileStoreExt)
}

func (s *FileStore) Get(ctx context.Context, walletID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	return s.read(walletID)
}

// read loads a record without taking the lock; callers hold it
func (s *FileStore) read(walletID string) (*Record, error) {
	data, err := os.ReadFile(s.filename(walletID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to read wallet record: %w", err)
	}

	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wallet record: %w", err)
	}
	if stored.Record == nil {
		return nil, fmt.Errorf("wallet record file %q has no record", walletID)
	}
	return stored.Record, nil
}

func (s *FileStore) Put(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var current uint64
	existing, err := s.read(record.WalletID)
	switch {
	case err == nil:
		current = existing.Version
	case err == ErrWalletNotFound:
		current = 0
	default:
		return err
	}
	if record.Version != current {
		return ErrVersionConflict
	}

	record.Version++
	stored := storedRecord{
		Record:    record,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		record.Version--
		return fmt.Errorf("failed to marshal wallet record: %w", err)
	}

	if err := s.writeAtomic(s.filename(record.WalletID), data); err != nil {
		record.Version--
		return err
	}
	return nil
}

// writeAtomic writes via a temp file in the same directory followed by a
// rename, so readers never observe a partial record
func (s *FileStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.path, ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write wallet record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync wallet record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename wallet record: %w", err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet records: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileStoreExt) {
			continue
		}
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, fileStoreExt))
		if err != nil {
			continue
		}
		ids = append(ids, string(decoded))
	}
	return ids, nil
}
