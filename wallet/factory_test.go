package wallet

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmesh/multitoken/logger"
)

func testLogger() logger.Logger {
	return logger.NewZerologLogger(&logger.Config{
		Level:       logger.ErrorLevel,
		Format:      logger.JSONFormat,
		Outputs:     []io.Writer{io.Discard},
		Environment: "production",
	})
}

func TestNewStore_Inmem(t *testing.T) {
	store, err := NewStore(context.Background(), map[string]string{"type": "inmem"}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &InmemStore{}, store)
}

func TestNewStore_File(t *testing.T) {
	conf := map[string]string{
		"type": "file",
		"path": t.TempDir(),
	}
	store, err := NewStore(context.Background(), conf, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)
}

func TestNewStore_FileWithoutPath(t *testing.T) {
	_, err := NewStore(context.Background(), map[string]string{"type": "file"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path")
}

func TestNewStore_UnknownType(t *testing.T) {
	_, err := NewStore(context.Background(), map[string]string{"type": "etcd"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage type")
}
