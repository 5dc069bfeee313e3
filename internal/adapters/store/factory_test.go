package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
)

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, Options{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, mem)

	lite, err := Open(ctx, Options{DSN: filepath.Join(t.TempDir(), "r.db")})
	require.NoError(t, err)
	defer lite.Close()
	assert.IsType(t, &SQLStore{}, lite)

	_, err = Open(ctx, Options{Driver: "mongo"})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}
