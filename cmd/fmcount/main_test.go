package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeInput(t *testing.T, distinct, repeat int) string {
	var b strings.Builder
	for r := 0; r < repeat; r++ {
		for i := 0; i < distinct; i++ {
			fmt.Fprintf(&b, "user-%d\n", i)
		}
	}
	path := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func TestRunExact(t *testing.T) {
	input := writeInput(t, 1000, 3)
	var out bytes.Buffer
	cfg := config{workers: 4, hasher: "md5", files: []string{input}}
	require.NoError(t, run(context.Background(), cfg, zap.NewNop().Sugar(), &out))
	assert.Equal(t, "distinct: 1000 (exact mode)\n", out.String())
}

func TestRunSQLiteRoundTrip(t *testing.T) {
	input := writeInput(t, 30000, 2)
	var out bytes.Buffer
	cfg := config{
		workers: 3,
		hasher:  "murmur3",
		dbPath:  filepath.Join(t.TempDir(), "partials.sqlite"),
		files:   []string{input},
	}
	require.NoError(t, run(context.Background(), cfg, zap.NewNop().Sugar(), &out))
	assert.Contains(t, out.String(), "(sketch mode)")

	var direct bytes.Buffer
	cfg.dbPath = ""
	require.NoError(t, run(context.Background(), cfg, zap.NewNop().Sugar(), &direct))
	assert.Equal(t, direct.String(), out.String(), "round trip should not change the result")
}

func TestRunRedisRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	input := writeInput(t, 500, 2)
	var out bytes.Buffer
	cfg := config{workers: 2, hasher: "metro", redisURI: "redis://" + mr.Addr(), files: []string{input}}
	require.NoError(t, run(context.Background(), cfg, zap.NewNop().Sugar(), &out))
	assert.Equal(t, "distinct: 500 (exact mode)\n", out.String())
	assert.Empty(t, mr.Keys(), "partials should be removed after the merge")
}

func TestRunErrors(t *testing.T) {
	var out bytes.Buffer
	cfg := config{workers: 1, hasher: "sha1"}
	assert.Error(t, run(context.Background(), cfg, zap.NewNop().Sugar(), &out))

	cfg = config{workers: 1, hasher: "md5", files: []string{filepath.Join(t.TempDir(), "missing")}}
	assert.Error(t, run(context.Background(), cfg, zap.NewNop().Sugar(), &out))
}
