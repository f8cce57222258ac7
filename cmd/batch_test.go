package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/pipeline"
)

func TestParseBatchManifest(t *testing.T) {
	t.Parallel()

	input := `
# comment line
apple.com testdata/apple.html

acme.co.uk dumps/acme.html
`
	items, err := parseBatchManifest(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, batchItem{Domain: "apple.com", HTMLPath: "testdata/apple.html"}, items[0])
	assert.Equal(t, batchItem{Domain: "acme.co.uk", HTMLPath: "dumps/acme.html"}, items[1])
}

func TestParseBatchManifestMalformed(t *testing.T) {
	t.Parallel()

	_, err := parseBatchManifest(strings.NewReader("apple.com\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestProcessBatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"a.html", "b.html", "c.html"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("<html></html>"), 0o644))
	}

	items := []batchItem{
		{Domain: "a.com", HTMLPath: filepath.Join(dir, "a.html")},
		{Domain: "b.com", HTMLPath: filepath.Join(dir, "b.html")},
		{Domain: "c.com", HTMLPath: filepath.Join(dir, "c.html")},
		{Domain: "missing.com", HTMLPath: filepath.Join(dir, "nope.html")},
	}

	var mu sync.Mutex
	var seen []string
	resolve := func(_ context.Context, req pipeline.Request) (*model.ProcessingResult, error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, req.Domain)
		if req.Domain == "b.com" {
			return nil, pipeline.ErrNoClaims
		}
		return &model.ProcessingResult{Status: model.StatusCompleted}, nil
	}

	err := processBatch(context.Background(), items, 0, 2, resolve)
	require.NoError(t, err)

	// The unreadable dump never reaches the resolver.
	assert.ElementsMatch(t, []string{"a.com", "b.com", "c.com"}, seen)
}

func TestProcessBatchLimit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "x.html")
	require.NoError(t, os.WriteFile(path, []byte("<html></html>"), 0o644))

	items := []batchItem{
		{Domain: "a.com", HTMLPath: path},
		{Domain: "b.com", HTMLPath: path},
		{Domain: "c.com", HTMLPath: path},
	}

	var mu sync.Mutex
	count := 0
	resolve := func(_ context.Context, _ pipeline.Request) (*model.ProcessingResult, error) {
		mu.Lock()
		defer mu.Unlock()
		count++
		return &model.ProcessingResult{Status: model.StatusCompleted}, nil
	}

	require.NoError(t, processBatch(context.Background(), items, 2, 1, resolve))
	assert.Equal(t, 2, count)
}

func TestProcessBatchEmpty(t *testing.T) {
	t.Parallel()

	called := false
	err := processBatch(context.Background(), nil, 0, 4,
		func(_ context.Context, _ pipeline.Request) (*model.ProcessingResult, error) {
			called = true
			return nil, nil
		})
	require.NoError(t, err)
	assert.False(t, called)
}
