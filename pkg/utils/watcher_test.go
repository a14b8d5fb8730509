package utils

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputWatcher(t *testing.T) {
	dir := t.TempDir()
	isCSV := func(name string) bool { return strings.HasSuffix(name, ".csv") }

	w, err := NewInputWatcher(dir, isCSV, 50*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.csv"), []byte("x"), 0o600))
	want := filepath.Join(dir, "payments.csv")
	require.NoError(t, os.WriteFile(want, []byte("a;b\n1;2\n"), 0o600))

	select {
	case got := <-w.Files():
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no file reported")
	}

	select {
	case got := <-w.Files():
		t.Fatalf("unexpected file %s", got)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, w.Close())
	for range w.Files() {
	}
}
