package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "portfolio/state.json")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("create then update", func(t *testing.T) {
		s := newStore(t)

		v1, err := s.Put(ctx, "portfolio/state.json", []byte(`{"cash":"100"}`), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v1)

		v2, err := s.Put(ctx, "portfolio/state.json", []byte(`{"cash":"90"}`), v1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v2)

		obj, err := s.Get(ctx, "portfolio/state.json")
		require.NoError(t, err)
		assert.Equal(t, `{"cash":"90"}`, string(obj.Data))
		assert.Equal(t, int64(2), obj.Version)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Put(ctx, "k", []byte("a"), 0)
		require.NoError(t, err)
		_, err = s.Put(ctx, "k", []byte("b"), 1)
		require.NoError(t, err)

		_, err = s.Put(ctx, "k", []byte("c"), 1)
		assert.ErrorIs(t, err, ErrVersionConflict)

		_, err = s.Put(ctx, "k", []byte("d"), 0)
		assert.ErrorIs(t, err, ErrVersionConflict)

		obj, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "b", string(obj.Data))
	})

	t.Run("update of missing key conflicts", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Put(ctx, "nope", []byte("x"), 3)
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("list by prefix", func(t *testing.T) {
		s := newStore(t)
		for _, k := range []string{"traces/2", "traces/1", "orders/1/SBER.json", "traces_other"} {
			_, err := s.Put(ctx, k, []byte("{}"), 0)
			require.NoError(t, err)
		}

		keys, err := s.List(ctx, "traces/")
		require.NoError(t, err)
		assert.Equal(t, []string{"traces/1", "traces/2"}, keys)
	})

	t.Run("concurrent writers at same version", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Put(ctx, "k", []byte("base"), 0)
		require.NoError(t, err)

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Put(ctx, "k", []byte("next"), 1)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrVersionConflict):
					conflicts++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, writers-1, conflicts)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		db, err := NewDatabase(filepath.Join(t.TempDir(), "state.db"))
		require.NoError(t, err)
		s := NewSQLiteStore(db)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	data := []byte("abc")
	_, err := s.Put(ctx, "k", data, 0)
	require.NoError(t, err)
	data[0] = 'x'

	obj, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(obj.Data))
}

func TestKeyPrefix(t *testing.T) {
	assert.Equal(t, "prod/traces/1.json", joinKey("prod/", "traces/1.json"))
	assert.Equal(t, "traces/1.json", joinKey("", "traces/1.json"))
	assert.Equal(t, "traces/1.json", trimKey("prod", "prod/traces/1.json"))
}
