package idgen

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSequential(t *testing.T) {
	g := NewSequential("")
	require.Equal(t, "cmd-001", g.NewID())
	require.Equal(t, "cmd-002", g.NewID())

	h := NewSequential("job")
	require.Equal(t, "job-001", h.NewID())
}

func TestUUIDModesHaveExpectedVersion(t *testing.T) {
	cases := map[Mode]uuid.Version{
		V1: 1, V3: 3, V4: 4, V5: 5, V6: 6, V7: 7, V8: 8,
	}
	for mode, version := range cases {
		t.Run(string(mode), func(t *testing.T) {
			g, err := New(Config{Mode: mode})
			require.NoError(t, err)

			a, b := g.NewID(), g.NewID()
			require.NotEqual(t, a, b)

			u, err := uuid.Parse(a)
			require.NoError(t, err)
			require.Equal(t, version, u.Version())
			require.Equal(t, uuid.RFC4122, u.Variant())
		})
	}
}

func TestV8SharesHostFingerprint(t *testing.T) {
	g, err := New(Config{Mode: V8})
	require.NoError(t, err)

	now := time.Now()
	a, b := g.traceable(now), g.traceable(now)
	require.Equal(t, a[0:6], b[0:6])
	require.NotEqual(t, a, b)
}

func TestParseMode(t *testing.T) {
	m, err := ParseModeStrict(" V7 ")
	require.NoError(t, err)
	require.Equal(t, V7, m)

	m, err = ParseModeStrict("")
	require.NoError(t, err)
	require.Equal(t, V4, m)

	_, err = ParseModeStrict("v42")
	require.ErrorIs(t, err, ErrUnknownMode)
	require.Equal(t, V4, ParseMode("v42"))

	_, err = New(Config{Mode: V5, Namespace: "not-a-uuid"})
	require.Error(t, err)
}

func TestConcurrentSequentialIDsAreUnique(t *testing.T) {
	g := NewSequential("c")
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := g.NewID()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, 100)
}
