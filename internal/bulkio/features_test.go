package bulkio

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIOQueueSerializesCriticalTasks(t *testing.T) {
	q := NewIOQueue()
	var inFlight int32
	var maxInFlight int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Submit(context.Background(), TaskCritical, func() error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					cur := atomic.LoadInt32(&maxInFlight)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
						break
					}
				}
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxInFlight)
}

func TestIOQueueReadTasksBypassTheLane(t *testing.T) {
	q := NewIOQueue()
	ran := false
	err := q.Submit(context.Background(), TaskRead, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestSelectorFillPacksFirstShardWithRoom(t *testing.T) {
	path1, cleanup1 := tempFile(t)
	defer cleanup1()
	path2, cleanup2 := tempFile(t)
	defer cleanup2()

	pub, _ := genTestKeyPair(t)
	s1, err := Create(path1, pub)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := Create(path2, pub)
	require.NoError(t, err)
	defer s2.Close()

	_, err = s1.Add(strings.NewReader(strings.Repeat("x", 4096)))
	require.NoError(t, err)

	sel := NewSelector([]*BulkStorage{s1, s2}, 0.000002, PolicyFill)
	picked, err := sel.Select()
	require.NoError(t, err)
	require.Same(t, s2, picked)
}

func TestSelectorSpreadRoundRobins(t *testing.T) {
	path1, cleanup1 := tempFile(t)
	defer cleanup1()
	path2, cleanup2 := tempFile(t)
	defer cleanup2()

	pub, _ := genTestKeyPair(t)
	s1, err := Create(path1, pub)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := Create(path2, pub)
	require.NoError(t, err)
	defer s2.Close()

	sel := NewSelector([]*BulkStorage{s1, s2}, 10, PolicySpread)

	first, err := sel.Select()
	require.NoError(t, err)
	second, err := sel.Select()
	require.NoError(t, err)
	require.NotSame(t, first, second)
}

func TestSelectorCapacityReporting(t *testing.T) {
	path, cleanup := tempFile(t)
	defer cleanup()

	pub, _ := genTestKeyPair(t)
	s, err := Create(path, pub)
	require.NoError(t, err)
	defer s.Close()

	sel := NewSelector([]*BulkStorage{s}, 1, PolicyFill)
	lines, err := sel.Capacity()
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "shard 0")
}
