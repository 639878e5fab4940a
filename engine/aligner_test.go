package engine

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAligner(maxLag int64, timeout time.Duration) *BatchAligner {
	return NewBatchAligner(AlignerConfig{
		Sensors:      []SensorID{0, 1, 2},
		MaxLag:       maxLag,
		BatchTimeout: timeout,
	})
}

func TestAlignerReleasesCompleteTimestep(t *testing.T) {
	a := newTestAligner(5, 0)

	out, err := a.Add(SensorReading{SensorID: 1, Timestamp: 10, Value: 1})
	require.NoError(t, err)
	assert.Empty(t, out)
	out, err = a.Add(SensorReading{SensorID: 0, Timestamp: 10, Value: 0})
	require.NoError(t, err)
	assert.Empty(t, out)
	out, err = a.Add(SensorReading{SensorID: 2, Timestamp: 10, Value: 2})
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, int64(10), out[0].Timestamp)
	assert.Len(t, out[0].Samples, 3)
	assert.Zero(t, a.Pending())
}

func TestAlignerReleasesOnLag(t *testing.T) {
	a := newTestAligner(5, 0)

	_, err := a.Add(SensorReading{SensorID: 0, Timestamp: 10, Value: 1})
	require.NoError(t, err)
	_, err = a.Add(SensorReading{SensorID: 0, Timestamp: 12, Value: 1})
	require.NoError(t, err)

	out, err := a.Add(SensorReading{SensorID: 1, Timestamp: 15, Value: 1})
	require.NoError(t, err)
	assert.Empty(t, out, "lag of exactly MaxLag keeps the timestep open")

	out, err = a.Add(SensorReading{SensorID: 1, Timestamp: 16, Value: 1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(10), out[0].Timestamp)

	out, err = a.Add(SensorReading{SensorID: 1, Timestamp: 18, Value: 1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(12), out[0].Timestamp)
}

func TestAlignerRejectsLateAndDuplicate(t *testing.T) {
	a := newTestAligner(0, 0)

	_, err := a.Add(SensorReading{SensorID: 0, Timestamp: 1})
	require.NoError(t, err)
	_, err = a.Add(SensorReading{SensorID: 0, Timestamp: 1})
	assert.True(t, errors.Is(err, ErrDuplicateReading))

	out, err := a.Add(SensorReading{SensorID: 0, Timestamp: 2})
	require.NoError(t, err)
	require.Len(t, out, 1)

	_, err = a.Add(SensorReading{SensorID: 1, Timestamp: 1})
	assert.True(t, errors.Is(err, ErrLateReading))

	stats := a.GetStats()
	assert.Equal(t, int64(1), stats.Late)
	assert.Equal(t, int64(1), stats.Duplicates)
	assert.Equal(t, int64(1), stats.Emitted)
	assert.Equal(t, 1, stats.Pending)
}

func TestAlignerExpire(t *testing.T) {
	a := newTestAligner(100, time.Second)
	base := time.Unix(1000, 0)
	a.now = func() time.Time { return base }

	_, err := a.Add(SensorReading{SensorID: 0, Timestamp: 1})
	require.NoError(t, err)
	a.now = func() time.Time { return base.Add(800 * time.Millisecond) }
	_, err = a.Add(SensorReading{SensorID: 0, Timestamp: 2})
	require.NoError(t, err)

	assert.Empty(t, a.Expire(base.Add(900*time.Millisecond)))

	out := a.Expire(base.Add(1500 * time.Millisecond))
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), out[0].Timestamp)

	out = a.Expire(base.Add(2 * time.Second))
	require.Len(t, out, 1)
	assert.Equal(t, int64(2), out[0].Timestamp)
}

func TestAlignerExpireDisabled(t *testing.T) {
	a := newTestAligner(100, 0)
	_, _ = a.Add(SensorReading{SensorID: 0, Timestamp: 1})
	assert.Nil(t, a.Expire(time.Now().Add(time.Hour)))
}

func TestAlignerFlushIsOrdered(t *testing.T) {
	a := newTestAligner(1000, 0)
	for _, ts := range []int64{30, 10, 20} {
		_, err := a.Add(SensorReading{SensorID: 0, Timestamp: ts})
		require.NoError(t, err)
	}

	out := a.Flush()
	require.Len(t, out, 3)
	assert.Equal(t, int64(10), out[0].Timestamp)
	assert.Equal(t, int64(20), out[1].Timestamp)
	assert.Equal(t, int64(30), out[2].Timestamp)
	assert.Nil(t, a.Flush())
}

func TestAlignerConcurrentSources(t *testing.T) {
	a := newTestAligner(1000, 0)

	var mu sync.Mutex
	var released []Batch
	var wg sync.WaitGroup
	for id := 0; id < 3; id++ {
		wg.Add(1)
		go func(id SensorID) {
			defer wg.Done()
			for ts := int64(0); ts < 100; ts++ {
				out, err := a.Add(SensorReading{SensorID: id, Timestamp: ts, Value: float64(ts)})
				assert.NoError(t, err)
				mu.Lock()
				released = append(released, out...)
				mu.Unlock()
			}
		}(SensorID(id))
	}
	wg.Wait()
	released = append(released, a.Flush()...)
	sort.Slice(released, func(i, j int) bool { return released[i].Timestamp < released[j].Timestamp })

	require.Len(t, released, 100)
	for i, b := range released {
		assert.Equal(t, int64(i), b.Timestamp)
		assert.Len(t, b.Samples, 3)
	}
}
