package timeline

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screen-hr-sync/internal/models"
	"screen-hr-sync/internal/recording"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms float64) time.Time {
	return epoch.Add(time.Duration(ms * float64(time.Millisecond)))
}

func event(ms float64, hr float64) models.HeartRateEvent {
	return models.HeartRateEvent{DeviceName: "Polar Verity Sense", HeartRate: hr, ArrivedAt: at(ms)}
}

func TestSynchronize_Scenario(t *testing.T) {
	events := []models.HeartRateEvent{event(1500, 70), event(3500, 75)}

	got, err := Synchronize(at(1000), events)

	require.NoError(t, err)
	assert.Equal(t, []models.SyncedHeartRate{
		{OffsetMs: 500, Value: 70},
		{OffsetMs: 2500, Value: 75},
	}, got)
}

func TestSynchronize_ClampsEarlySamples(t *testing.T) {
	got, err := Synchronize(at(1000), []models.HeartRateEvent{event(400, 60), event(999.6, 61)})

	require.NoError(t, err)
	assert.Equal(t, int64(0), got[0].OffsetMs)
	assert.Equal(t, int64(0), got[1].OffsetMs)
}

func TestSynchronize_Rounds(t *testing.T) {
	got, err := Synchronize(at(1000), []models.HeartRateEvent{
		event(1000.4, 1),
		event(1000.5, 2),
		event(1001.49, 3),
	})

	require.NoError(t, err)
	assert.Equal(t, int64(0), got[0].OffsetMs)
	assert.Equal(t, int64(1), got[1].OffsetMs)
	assert.Equal(t, int64(1), got[2].OffsetMs, "duplicate offsets are legal")
}

func TestSynchronize_PreservesInputOrder(t *testing.T) {
	// Out-of-order arrival instants must not be re-sorted.
	got, err := Synchronize(at(0), []models.HeartRateEvent{event(300, 1), event(100, 2), event(200, 3)})

	require.NoError(t, err)
	assert.Equal(t, []int64{300, 100, 200}, []int64{got[0].OffsetMs, got[1].OffsetMs, got[2].OffsetMs})
}

func TestSynchronize_NoReference(t *testing.T) {
	_, err := Synchronize(time.Time{}, []models.HeartRateEvent{event(1, 1)})
	assert.ErrorIs(t, err, recording.ErrNoReferenceInstant)
}

func TestSynchronize_EmptyInput(t *testing.T) {
	got, err := Synchronize(at(0), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSynchronize_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	start := at(5000)

	for round := 0; round < 50; round++ {
		n := rng.Intn(30)
		events := make([]models.HeartRateEvent, n)
		for i := range events {
			events[i] = event(rng.Float64()*10000, float64(50+rng.Intn(100)))
		}

		got, err := Synchronize(start, events)
		require.NoError(t, err)
		require.Len(t, got, n)
		for i := range events {
			want := events[i].ArrivedAt.Sub(start).Round(time.Millisecond).Milliseconds()
			if want < 0 {
				want = 0
			}
			assert.Equal(t, want, got[i].OffsetMs)
			assert.Equal(t, events[i].HeartRate, got[i].Value)
		}
	}
}

func TestEarliestArrival(t *testing.T) {
	_, ok := EarliestArrival(nil)
	assert.False(t, ok)

	earliest, ok := EarliestArrival([]models.HeartRateEvent{event(300, 1), event(100, 2), event(200, 3)})
	require.True(t, ok)
	assert.Equal(t, at(100), earliest)
}
