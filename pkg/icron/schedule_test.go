package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo_EveryFiveMinutes(t *testing.T) {
	ref := time.Date(2026, 5, 4, 10, 7, 30, 0, time.UTC)

	info, err := GetTriggerInfo("*/5 * * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 4, 10, 10, 0, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2026, 5, 4, 10, 5, 0, 0, time.UTC), info.Last)
	assert.Equal(t, 150*time.Second, info.TimeSinceLast)
	assert.Equal(t, 150*time.Second, info.TimeUntilNext)
}

func TestGetTriggerInfo_Daily(t *testing.T) {
	ref := time.Date(2026, 5, 4, 1, 0, 0, 0, time.UTC)

	info, err := GetTriggerInfo("30 3 * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 4, 3, 30, 0, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2026, 5, 3, 3, 30, 0, 0, time.UTC), info.Last)
}

func TestGetTriggerInfo_Descriptor(t *testing.T) {
	ref := time.Date(2026, 5, 4, 1, 15, 0, 0, time.UTC)

	info, err := GetTriggerInfo("@hourly", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 4, 2, 0, 0, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2026, 5, 4, 1, 0, 0, 0, time.UTC), info.Last)
}

func TestGetTriggerInfo_Invalid(t *testing.T) {
	_, err := GetTriggerInfo("every five minutes", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")

	// six field expressions with seconds are not accepted
	_, err = GetTriggerInfo("0 */5 * * * *", time.Now())
	require.Error(t, err)
}
