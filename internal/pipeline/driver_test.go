package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepsDailyGranularity(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC)
	steps := Steps(start, end, 0)
	assert.Len(t, steps, 3)
	assert.Equal(t, start, steps[0].Day)
}

func TestStepsDaysFilterRestrictsToRecentWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC)
	steps := Steps(start, end, 3)
	require := assert.New(t)
	require.Len(steps, 3)
	require.Equal(time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC), steps[0].Day)
}

func TestStepsDaysFilterNeverExtendsBeforeReportStart(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	steps := Steps(start, end, 30)
	assert.Len(t, steps, 2)
	assert.Equal(t, start, steps[0].Day)
}
