package capacity

import (
	"math"
	"testing"
	"time"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourlyRow(hour int, node string, capSeconds float64) model.PodLineItem {
	return model.PodLineItem{
		IntervalStart:                time.Date(2026, 1, 1, hour, 0, 0, 0, time.UTC),
		Node:                         node,
		NodeCapacityCPUCoreSeconds:   capSeconds,
		NodeCapacityMemoryByteSeconds: capSeconds,
	}
}

// S2 — two pods on the same node each report the node's full capacity in
// the same hour; max, not sum, de-duplicates them.
func TestTwoLevelCapacityDedupesSiblingPods(t *testing.T) {
	var rows []model.PodLineItem
	for h := 0; h < 24; h++ {
		rows = append(rows, hourlyRow(h, "node-a", 3600))
		rows = append(rows, hourlyRow(h, "node-a", 3600)) // second pod, same node+hour
	}

	nodeDaily, clusterDaily := Compute(rows)
	require.Len(t, nodeDaily, 1)
	assert.Equal(t, 86400.0, nodeDaily[0].CPUCoreSeconds)
	require.Len(t, clusterDaily, 1)
	assert.Equal(t, 86400.0, clusterDaily[0].CPUCoreSeconds)
}

// S1 — single node, 24 hours of 86400s capacity each -> 576 daily hours.
func TestDailyCapacityHours(t *testing.T) {
	var rows []model.PodLineItem
	for h := 0; h < 24; h++ {
		rows = append(rows, hourlyRow(h, "node-a", 86400))
	}
	nodeDaily, clusterDaily := Compute(rows)
	require.Len(t, nodeDaily, 1)
	assert.Equal(t, 576.0, nodeDaily[0].CPUCoreHours())
	assert.Equal(t, 576.0, clusterDaily[0].CPUCoreHours())
}

func TestClusterCapacitySumsAcrossNodes(t *testing.T) {
	rows := []model.PodLineItem{
		hourlyRow(0, "node-a", 3600),
		hourlyRow(0, "node-b", 3600),
	}
	_, clusterDaily := Compute(rows)
	require.Len(t, clusterDaily, 1)
	assert.Equal(t, 7200.0, clusterDaily[0].CPUCoreSeconds)
}

func TestNegativeAndNonFiniteTreatedAsZero(t *testing.T) {
	rows := []model.PodLineItem{
		hourlyRow(0, "node-a", -100),
		hourlyRow(1, "node-a", math.Inf(1)), // overflows to +Inf at parse time in real readers
	}
	nodeDaily, _ := Compute(rows)
	require.Len(t, nodeDaily, 1)
	assert.Equal(t, 0.0, nodeDaily[0].CPUCoreSeconds)
}

// P3 — idempotence.
func TestIdempotent(t *testing.T) {
	rows := []model.PodLineItem{hourlyRow(0, "node-a", 3600), hourlyRow(1, "node-a", 3600)}
	n1, c1 := Compute(rows)
	n2, c2 := Compute(rows)
	assert.Equal(t, n1, n2)
	assert.Equal(t, c1, c2)
}

func TestEmptyNodeExcluded(t *testing.T) {
	rows := []model.PodLineItem{hourlyRow(0, "", 3600)}
	nodeDaily, clusterDaily := Compute(rows)
	assert.Empty(t, nodeDaily)
	assert.Empty(t, clusterDaily)
}
