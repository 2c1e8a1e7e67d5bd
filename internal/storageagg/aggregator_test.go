package storageagg

import (
	"testing"
	"time"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/labels"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S3 — storage aggregation basic: one pod/PVC pair on day one of a 28-day
// February, 10 GiB capacity, half used all day.
func TestStorageAggregationBasic(t *testing.T) {
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	const gib = 1073741824.0

	podRows := []model.PodLineItem{
		{IntervalStart: day, Source: "prov-1", Namespace: "frontend", Node: "node-a", Pod: "web-0"},
	}
	storageRows := []model.StorageLineItem{
		{
			IntervalStart:             day,
			Source:                    "prov-1",
			Namespace:                 "frontend",
			Pod:                       "web-0",
			PersistentVolumeClaim:     "data-pvc",
			PersistentVolume:          "pv-0001",
			StorageClass:              "gp3",
			CapacityBytes:             10 * gib,
			UsageByteSeconds:          5 * gib * 86400,
			RequestStorageByteSeconds: 10 * gib * 86400,
		},
	}

	out := Aggregate(storageRows, Inputs{
		PodNodeIndex: BuildPodNodeIndex(podRows),
		Allow:        labels.NewAllowSet(nil),
	})

	require.Len(t, out, 1)
	row := out[0]
	assert.Equal(t, "node-a", row.Node)
	assert.Equal(t, model.DataSourceStorage, row.DataSource)
	assert.InDelta(t, 10.0, row.PersistentVolumeClaimCapacityGB, 1e-9)
	assert.InDelta(t, 10.0/28.0, row.PersistentVolumeClaimCapacityGBMonths, 1e-9)
	assert.InDelta(t, 5.0, row.PersistentVolumeClaimUsageGBMonths*28.0, 1e-6)
}

// spec.md §4.6 keeps storage rows that never join to a pod/node, with a
// NULL node, rather than dropping them.
func TestUnjoinedStorageRowKeptWithEmptyNode(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	storageRows := []model.StorageLineItem{
		{IntervalStart: day, Source: "prov-1", Namespace: "frontend", Pod: "orphan", PersistentVolume: "pv-orphan"},
	}
	out := Aggregate(storageRows, Inputs{PodNodeIndex: map[podNodeKey]string{}, Allow: labels.NewAllowSet(nil)})
	require.Len(t, out, 1)
	assert.Empty(t, out[0].Node)
	assert.Equal(t, "frontend", out[0].Namespace)
}

// S3/P10 — a PV mounted by pods on two distinct nodes on the same day must
// not have its usage double counted once split across those nodes' groups;
// each node's group should carry half the true total.
func TestSharedVolumeUsageScaledByNodeCount(t *testing.T) {
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	const gib = 1073741824.0

	podRows := []model.PodLineItem{
		{IntervalStart: day, Source: "prov-1", Namespace: "frontend", Node: "node-a", Pod: "web-0"},
		{IntervalStart: day, Source: "prov-1", Namespace: "frontend", Node: "node-b", Pod: "web-1"},
	}
	storageRows := []model.StorageLineItem{
		{
			IntervalStart: day, Source: "prov-1", Namespace: "frontend", Pod: "web-0",
			PersistentVolumeClaim: "shared-pvc", PersistentVolume: "shared-pv",
			CapacityBytes:             10 * gib,
			UsageByteSeconds:          20 * gib * 86400,
			RequestStorageByteSeconds: 20 * gib * 86400,
		},
		{
			IntervalStart: day, Source: "prov-1", Namespace: "frontend", Pod: "web-1",
			PersistentVolumeClaim: "shared-pvc", PersistentVolume: "shared-pv",
			CapacityBytes:             10 * gib,
			UsageByteSeconds:          20 * gib * 86400,
			RequestStorageByteSeconds: 20 * gib * 86400,
		},
	}

	out := Aggregate(storageRows, Inputs{
		PodNodeIndex: BuildPodNodeIndex(podRows),
		Allow:        labels.NewAllowSet(nil),
	})

	require.Len(t, out, 2)
	var total float64
	for _, row := range out {
		total += row.PersistentVolumeClaimUsageGBMonths
	}
	days := 30.0
	wantTotal := 20.0 / days
	assert.InDelta(t, wantTotal, total, 1e-6)
}

func TestLabelMergeOrderPVCWinsOverPV(t *testing.T) {
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	podRows := []model.PodLineItem{{IntervalStart: day, Source: "s", Namespace: "ns", Node: "n", Pod: "p"}}
	storageRows := []model.StorageLineItem{
		{
			IntervalStart: day, Source: "s", Namespace: "ns", Pod: "p",
			PersistentVolumeClaim: "pvc-1", PersistentVolume: "pv-1",
			PVLabelsJSON:  `{"tier":"pv-tier"}`,
			PVCLabelsJSON: `{"tier":"pvc-tier"}`,
		},
	}
	out := Aggregate(storageRows, Inputs{
		PodNodeIndex: BuildPodNodeIndex(podRows),
		Allow:        labels.NewAllowSet([]string{"tier"}),
	})
	require.Len(t, out, 1)
	assert.JSONEq(t, `{"tier":"pvc-tier"}`, out[0].PodLabels)
}
