package podagg

import (
	"testing"
	"time"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/capacity"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/labels"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/ocperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1 — pod aggregation basic: 24 hourly rows, one pod in namespace
// "frontend" using 3600 core-seconds/hour against a node reporting full
// day capacity.
func TestPodAggregationBasic(t *testing.T) {
	var capRows []model.PodLineItem
	var podRows []model.PodLineItem
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for h := 0; h < 24; h++ {
		interval := day.Add(time.Duration(h) * time.Hour)
		row := model.PodLineItem{
			IntervalStart:                 interval,
			Source:                        "prov-1",
			Namespace:                      "frontend",
			Node:                           "node-a",
			Pod:                            "web-0",
			ResourceID:                     "i-0123",
			UsageCPUCoreSeconds:            3600,
			NodeCapacityCPUCoreSeconds:     86400,
			NodeCapacityMemoryByteSeconds:  86400,
			NodeCapacityCPUCores:           24,
		}
		podRows = append(podRows, row)
		capRows = append(capRows, row)
	}

	nodeDaily, clusterDaily := capacity.Compute(capRows)
	idx := capacity.NewIndex(nodeDaily, clusterDaily)

	audit := ocperrors.NewSliceSink()
	allow := labels.NewAllowSet(nil)

	out := Aggregate(podRows, Inputs{
		Allow:          allow,
		Capacity:       idx,
		Audit:          audit,
		ClusterID:      "cluster-1",
		ClusterAlias:   "prod",
		ReportPeriodID: 7,
	})

	require.Len(t, out, 1)
	row := out[0]
	assert.Equal(t, 24.0, row.PodUsageCPUCoreHours)
	assert.Equal(t, 576.0, row.NodeCapacityCPUCoreHours)
	assert.Equal(t, 576.0, row.ClusterCapacityCPUCoreHours)
	assert.Equal(t, "{}", row.PodLabels)
	assert.Equal(t, model.DataSourcePod, row.DataSource)
	assert.Equal(t, "frontend", row.Namespace)
	assert.Equal(t, "node-a", row.Node)
	assert.Equal(t, "01", row.Month)
	assert.Equal(t, 0, audit.Count())
}

// Right-biased label precedence (P1): pod labels win over namespace labels,
// which win over node labels.
func TestLabelPrecedencePodWins(t *testing.T) {
	nodeLabels := map[nodeDayKey]labels.Map{
		{day: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), node: "node-a"}: {"tier": "node-tier", "zone": "z1"},
	}
	nsLabels := map[nsDayKey]labels.Map{
		{day: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ns: "frontend"}: {"tier": "ns-tier"},
	}

	row := model.PodLineItem{
		IntervalStart: time.Date(2026, 1, 1, 5, 0, 0, 0, time.UTC),
		Namespace:     "frontend",
		Node:          "node-a",
		Pod:           "web-0",
		PodLabelsJSON: `{"tier":"pod-tier"}`,
	}

	out := Aggregate([]model.PodLineItem{row}, Inputs{
		NodeLabels:      nodeLabels,
		NamespaceLabels: nsLabels,
		Allow:           labels.NewAllowSet([]string{"tier"}),
	})

	require.Len(t, out, 1)
	assert.JSONEq(t, `{"tier":"pod-tier","zone":"z1"}`, out[0].PodLabels)
}

func TestNodelessRowsExcluded(t *testing.T) {
	row := model.PodLineItem{IntervalStart: time.Now(), Namespace: "frontend", Node: ""}
	out := Aggregate([]model.PodLineItem{row}, Inputs{})
	assert.Empty(t, out)
}

func TestEffectiveUsagePrefersOverrideThenGreatest(t *testing.T) {
	override := 42.0
	row := model.PodLineItem{
		IntervalStart:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Namespace:               "frontend",
		Node:                    "node-a",
		Pod:                     "web-0",
		UsageCPUCoreSeconds:     10,
		RequestCPUCoreSeconds:   20,
		EffectiveCPUCoreSeconds: &override,
	}
	out := Aggregate([]model.PodLineItem{row}, Inputs{})
	require.Len(t, out, 1)
	assert.Equal(t, 42.0/3600.0, out[0].PodEffectiveUsageCPUHours)

	row2 := model.PodLineItem{
		IntervalStart:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Namespace:             "frontend",
		Node:                  "node-a",
		Pod:                   "web-1",
		UsageCPUCoreSeconds:   10,
		RequestCPUCoreSeconds: 20,
	}
	out2 := Aggregate([]model.PodLineItem{row2}, Inputs{})
	require.Len(t, out2, 1)
	assert.Equal(t, 20.0/3600.0, out2[0].PodEffectiveUsageCPUHours)
}
