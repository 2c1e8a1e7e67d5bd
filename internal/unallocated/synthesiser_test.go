package unallocated

import (
	"testing"
	"time"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/capacity"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S7 — a worker node has 576 core-hours of capacity and 100 core-hours of
// attributed pod usage; the residual 476 core-hours land in "Worker
// unallocated".
func TestResidualGoesToWorkerUnallocated(t *testing.T) {
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nodeDaily := []model.NodeCapacityDay{{Day: day, Node: "node-a", CPUCoreSeconds: 576 * 3600, MemByteSeconds: 0}}
	clusterDaily := []model.ClusterCapacityDay{{Day: day, CPUCoreSeconds: 576 * 3600}}
	idx := capacity.NewIndex(nodeDaily, clusterDaily)

	podRows := []model.ContainerSummaryRow{
		{DataSource: model.DataSourcePod, UsageStart: day, Node: "node-a", Source: "prov-1", Namespace: "frontend", PodUsageCPUCoreHours: 100},
	}

	out := Synthesise(podRows, Inputs{Capacity: idx, NodeRoles: map[string]string{"node-a": model.NodeRoleWorker}})
	require.Len(t, out, 1)
	assert.Equal(t, model.NamespaceWorkerUnallocated, out[0].Namespace)
	assert.InDelta(t, 476.0, out[0].PodUsageCPUCoreHours, 1e-9)
}

func TestMasterNodeGoesToPlatformUnallocated(t *testing.T) {
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nodeDaily := []model.NodeCapacityDay{{Day: day, Node: "node-m", CPUCoreSeconds: 100 * 3600}}
	idx := capacity.NewIndex(nodeDaily, nil)

	podRows := []model.ContainerSummaryRow{
		{DataSource: model.DataSourcePod, UsageStart: day, Node: "node-m", Source: "prov-1", Namespace: "kube-system", PodUsageCPUCoreHours: 10},
	}
	out := Synthesise(podRows, Inputs{Capacity: idx, NodeRoles: map[string]string{"node-m": model.NodeRoleMaster}})
	require.Len(t, out, 1)
	assert.Equal(t, model.NamespacePlatformUnallocated, out[0].Namespace)
}

func TestSinkNamespacesExcludedFromUsageSum(t *testing.T) {
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nodeDaily := []model.NodeCapacityDay{{Day: day, Node: "node-a", CPUCoreSeconds: 100 * 3600}}
	idx := capacity.NewIndex(nodeDaily, nil)

	podRows := []model.ContainerSummaryRow{
		{DataSource: model.DataSourcePod, UsageStart: day, Node: "node-a", Source: "prov-1", Namespace: model.NamespaceWorkerUnallocated, PodUsageCPUCoreHours: 999},
		{DataSource: model.DataSourcePod, UsageStart: day, Node: "node-a", Source: "prov-1", Namespace: "frontend"},
	}
	out := Synthesise(podRows, Inputs{Capacity: idx, NodeRoles: map[string]string{"node-a": model.NodeRoleWorker}})
	require.Len(t, out, 1)
	assert.InDelta(t, 100.0, out[0].PodUsageCPUCoreHours, 1e-9)
}

func TestZeroResidualProducesNoRow(t *testing.T) {
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nodeDaily := []model.NodeCapacityDay{{Day: day, Node: "node-a", CPUCoreSeconds: 10 * 3600}}
	idx := capacity.NewIndex(nodeDaily, nil)

	podRows := []model.ContainerSummaryRow{
		{DataSource: model.DataSourcePod, UsageStart: day, Node: "node-a", Source: "prov-1", Namespace: "frontend", PodUsageCPUCoreHours: 10},
	}
	out := Synthesise(podRows, Inputs{Capacity: idx, NodeRoles: map[string]string{"node-a": model.NodeRoleWorker}})
	assert.Empty(t, out)
}
