// Package unallocated implements C7: synthesising the residual
// (capacity - usage) rows per (day, node, source) that explain the gap
// between node capacity and summed pod usage, attributed to the
// "Platform unallocated" or "Worker unallocated" namespace depending on
// the node's role (spec.md §4.7).
package unallocated

import (
	"fmt"
	"time"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/capacity"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
)

// sinkNamespaces must be excluded from the usage side of the residual
// computation: they are themselves synthesised output, not source data.
var sinkNamespaces = map[string]struct{}{
	model.NamespacePlatformUnallocated: {},
	model.NamespaceWorkerUnallocated:   {},
	model.NamespaceNetworkUnattributed: {},
	model.NamespaceStorageUnattributed: {},
}

type dayNodeSourceKey struct {
	day    time.Time
	node   string
	source string
}

// Inputs bundles the node-role lookup and cluster metadata C7 needs.
type Inputs struct {
	Capacity *capacity.Index
	// NodeRoles maps node name to its ocp_nodes.node_role value.
	NodeRoles map[string]string

	ClusterID      string
	ClusterAlias   string
	ReportPeriodID int64
}

// Synthesise computes one residual row per (day, node, source) that shows
// non-negative remaining capacity after summing already-attributed pod
// rows for that node. Rows belonging to a sink namespace are excluded from
// the usage sum, per spec.md §4.7 "Filter".
func Synthesise(podRows []model.ContainerSummaryRow, in Inputs) []model.ContainerSummaryRow {
	usage := make(map[dayNodeSourceKey]struct{ cpuHours, memGBHours float64 })
	order := make([]dayNodeSourceKey, 0)

	for _, r := range podRows {
		if r.DataSource != model.DataSourcePod {
			continue
		}
		if _, skip := sinkNamespaces[r.Namespace]; skip {
			continue
		}
		key := dayNodeSourceKey{day: r.UsageStart, node: r.Node, source: r.Source}
		cur, ok := usage[key]
		if !ok {
			order = append(order, key)
		}
		cur.cpuHours += r.PodUsageCPUCoreHours
		cur.memGBHours += r.PodUsageMemoryGBHours
		usage[key] = cur
	}

	out := make([]model.ContainerSummaryRow, 0, len(order))
	for _, key := range order {
		u := usage[key]
		row := buildResidualRow(key, u, in)
		if row != nil {
			out = append(out, *row)
		}
	}
	return out
}

func buildResidualRow(key dayNodeSourceKey, u struct{ cpuHours, memGBHours float64 }, in Inputs) *model.ContainerSummaryRow {
	if in.Capacity == nil {
		return nil
	}
	nc, ok := in.Capacity.NodeCapacity(key.day, key.node)
	if !ok {
		return nil
	}

	cpuResidual := clampZero(nc.CPUCoreHours() - u.cpuHours)
	memResidual := clampZero(nc.MemByteHours()/1073741824.0 - u.memGBHours)

	if cpuResidual == 0 && memResidual == 0 {
		return nil
	}

	namespace := namespaceForRole(in.NodeRoles[key.node])

	row := model.ContainerSummaryRow{
		ReportPeriodID: in.ReportPeriodID,
		ClusterID:      in.ClusterID,
		ClusterAlias:   in.ClusterAlias,
		Source:         key.source,
		Year:           fmt.Sprintf("%04d", key.day.Year()),
		Month:          fmt.Sprintf("%02d", int(key.day.Month())),
		Day:            fmt.Sprintf("%02d", key.day.Day()),

		UsageStart: key.day,
		UsageEnd:   key.day,
		Namespace:  namespace,
		Node:       key.node,
		DataSource: model.DataSourcePod,

		PodLabels: "{}",

		PodUsageCPUCoreHours:      cpuResidual,
		PodEffectiveUsageCPUHours: cpuResidual,
		PodUsageMemoryGBHours:      memResidual,
		PodEffectiveUsageMemGBHours: memResidual,

		NodeCapacityCPUCoreHours:    nc.CPUCoreHours(),
		NodeCapacityMemByteHours:    nc.MemByteHours(),

		InfrastructureUsageCostJSON: `{"cpu":0,"memory":0,"storage":0}`,
	}
	if cc, ok := in.Capacity.ClusterCapacity(key.day); ok {
		row.ClusterCapacityCPUCoreHours = cc.CPUCoreHours()
		row.ClusterCapacityMemByteHours = cc.MemByteHours()
	}
	return &row
}

// namespaceForRole maps a node role to its sink namespace: master and infra
// nodes collapse to the platform bucket, everything else (including an
// unknown/empty role) is worker (spec.md §4.7).
func namespaceForRole(role string) string {
	switch role {
	case model.NodeRoleMaster, model.NodeRoleInfra:
		return model.NamespacePlatformUnallocated
	default:
		return model.NamespaceWorkerUnallocated
	}
}

func clampZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
