// Package podagg implements C5: grouping daily pod usage by
// (day, namespace, node, source, merged-label-set), summing usage columns,
// and attaching node/cluster capacity and cost-category metadata
// (spec.md §4.5).
package podagg

import (
	"fmt"
	"time"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/capacity"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/costcategory"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/labels"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/ocperrors"
)

const gigabyte = 1073741824.0 // 2^30

// Inputs bundles everything C5 needs beyond the pod-daily rows themselves.
type Inputs struct {
	NodeLabels      map[nodeDayKey]labels.Map
	NamespaceLabels map[nsDayKey]labels.Map
	Allow           labels.AllowSet
	Capacity        *capacity.Index
	CostCategories  *costcategory.Resolver
	Audit           ocperrors.Sink

	ClusterID    string
	ClusterAlias string
	ReportPeriodID int64
}

type nodeDayKey struct {
	day  time.Time
	node string
}

type nsDayKey struct {
	day time.Time
	ns  string
}

// BuildNodeLabelIndex / BuildNamespaceLabelIndex turn the daily label
// datasets into the lookup maps Inputs expects.
func BuildNodeLabelIndex(rows []model.NodeLabelDaily, audit ocperrors.Sink) map[nodeDayKey]labels.Map {
	idx := make(map[nodeDayKey]labels.Map, len(rows))
	for _, r := range rows {
		idx[nodeDayKey{day: r.Day, node: r.Node}] = labels.Parse(r.LabelsJSON, "node_labels", r.Node, audit)
	}
	return idx
}

func BuildNamespaceLabelIndex(rows []model.NamespaceLabelDaily, audit ocperrors.Sink) map[nsDayKey]labels.Map {
	idx := make(map[nsDayKey]labels.Map, len(rows))
	for _, r := range rows {
		idx[nsDayKey{day: r.Day, ns: r.Namespace}] = labels.Parse(r.LabelsJSON, "namespace_labels", r.Namespace, audit)
	}
	return idx
}

type accumulator struct {
	key model.GroupKey

	namespace, node, source string
	day                     time.Time
	mergedLabels            labels.Map

	usageCPUSeconds, requestCPUSeconds, limitCPUSeconds, effectiveCPUSeconds     float64
	usageMemSeconds, requestMemSeconds, limitMemSeconds, effectiveMemSeconds     float64
	maxNodeCapacityCPUCores, maxNodeCapacityMemBytes                            float64
	maxResourceID                                                               string
}

// Aggregate runs C5 end to end: filter node != '', merge labels, group, sum,
// then attach capacity and cost-category metadata.
func Aggregate(rows []model.PodLineItem, in Inputs) []model.ContainerSummaryRow {
	groups := make(map[model.GroupKey]*accumulator)
	order := make([]model.GroupKey, 0)

	for _, r := range rows {
		if r.Node == "" {
			continue // spec.md §4.5 Filter, P6
		}
		day := r.Day()

		nodeLbl := in.NodeLabels[nodeDayKey{day: day, node: r.Node}]
		nsLbl := in.NamespaceLabels[nsDayKey{day: day, ns: r.Namespace}]
		podLbl := labels.Filter(labels.Parse(r.PodLabelsJSON, "pod_labels", r.Pod, in.Audit), in.Allow)

		merged := labels.Merge(nodeLbl, nsLbl, podLbl) // right-bias: pod wins (P1)
		canon := labels.Canonicalise(merged)

		key := model.GroupKey{
			Day:             day.Format("2006-01-02"),
			Namespace:       r.Namespace,
			Node:            r.Node,
			Source:          r.Source,
			CanonicalLabels: canon,
		}

		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{key: key, namespace: r.Namespace, node: r.Node, source: r.Source, day: day, mergedLabels: merged}
			groups[key] = acc
			order = append(order, key)
		}

		effCPU := r.UsageCPUCoreSeconds
		if r.EffectiveCPUCoreSeconds != nil {
			effCPU = *r.EffectiveCPUCoreSeconds
		} else if r.RequestCPUCoreSeconds > effCPU {
			effCPU = r.RequestCPUCoreSeconds
		}
		effMem := r.UsageMemoryByteSeconds
		if r.EffectiveMemoryByteSeconds != nil {
			effMem = *r.EffectiveMemoryByteSeconds
		} else if r.RequestMemoryByteSeconds > effMem {
			effMem = r.RequestMemoryByteSeconds
		}

		acc.usageCPUSeconds += r.UsageCPUCoreSeconds
		acc.requestCPUSeconds += r.RequestCPUCoreSeconds
		acc.limitCPUSeconds += r.LimitCPUCoreSeconds
		acc.effectiveCPUSeconds += effCPU
		acc.usageMemSeconds += r.UsageMemoryByteSeconds
		acc.requestMemSeconds += r.RequestMemoryByteSeconds
		acc.limitMemSeconds += r.LimitMemoryByteSeconds
		acc.effectiveMemSeconds += effMem

		if r.NodeCapacityCPUCores > acc.maxNodeCapacityCPUCores {
			acc.maxNodeCapacityCPUCores = r.NodeCapacityCPUCores
		}
		if r.NodeCapacityMemoryBytes > acc.maxNodeCapacityMemBytes {
			acc.maxNodeCapacityMemBytes = r.NodeCapacityMemoryBytes
		}
		if r.ResourceID > acc.maxResourceID {
			acc.maxResourceID = r.ResourceID
		}
	}

	out := make([]model.ContainerSummaryRow, 0, len(order))
	for _, key := range order {
		acc := groups[key]
		out = append(out, buildRow(acc, in))
	}
	return out
}

func buildRow(acc *accumulator, in Inputs) model.ContainerSummaryRow {
	var costCategoryID *int64
	if in.CostCategories != nil {
		costCategoryID = in.CostCategories.Resolve(acc.namespace)
	}

	row := model.ContainerSummaryRow{
		ReportPeriodID: in.ReportPeriodID,
		ClusterID:      in.ClusterID,
		ClusterAlias:   in.ClusterAlias,
		Source:         acc.source,
		Year:           fmt.Sprintf("%04d", acc.day.Year()),
		Month:          fmt.Sprintf("%02d", int(acc.day.Month())), // P9: zero-padded width 2
		Day:            fmt.Sprintf("%02d", acc.day.Day()),

		UsageStart: acc.day,
		UsageEnd:   acc.day,
		Namespace:  acc.namespace,
		Node:       acc.node,
		ResourceID: acc.maxResourceID,
		DataSource: model.DataSourcePod,

		PodLabels:      labels.Canonicalise(acc.mergedLabels),
		CostCategoryID: costCategoryID,

		PodUsageCPUCoreHours:        acc.usageCPUSeconds / 3600.0,
		PodRequestCPUCoreHours:      acc.requestCPUSeconds / 3600.0,
		PodLimitCPUCoreHours:        acc.limitCPUSeconds / 3600.0,
		PodEffectiveUsageCPUHours:   acc.effectiveCPUSeconds / 3600.0,
		PodUsageMemoryGBHours:       acc.usageMemSeconds / 3600.0 / gigabyte,
		PodRequestMemoryGBHours:     acc.requestMemSeconds / 3600.0 / gigabyte,
		PodLimitMemoryGBHours:       acc.limitMemSeconds / 3600.0 / gigabyte,
		PodEffectiveUsageMemGBHours: acc.effectiveMemSeconds / 3600.0 / gigabyte,

		NodeCapacityCPUCores: acc.maxNodeCapacityCPUCores,
		NodeCapacityMemoryGB: acc.maxNodeCapacityMemBytes / gigabyte,

		InfrastructureUsageCostJSON: `{"cpu":0,"memory":0,"storage":0}`,
	}

	if in.Capacity != nil {
		if nc, ok := in.Capacity.NodeCapacity(acc.day, acc.node); ok {
			row.NodeCapacityCPUCoreHours = nc.CPUCoreHours()
			row.NodeCapacityMemByteHours = nc.MemByteHours()
		} else if in.Audit != nil {
			in.Audit.Record(ocperrors.Audit{Stage: "podagg", Reason: "missing node capacity", Key: acc.node})
		}
		if cc, ok := in.Capacity.ClusterCapacity(acc.day); ok {
			row.ClusterCapacityCPUCoreHours = cc.CPUCoreHours()
			row.ClusterCapacityMemByteHours = cc.MemByteHours()
		}
	}

	return row
}
