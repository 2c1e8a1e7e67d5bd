// Package storageagg implements C6: left-joining storage usage to pod usage
// on (source, day, namespace, pod) to recover a node, merging namespace/PV/
// PVC labels three ways (node labels are not merged), grouping by (day, namespace, node, pvc, pv,
// storageclass, merged labels), and computing GB-month capacity/usage
// figures (spec.md §4.6).
package storageagg

import (
	"fmt"
	"time"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/labels"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/ocperrors"
)

const gigabyte = 1073741824.0

// podNodeKey identifies the pod-side join key: (source, day, namespace, pod).
type podNodeKey struct {
	source    string
	day       time.Time
	namespace string
	pod       string
}

// Inputs bundles the join sources and label indices C6 needs.
type Inputs struct {
	// PodNodeIndex maps (source, day, namespace, pod) to the node the pod
	// ran on, built from the pod-daily dataset (spec.md §4.6 "join").
	PodNodeIndex map[podNodeKey]string

	NamespaceLabels map[nsDayKey]labels.Map
	Allow           labels.AllowSet
	Audit           ocperrors.Sink

	ClusterID      string
	ClusterAlias   string
	ReportPeriodID int64
}

type nsDayKey struct {
	day time.Time
	ns  string
}

// BuildNamespaceLabelIndex turns the daily namespace-label dataset into the
// lookup map Inputs.NamespaceLabels expects.
func BuildNamespaceLabelIndex(rows []model.NamespaceLabelDaily, audit ocperrors.Sink) map[nsDayKey]labels.Map {
	idx := make(map[nsDayKey]labels.Map, len(rows))
	for _, r := range rows {
		idx[nsDayKey{day: r.Day, ns: r.Namespace}] = labels.Parse(r.LabelsJSON, "namespace_labels", r.Namespace, audit)
	}
	return idx
}

// BuildPodNodeIndex derives the join index from pod-daily rows.
func BuildPodNodeIndex(rows []model.PodLineItem) map[podNodeKey]string {
	idx := make(map[podNodeKey]string, len(rows))
	for _, r := range rows {
		if r.Pod == "" {
			continue
		}
		idx[podNodeKey{source: r.Source, day: r.Day(), namespace: r.Namespace, pod: r.Pod}] = r.Node
	}
	return idx
}

type accumulator struct {
	namespace, node, pvc, pv, storageClass string
	day                                    time.Time
	source                                 string
	mergedLabels                           labels.Map

	capacityBytesMax   float64
	requestByteSeconds float64
	usageByteSeconds   float64
}

// pvDayKey identifies a PV on a given day, the granularity spec.md §4.6's
// "shared-volume node count" step divides usage over.
type pvDayKey struct {
	day time.Time
	pv  string
}

// nodeCountsByPV counts the distinct nodes a PV was mounted on for each day,
// over the full joined relation, before any grouping collapses rows
// together (spec.md §4.6 "Shared-volume node count"). Rows that never
// joined to a node don't contribute to any PV's count.
func nodeCountsByPV(rows []model.StorageLineItem, in Inputs) map[pvDayKey]int {
	seen := make(map[pvDayKey]map[string]struct{})
	for _, r := range rows {
		day := r.Day()
		node := in.PodNodeIndex[podNodeKey{source: r.Source, day: day, namespace: r.Namespace, pod: r.Pod}]
		if node == "" {
			continue
		}
		k := pvDayKey{day: day, pv: r.PersistentVolume}
		nodes, ok := seen[k]
		if !ok {
			nodes = make(map[string]struct{})
			seen[k] = nodes
		}
		nodes[node] = struct{}{}
	}
	counts := make(map[pvDayKey]int, len(seen))
	for k, nodes := range seen {
		counts[k] = len(nodes)
	}
	return counts
}

// Aggregate runs C6 end to end.
func Aggregate(rows []model.StorageLineItem, in Inputs) []model.ContainerSummaryRow {
	nodeCounts := nodeCountsByPV(rows, in)
	groups := make(map[model.GroupKey]*accumulator)
	order := make([]model.GroupKey, 0)

	for _, r := range rows {
		day := r.Day()
		node := in.PodNodeIndex[podNodeKey{source: r.Source, day: day, namespace: r.Namespace, pod: r.Pod}]
		if node == "" && in.Audit != nil {
			in.Audit.Record(ocperrors.Audit{Stage: "storageagg", Reason: "no pod-node join match", Key: r.Pod})
		}

		// A PV shared across node_count distinct nodes has its usage/request
		// scaled down by that count before summation, so grouping by node
		// below conserves the PV's true total rather than multiplying it
		// (spec.md §4.6 "Scaled usage", P10).
		nodeCount := nodeCounts[pvDayKey{day: day, pv: r.PersistentVolume}]
		if nodeCount == 0 {
			nodeCount = 1
		}

		nsLbl := in.NamespaceLabels[nsDayKey{day: day, ns: r.Namespace}]
		pvLbl := labels.Filter(labels.Parse(r.PVLabelsJSON, "pv_labels", r.PersistentVolume, in.Audit), in.Allow)
		pvcLbl := labels.Filter(labels.Parse(r.PVCLabelsJSON, "pvc_labels", r.PersistentVolumeClaim, in.Audit), in.Allow)

		// Three-way merge, right-biased: namespace < pv < pvc (Q1 decision:
		// the claim is the more specific binding and wins over the backing
		// volume, which wins over namespace defaults). Node labels take no
		// part in the storage merge.
		merged := labels.Merge(nsLbl, pvLbl, pvcLbl)

		key := model.GroupKey{
			Day:                   day.Format("2006-01-02"),
			Namespace:             r.Namespace,
			Node:                  node,
			Source:                r.Source,
			PersistentVolumeClaim: r.PersistentVolumeClaim,
			PersistentVolume:      r.PersistentVolume,
			StorageClass:          r.StorageClass,
			CanonicalLabels:       labels.Canonicalise(merged),
		}

		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{
				namespace: r.Namespace, node: node, pvc: r.PersistentVolumeClaim,
				pv: r.PersistentVolume, storageClass: r.StorageClass, day: day,
				source: r.Source, mergedLabels: merged,
			}
			groups[key] = acc
			order = append(order, key)
		}

		if r.CapacityBytes > acc.capacityBytesMax {
			acc.capacityBytesMax = r.CapacityBytes
		}
		acc.requestByteSeconds += r.RequestStorageByteSeconds / float64(nodeCount)
		acc.usageByteSeconds += r.UsageByteSeconds / float64(nodeCount)
	}

	out := make([]model.ContainerSummaryRow, 0, len(order))
	for _, key := range order {
		out = append(out, buildRow(groups[key], in))
	}
	return out
}

func buildRow(acc *accumulator, in Inputs) model.ContainerSummaryRow {
	days := daysInMonth(acc.day)
	hoursInMonth := days * 24.0
	capacityGB := acc.capacityBytesMax / gigabyte

	return model.ContainerSummaryRow{
		ReportPeriodID: in.ReportPeriodID,
		ClusterID:      in.ClusterID,
		ClusterAlias:   in.ClusterAlias,
		Source:         acc.source,
		Year:           fmt.Sprintf("%04d", acc.day.Year()),
		Month:          fmt.Sprintf("%02d", int(acc.day.Month())),
		Day:            fmt.Sprintf("%02d", acc.day.Day()),

		UsageStart: acc.day,
		UsageEnd:   acc.day,
		Namespace:  acc.namespace,
		Node:       acc.node,
		DataSource: model.DataSourceStorage,

		PodLabels: labels.Canonicalise(acc.mergedLabels),

		PersistentVolumeClaim: acc.pvc,
		PersistentVolume:      acc.pv,
		StorageClass:          acc.storageClass,

		PersistentVolumeClaimCapacityGB:       capacityGB,
		PersistentVolumeClaimCapacityGBMonths: capacityGB / days,
		VolumeRequestStorageGBMonths:          acc.requestByteSeconds / 3600.0 / gigabyte / hoursInMonth,
		PersistentVolumeClaimUsageGBMonths:    acc.usageByteSeconds / 3600.0 / gigabyte / hoursInMonth,

		InfrastructureUsageCostJSON: `{"cpu":0,"memory":0,"storage":0}`,
	}
}

func daysInMonth(day time.Time) float64 {
	firstOfNext := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	firstOfThis := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.Sub(firstOfThis).Hours() / 24.0
}
