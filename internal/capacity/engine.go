// Package capacity implements C4: two-stage reduction from hourly node
// capacity reports to daily node capacity and daily cluster capacity
// (spec.md §4.4, I3, I4, P3).
package capacity

import (
	"time"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
)

// intervalKey groups hourly rows by (interval, node) for the first max
// reduction.
type intervalKey struct {
	interval time.Time
	node     string
}

// dayNodeKey groups the per-interval maxima by (day, node) for the sum
// reduction that produces daily node capacity.
type dayNodeKey struct {
	day  time.Time
	node string
}

// Compute runs the full two-stage-plus-cluster reduction described in
// spec.md §4.4:
//  1. max over (interval_start, node) — every pod on a node reports the same
//     node capacity for that interval, so max de-duplicates.
//  2. sum over (day, node) of step 1's output — non-decreasing across finer
//     windows (I4).
//  3. sum over day of step 2 across all nodes — cluster capacity (I3).
//
// Rows with a negative or non-finite capacity are treated as zero (spec.md
// §4.4 "Edge cases"); missing intervals for a node simply contribute
// nothing, which sum treats as zero.
func Compute(rows []model.PodLineItem) ([]model.NodeCapacityDay, []model.ClusterCapacityDay) {
	// Stage 1: max per (interval, node).
	stage1 := make(map[intervalKey]struct{ cpu, mem float64 })
	for _, r := range rows {
		if r.Node == "" {
			continue
		}
		cpu := sanitize(r.NodeCapacityCPUCoreSeconds)
		mem := sanitize(r.NodeCapacityMemoryByteSeconds)
		key := intervalKey{interval: r.IntervalStart, node: r.Node}
		cur := stage1[key]
		if cpu > cur.cpu {
			cur.cpu = cpu
		}
		if mem > cur.mem {
			cur.mem = mem
		}
		stage1[key] = cur
	}

	// Stage 2: sum per (day, node) of stage1's maxima.
	stage2 := make(map[dayNodeKey]*model.NodeCapacityDay)
	order := make([]dayNodeKey, 0)
	for key, v := range stage1 {
		day := truncateToDay(key.interval)
		dnKey := dayNodeKey{day: day, node: key.node}
		agg, ok := stage2[dnKey]
		if !ok {
			agg = &model.NodeCapacityDay{Day: day, Node: key.node}
			stage2[dnKey] = agg
			order = append(order, dnKey)
		}
		agg.CPUCoreSeconds += v.cpu
		agg.MemByteSeconds += v.mem
	}

	nodeDaily := make([]model.NodeCapacityDay, 0, len(stage2))
	for _, key := range order {
		nodeDaily = append(nodeDaily, *stage2[key])
	}

	// Stage 3: sum per day across all nodes.
	clusterByDay := make(map[time.Time]*model.ClusterCapacityDay)
	dayOrder := make([]time.Time, 0)
	for _, nd := range nodeDaily {
		agg, ok := clusterByDay[nd.Day]
		if !ok {
			agg = &model.ClusterCapacityDay{Day: nd.Day}
			clusterByDay[nd.Day] = agg
			dayOrder = append(dayOrder, nd.Day)
		}
		agg.CPUCoreSeconds += nd.CPUCoreSeconds
		agg.MemByteSeconds += nd.MemByteSeconds
	}

	clusterDaily := make([]model.ClusterCapacityDay, 0, len(clusterByDay))
	for _, d := range dayOrder {
		clusterDaily = append(clusterDaily, *clusterByDay[d])
	}

	return nodeDaily, clusterDaily
}

func sanitize(v float64) float64 {
	if v < 0 || v != v { // negative or NaN
		return 0
	}
	if v > maxFinite {
		return 0
	}
	return v
}

// maxFinite guards against +Inf surviving the NaN check above.
const maxFinite = 1e300

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Index turns the slice outputs into lookup maps keyed the way C5/C6/C7
// need them: node capacity by (day, node), cluster capacity by day.
type Index struct {
	byNode    map[dayNodeKey]model.NodeCapacityDay
	byCluster map[time.Time]model.ClusterCapacityDay
}

func NewIndex(nodeDaily []model.NodeCapacityDay, clusterDaily []model.ClusterCapacityDay) *Index {
	idx := &Index{
		byNode:    make(map[dayNodeKey]model.NodeCapacityDay, len(nodeDaily)),
		byCluster: make(map[time.Time]model.ClusterCapacityDay, len(clusterDaily)),
	}
	for _, nd := range nodeDaily {
		idx.byNode[dayNodeKey{day: nd.Day, node: nd.Node}] = nd
	}
	for _, cd := range clusterDaily {
		idx.byCluster[cd.Day] = cd
	}
	return idx
}

// NodeCapacity looks up per-node capacity; ok is false when no hourly rows
// reported for that node-day (spec.md §4.5 "Missing capacity rows").
func (idx *Index) NodeCapacity(day time.Time, node string) (model.NodeCapacityDay, bool) {
	v, ok := idx.byNode[dayNodeKey{day: day, node: node}]
	return v, ok
}

func (idx *Index) ClusterCapacity(day time.Time) (model.ClusterCapacityDay, bool) {
	v, ok := idx.byCluster[day]
	return v, ok
}

// UtilizationRatio computes max(cpu_share, memory_share) clamped to [0,1],
// the r_pod behind C12's cost-attribution ratio. C7's unallocated
// residuals are computed directly from capacity minus usage and do not
// call it.
func UtilizationRatio(usageCPUHours, capacityCPUHours, usageMemGBHours, capacityMemGBHours float64) float64 {
	cpuShare := 0.0
	if capacityCPUHours > 0 {
		cpuShare = usageCPUHours / capacityCPUHours
	}
	memShare := 0.0
	if capacityMemGBHours > 0 {
		memShare = usageMemGBHours / capacityMemGBHours
	}
	r := cpuShare
	if memShare > r {
		r = memShare
	}
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
