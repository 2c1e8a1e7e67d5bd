// Package attribution implements C12: attributing cloud billing cost to
// the namespaces that shared the underlying resource, applying markup, and
// special-casing tax and savings-plan pass-through rows (spec.md §4.12,
// I6, I7, P4, P5).
//
// Each cloud row moves through a small state machine: initial ->
// tried_resource_match -> tried_tag_match -> emitted | dropped_with_audit.
// A row that matches a shared node is split across every namespace present
// on that node in proportion to its usage share, which is what keeps the
// split conservation-preserving (I6): the parts always sum back to the
// row's original cost.
package attribution

import (
	"fmt"
	"time"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/capacity"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/diskcapacity"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/labels"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/network"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/ocperrors"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/resourcematch"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/tagmatch"
	"github.com/shopspring/decimal"
)

const gigabyte = 1073741824.0

// Distribution selects which usage ratio drives the proportional split in
// splitAcrossNode (spec.md §6 "cost.distribution").
const (
	DistributionCPU    = "cpu"
	DistributionMemory = "memory"
	DistributionMax    = "max"
)

// conservationTolerance is the |Σ_out - Σ_in| bound spec.md §7 sets for I6:
// beyond this, attribution has a bug, not a rounding artifact.
var conservationTolerance = decimal.NewFromFloat(1e-6)

// namespaceShare is one namespace's capacity-normalized attribution weight
// on a node for a given day: the sum, across every container-summary row
// for that (node, namespace), of r_pod = max(cpu_share, memory_share)
// against node capacity (spec.md §4.12 step 2).
type namespaceShare struct {
	Namespace string
	RatioSum  float64
}

// Inputs bundles everything C12 needs beyond the cloud line items
// themselves.
type Inputs struct {
	ResourceIndex *resourcematch.Index
	TagObserved   tagmatch.Observed
	TagAllow      labels.AllowSet

	// NodeNamespaceShares maps node name to the namespaces observed on it
	// for the row's usage day, each with its summed r_pod (see
	// NamespaceShares).
	NodeNamespaceShares map[string][]namespaceShare

	// VolumeNamespace maps a PersistentVolume/PVC identity (as produced by
	// resourcematch) to the owning namespace.
	VolumeNamespace map[string]string

	// VolumeCapacity maps the same PersistentVolume identity to the
	// container-side PVC's own capacity in bytes, used to scale a
	// CSI-matched cloud row by pvc_capacity/volume_capacity (spec.md §4.12
	// "matched cloud storage row").
	VolumeCapacity map[string]float64

	// Distribution is the cost.distribution the NodeNamespaceShares were
	// built with. Attribute does not read it: the ratio is chosen when
	// NamespaceShares computes each r_pod.
	Distribution string

	MarkupRate decimal.Decimal
	Audit      ocperrors.Sink

	RowIDFunc func() string // injected for determinism in tests
}

// NamespaceShares builds the NodeNamespaceShares index from container
// summary rows for one usage day. distribution selects which capacity
// ratio backs each row's r_pod before namespaces' rows are summed
// (spec.md §4.12 step 2, §6 "cost.distribution").
func NamespaceShares(rows []model.ContainerSummaryRow, distribution string) map[string][]namespaceShare {
	out := make(map[string][]namespaceShare)
	seen := make(map[string]int) // node|namespace -> index in out[node]
	for _, r := range rows {
		if r.DataSource != model.DataSourcePod || r.Node == "" {
			continue
		}
		rPod := podRatio(r, distribution)
		k := r.Node + "|" + r.Namespace
		if idx, ok := seen[k]; ok {
			out[r.Node][idx].RatioSum += rPod
			continue
		}
		out[r.Node] = append(out[r.Node], namespaceShare{Namespace: r.Namespace, RatioSum: rPod})
		seen[k] = len(out[r.Node]) - 1
	}
	return out
}

// podRatio computes r_pod for one container-summary row by calling
// capacity.UtilizationRatio with the dimension(s) the configured
// cost.distribution selects: cpu/memory isolate one dimension by zeroing
// the other's capacity, max (the default) lets UtilizationRatio take the
// larger of the two (spec.md §4.12 step 2).
func podRatio(r model.ContainerSummaryRow, distribution string) float64 {
	memCapacityGBHours := r.NodeCapacityMemByteHours / gigabyte
	switch distribution {
	case DistributionCPU:
		return capacity.UtilizationRatio(r.PodUsageCPUCoreHours, r.NodeCapacityCPUCoreHours, 0, 0)
	case DistributionMemory:
		return capacity.UtilizationRatio(0, 0, r.PodUsageMemoryGBHours, memCapacityGBHours)
	default:
		return capacity.UtilizationRatio(r.PodUsageCPUCoreHours, r.NodeCapacityCPUCoreHours, r.PodUsageMemoryGBHours, memCapacityGBHours)
	}
}

// Attribute runs C12 over a batch of cloud line items, producing zero or
// more CloudOnContainerRow results per input row. Rows that were attributed
// (resource match, tag match, or network classification) must sum back to
// their source row's cost within conservationTolerance (I6); a violation is
// an ocperrors.InvariantViolation and the caller must write nothing for
// this run (spec.md §7).
func Attribute(items []model.CloudLineItem, in Inputs) ([]model.CloudOnContainerRow, error) {
	var out []model.CloudOnContainerRow
	for _, item := range items {
		rows := attributeOne(item, in)
		if len(rows) > 0 {
			if err := verifyConservation(item, rows); err != nil {
				return nil, err
			}
		}
		out = append(out, rows...)
	}
	return out, nil
}

// verifyConservation checks that rows produced for item sum back to its
// unblended cost within tolerance. Dropped (unmatched) items never reach
// here, since they produce no rows and are intentionally excluded from C12
// rather than a conservation failure.
func verifyConservation(item model.CloudLineItem, rows []model.CloudOnContainerRow) error {
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(r.UnblendedCost)
	}
	diff := sum.Sub(item.UnblendedCost).Abs()
	if diff.GreaterThan(conservationTolerance) {
		return ocperrors.InvariantViolation("attribution", fmt.Errorf(
			"conservation violated for resource %q: in=%s out=%s diff=%s",
			item.LineItemResourceID, item.UnblendedCost, sum, diff))
	}
	return nil
}

func attributeOne(item model.CloudLineItem, in Inputs) []model.CloudOnContainerRow {
	// Tax and savings-plan-covered-usage rows pass through untouched: they
	// represent an already-settled adjustment, not a resource to split
	// (spec.md §4.12 "Special casing").
	if item.LineItemType == model.LineItemTypeTax || item.LineItemType == model.LineItemTypeSavingsPlanCoveredUsage {
		return []model.CloudOnContainerRow{buildRow(item, nil, 1.0, "", false, "", in)}
	}

	if in.ResourceIndex != nil {
		if m, ok := in.ResourceIndex.Match(item.LineItemResourceID); ok {
			switch m.Kind {
			case model.MatchKindNode:
				if rows := splitAcrossNode(item, m.Key, in); len(rows) > 0 {
					return rows
				}
			case model.MatchKindPVName:
				if ns, ok := in.VolumeNamespace[m.Key]; ok {
					return []model.CloudOnContainerRow{buildRow(item, &ns, 1.0, string(m.Kind), true, m.Key, in)}
				}
			case model.MatchKindCSIVolume:
				if ns, ok := in.VolumeNamespace[m.Key]; ok {
					return attributeCSIVolume(item, m.Key, ns, in)
				}
			}
		}
	}

	tagMatch := tagmatch.Resolve(item.ResourceTagsJSON, in.TagAllow, in.TagObserved, in.Audit)
	if tagMatch.Matched {
		if tagMatch.Node != "" {
			if rows := splitAcrossNode(item, tagMatch.Node, in); len(rows) > 0 {
				return rows
			}
		}
		if tagMatch.Namespace != "" {
			ns := tagMatch.Namespace
			return []model.CloudOnContainerRow{buildRow(item, &ns, 1.0, tagMatch.MatchedTag, false, "", in)}
		}
	}

	if network.IsNetworkRow(item) {
		if dir := network.Classify(item); dir != "" {
			ns := model.NamespaceNetworkUnattributed
			row := buildRow(item, &ns, 1.0, "", false, "", in)
			row.DataSource = "Network"
			row.DataTransferDirection = dir
			return []model.CloudOnContainerRow{row}
		}
	}

	if in.Audit != nil {
		in.Audit.Record(ocperrors.Audit{Stage: "attribution", Reason: "no resource/tag/network match", Key: item.LineItemResourceID})
	}
	return nil
}

// splitAcrossNode divides item's cost across every namespace sharing node
// in proportion to each namespace's capacity-normalized r_pod sum,
// preserving conservation (I6): ratios sum to 1 across the returned rows
// whenever shares is non-empty (spec.md §4.12 steps 2-4).
func splitAcrossNode(item model.CloudLineItem, node string, in Inputs) []model.CloudOnContainerRow {
	shares := in.NodeNamespaceShares[node]
	if len(shares) == 0 {
		return nil
	}
	total := 0.0
	for _, s := range shares {
		total += s.RatioSum
	}
	if total == 0 {
		// Tie-breaker: no capacity-normalized usage recorded despite a node
		// match routes the whole row to the platform bucket rather than
		// guessing an even split (spec.md §4.12 step 4).
		ns := model.NamespacePlatformUnallocated
		return []model.CloudOnContainerRow{buildRow(item, &ns, 1.0, string(model.MatchKindNode), true, node, in)}
	}

	rows := make([]model.CloudOnContainerRow, 0, len(shares))
	for _, s := range shares {
		ratio := s.RatioSum / total
		ns := s.Namespace
		row := buildRow(item, &ns, ratio, string(model.MatchKindNode), true, node, in)
		rows = append(rows, row)
	}
	return rows
}

// attributeCSIVolume scales a CSI-matched storage row by the ratio of the
// container-side PVC's own capacity to the cloud-billed volume's capacity
// derived via C10, routing the remainder to Storage unattributed (spec.md
// §4.12 "matched cloud storage row"). Falls back to a 1.0 ratio to ns when
// either capacity can't be determined, same as a PV-name match.
func attributeCSIVolume(item model.CloudLineItem, volume, ns string, in Inputs) []model.CloudOnContainerRow {
	pvcBytes, ok := in.VolumeCapacity[volume]
	if !ok || pvcBytes <= 0 {
		return []model.CloudOnContainerRow{buildRow(item, &ns, 1.0, string(model.MatchKindCSIVolume), true, volume, in)}
	}

	hoursInMonth := decimal.NewFromFloat(24 * daysInMonth(item.UsageStart))
	volumeGB, ok := diskcapacity.Calculate(diskcapacity.Inputs{
		Volume:       volume,
		Day:          item.Day(),
		TotalCost:    item.UnblendedCost,
		MaxRate:      item.UnblendedRate,
		HoursInMonth: hoursInMonth,
	})
	if !ok || volumeGB.IsZero() {
		return []model.CloudOnContainerRow{buildRow(item, &ns, 1.0, string(model.MatchKindCSIVolume), true, volume, in)}
	}

	ratio, _ := decimal.NewFromFloat(pvcBytes / gigabyte).Div(volumeGB).Float64()
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0 {
		ratio = 0
	}

	rows := []model.CloudOnContainerRow{buildRow(item, &ns, ratio, string(model.MatchKindCSIVolume), true, volume, in)}
	if ratio < 1 {
		residualNS := model.NamespaceStorageUnattributed
		rows = append(rows, buildRow(item, &residualNS, 1-ratio, string(model.MatchKindCSIVolume), true, volume, in))
	}
	return rows
}

func daysInMonth(day time.Time) float64 {
	firstOfNext := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	firstOfThis := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.Sub(firstOfThis).Hours() / 24.0
}

func buildRow(item model.CloudLineItem, namespace *string, ratio float64, matchedTag string, resourceMatched bool, node string, in Inputs) model.CloudOnContainerRow {
	r := decimal.NewFromFloat(ratio)
	unblended := item.UnblendedCost.Mul(r)
	blended := item.BlendedCost.Mul(r)
	savings := item.SavingsPlanEffectiveCost.Mul(r)
	amortized := item.CalculatedAmortizedCost.Mul(r)

	rowID := ""
	if in.RowIDFunc != nil {
		rowID = in.RowIDFunc()
	}

	return model.CloudOnContainerRow{
		RowID:            rowID,
		UsageStart:       item.UsageStart,
		Namespace:        namespace,
		Node:             node,
		ResourceID:       item.LineItemResourceID,
		ProductCode:      item.LineItemProductCode,
		ProductFamily:    item.ProductFamily,
		InstanceType:     item.InstanceType,
		Region:           item.Region,
		AvailabilityZone: item.AvailabilityZone,
		MergedLabels:     "{}",

		UnblendedCost:            unblended,
		BlendedCost:              blended,
		SavingsPlanEffectiveCost: savings,
		CalculatedAmortizedCost:  amortized,

		// I7/P5: markup is always bit-exact base * rate, decimal arithmetic
		// throughout, computed from the already-split base cost.
		MarkupUnblendedCost:            unblended.Mul(in.MarkupRate),
		MarkupBlendedCost:              blended.Mul(in.MarkupRate),
		MarkupSavingsPlanEffectiveCost: savings.Mul(in.MarkupRate),
		MarkupCalculatedAmortizedCost:  amortized.Mul(in.MarkupRate),

		UsageAccountID:    item.LineItemUsageAccountID,
		CurrencyCode:      item.CurrencyCode,
		PricingUnit:       item.PricingUnit,
		BillBillingEntity: item.BillBillingEntity,

		ResourceIDMatched: resourceMatched,
		MatchedTag:        matchedTag,
	}
}
