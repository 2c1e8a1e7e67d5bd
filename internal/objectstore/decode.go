package objectstore

import (
	"fmt"
	"time"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/shopspring/decimal"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/ocperrors"
)

// columnIndex maps column name to position, used by each dataset's decoder
// to read the fields it needs and ignore the ones column projection (C1)
// already dropped.
func columnIndex(schema *arrow.Schema) map[string]int {
	idx := make(map[string]int, len(schema.Fields()))
	for i, f := range schema.Fields() {
		idx[f.Name] = i
	}
	return idx
}

func stringAt(rec arrow.Record, idx map[string]int, name string, row int) string {
	i, ok := idx[name]
	if !ok {
		return ""
	}
	col, ok := rec.Column(i).(*array.String)
	if !ok || col.IsNull(row) {
		return ""
	}
	return col.Value(row)
}

func float64At(rec arrow.Record, idx map[string]int, name string, row int) float64 {
	i, ok := idx[name]
	if !ok {
		return 0
	}
	switch col := rec.Column(i).(type) {
	case *array.Float64:
		if col.IsNull(row) {
			return 0
		}
		return col.Value(row)
	case *array.Int64:
		if col.IsNull(row) {
			return 0
		}
		return float64(col.Value(row))
	default:
		return 0
	}
}

func float64PtrAt(rec arrow.Record, idx map[string]int, name string, row int) *float64 {
	i, ok := idx[name]
	if !ok {
		return nil
	}
	col, ok := rec.Column(i).(*array.Float64)
	if !ok || col.IsNull(row) {
		return nil
	}
	v := col.Value(row)
	return &v
}

func timestampAt(rec arrow.Record, idx map[string]int, name string, row int) time.Time {
	i, ok := idx[name]
	if !ok {
		return time.Time{}
	}
	col, ok := rec.Column(i).(*array.Timestamp)
	if !ok || col.IsNull(row) {
		return time.Time{}
	}
	ts := col.Value(row)
	dt, ok2 := rec.Schema().Field(i).Type.(*arrow.TimestampType)
	if !ok2 {
		return time.Unix(0, int64(ts)).UTC()
	}
	return ts.ToTime(dt.Unit).UTC()
}

// recordCorruptRow audits a row dropped for a malformed critical column
// (spec.md §7 "Corrupt"); audit may be nil in tests that don't care.
func recordCorruptRow(audit ocperrors.Sink, dataset, column string, row int) {
	if audit == nil {
		return
	}
	audit.Record(ocperrors.Audit{Stage: "objectstore." + dataset, Reason: "malformed critical column: " + column, Key: fmt.Sprintf("row %d", row)})
}

// singleRecord flattens a table (possibly chunked across several Arrow
// record batches) into one contiguous arrow.Record, the shape every
// decoder below expects. ok is false for an empty table, in which case
// callers should return a nil slice rather than touch rec.
func singleRecord(table arrow.Table) (rec arrow.Record, ok bool) {
	if table.NumRows() == 0 {
		return nil, false
	}
	tr := array.NewTableReader(table, table.NumRows())
	defer tr.Release()
	if !tr.Next() {
		return nil, false
	}
	rec = tr.Record()
	rec.Retain()
	return rec, true
}

// DecodePodRows converts a pod-dataset Arrow table into PodLineItem rows
// (spec.md §4.1 "decode", grounded on the column layout C5 consumes). A row
// whose interval_start fails to parse is the Corrupt case spec.md §7
// names: it's audited and dropped rather than flowing downstream with a
// zero timestamp.
func DecodePodRows(table arrow.Table, audit ocperrors.Sink) ([]model.PodLineItem, error) {
	rec, ok := singleRecord(table)
	if !ok {
		return nil, nil
	}
	defer rec.Release()
	idx := columnIndex(table.Schema())

	n := int(rec.NumRows())
	out := make([]model.PodLineItem, 0, n)
	for row := 0; row < n; row++ {
		intervalStart := timestampAt(rec, idx, "interval_start", row)
		if intervalStart.IsZero() {
			recordCorruptRow(audit, "pod", "interval_start", row)
			continue
		}
		out = append(out, model.PodLineItem{
			IntervalStart:              intervalStart,
			Source:                     stringAt(rec, idx, "source", row),
			Namespace:                  stringAt(rec, idx, "namespace", row),
			Node:                       stringAt(rec, idx, "node", row),
			Pod:                        stringAt(rec, idx, "pod", row),
			ResourceID:                 stringAt(rec, idx, "resource_id", row),
			PodLabelsJSON:              stringAt(rec, idx, "pod_labels", row),
			UsageCPUCoreSeconds:        float64At(rec, idx, "pod_usage_cpu_core_seconds", row),
			RequestCPUCoreSeconds:      float64At(rec, idx, "pod_request_cpu_core_seconds", row),
			LimitCPUCoreSeconds:        float64At(rec, idx, "pod_limit_cpu_core_seconds", row),
			EffectiveCPUCoreSeconds:    float64PtrAt(rec, idx, "pod_effective_usage_cpu_core_seconds", row),
			UsageMemoryByteSeconds:     float64At(rec, idx, "pod_usage_memory_byte_seconds", row),
			RequestMemoryByteSeconds:   float64At(rec, idx, "pod_request_memory_byte_seconds", row),
			LimitMemoryByteSeconds:     float64At(rec, idx, "pod_limit_memory_byte_seconds", row),
			EffectiveMemoryByteSeconds: float64PtrAt(rec, idx, "pod_effective_usage_memory_byte_seconds", row),
			NodeCapacityCPUCores:       float64At(rec, idx, "node_capacity_cpu_cores", row),
			NodeCapacityMemoryBytes:    float64At(rec, idx, "node_capacity_memory_bytes", row),
			NodeCapacityCPUCoreSeconds: float64At(rec, idx, "node_capacity_cpu_core_seconds", row),
			NodeCapacityMemoryByteSeconds: float64At(rec, idx, "node_capacity_memory_byte_seconds", row),
		})
	}
	return out, nil
}

// DecodeStorageRows converts a storage-dataset Arrow table into
// StorageLineItem rows (C6). Same interval_start corruption check as
// DecodePodRows.
func DecodeStorageRows(table arrow.Table, audit ocperrors.Sink) ([]model.StorageLineItem, error) {
	rec, ok := singleRecord(table)
	if !ok {
		return nil, nil
	}
	defer rec.Release()
	idx := columnIndex(table.Schema())

	n := int(rec.NumRows())
	out := make([]model.StorageLineItem, 0, n)
	for row := 0; row < n; row++ {
		intervalStart := timestampAt(rec, idx, "interval_start", row)
		if intervalStart.IsZero() {
			recordCorruptRow(audit, "storage", "interval_start", row)
			continue
		}
		out = append(out, model.StorageLineItem{
			IntervalStart:             intervalStart,
			Source:                    stringAt(rec, idx, "source", row),
			Namespace:                 stringAt(rec, idx, "namespace", row),
			Pod:                       stringAt(rec, idx, "pod", row),
			PersistentVolumeClaim:     stringAt(rec, idx, "persistentvolumeclaim", row),
			PersistentVolume:          stringAt(rec, idx, "persistentvolume", row),
			StorageClass:              stringAt(rec, idx, "storageclass", row),
			CSIVolumeHandle:           stringAt(rec, idx, "csi_volume_handle", row),
			CapacityBytes:             float64At(rec, idx, "persistentvolumeclaim_capacity_bytes", row),
			RequestStorageByteSeconds: float64At(rec, idx, "volume_request_storage_byte_seconds", row),
			UsageByteSeconds:          float64At(rec, idx, "persistentvolumeclaim_usage_byte_seconds", row),
			PVLabelsJSON:              stringAt(rec, idx, "persistentvolume_labels", row),
			PVCLabelsJSON:             stringAt(rec, idx, "persistentvolumeclaim_labels", row),
		})
	}
	return out, nil
}

// DecodeCloudRows converts a cloud-billing Arrow table into CloudLineItem
// rows (C12). Cost columns round-trip through decimal.NewFromFloat since
// the source Parquet stores them as double precision floats; the markup
// arithmetic downstream still runs entirely in decimal.
func DecodeCloudRows(table arrow.Table, audit ocperrors.Sink) ([]model.CloudLineItem, error) {
	rec, ok := singleRecord(table)
	if !ok {
		return nil, nil
	}
	defer rec.Release()
	idx := columnIndex(table.Schema())

	n := int(rec.NumRows())
	out := make([]model.CloudLineItem, 0, n)
	for row := 0; row < n; row++ {
		usageStart := timestampAt(rec, idx, "usage_start", row)
		if usageStart.IsZero() {
			recordCorruptRow(audit, "cloud", "usage_start", row)
			continue
		}
		out = append(out, model.CloudLineItem{
			UsageStart:               usageStart,
			LineItemResourceID:       stringAt(rec, idx, "lineitem_resourceid", row),
			LineItemUsageAccountID:   stringAt(rec, idx, "lineitem_usageaccountid", row),
			LineItemProductCode:      stringAt(rec, idx, "lineitem_productcode", row),
			ProductFamily:            stringAt(rec, idx, "product_family", row),
			InstanceType:             stringAt(rec, idx, "product_instance_type", row),
			Region:                   stringAt(rec, idx, "product_region", row),
			AvailabilityZone:         stringAt(rec, idx, "lineitem_availabilityzone", row),
			UsageType:                stringAt(rec, idx, "lineitem_usagetype", row),
			Operation:                stringAt(rec, idx, "lineitem_operation", row),
			UsageAmount:              decimalAt(rec, idx, "lineitem_usageamount", row),
			UnblendedCost:            decimalAt(rec, idx, "lineitem_unblendedcost", row),
			UnblendedRate:            decimalAt(rec, idx, "lineitem_unblendedrate", row),
			BlendedCost:              decimalAt(rec, idx, "lineitem_blendedcost", row),
			SavingsPlanEffectiveCost: decimalAt(rec, idx, "savingsplan_savingsplaneffectivecost", row),
			CalculatedAmortizedCost:  decimalAt(rec, idx, "pricing_calculated_amortized_cost", row),
			CurrencyCode:             stringAt(rec, idx, "lineitem_currencycode", row),
			PricingUnit:              stringAt(rec, idx, "pricing_unit", row),
			ResourceTagsJSON:         stringAt(rec, idx, "resource_tags", row),
			CostCategoryJSON:         stringAt(rec, idx, "cost_category", row),
			BillBillingEntity:        stringAt(rec, idx, "bill_billingentity", row),
			LineItemType:             stringAt(rec, idx, "lineitem_lineitemtype", row),
		})
	}
	return out, nil
}

// DecodeNodeLabelRows converts the daily node-label dataset.
func DecodeNodeLabelRows(table arrow.Table) ([]model.NodeLabelDaily, error) {
	rec, ok := singleRecord(table)
	if !ok {
		return nil, nil
	}
	defer rec.Release()
	idx := columnIndex(table.Schema())

	n := int(rec.NumRows())
	out := make([]model.NodeLabelDaily, 0, n)
	for row := 0; row < n; row++ {
		out = append(out, model.NodeLabelDaily{
			Day:        timestampAt(rec, idx, "day", row),
			Node:       stringAt(rec, idx, "node", row),
			LabelsJSON: stringAt(rec, idx, "node_labels", row),
		})
	}
	return out, nil
}

// DecodeNamespaceLabelRows converts the daily namespace-label dataset.
func DecodeNamespaceLabelRows(table arrow.Table) ([]model.NamespaceLabelDaily, error) {
	rec, ok := singleRecord(table)
	if !ok {
		return nil, nil
	}
	defer rec.Release()
	idx := columnIndex(table.Schema())

	n := int(rec.NumRows())
	out := make([]model.NamespaceLabelDaily, 0, n)
	for row := 0; row < n; row++ {
		out = append(out, model.NamespaceLabelDaily{
			Day:        timestampAt(rec, idx, "day", row),
			Namespace:  stringAt(rec, idx, "namespace", row),
			LabelsJSON: stringAt(rec, idx, "namespace_labels", row),
		})
	}
	return out, nil
}

// decimalAt reads a cost/amount column as decimal.Decimal. Billing Parquet
// exports these as double-precision floats; routing through
// decimal.NewFromFloat here means every downstream stage (C12's markup
// arithmetic included) operates on decimal.Decimal exclusively.
func decimalAt(rec arrow.Record, idx map[string]int, name string, row int) decimal.Decimal {
	return decimal.NewFromFloat(float64At(rec, idx, name, row))
}
