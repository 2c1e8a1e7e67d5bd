// Package model holds the shared row types that flow between pipeline
// stages: the read-only Parquet inputs, the relational metadata, and the
// daily summary rows each stage produces.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DataSource distinguishes the two halves of a container daily summary row.
type DataSource string

const (
	DataSourcePod     DataSource = "Pod"
	DataSourceStorage DataSource = "Storage"
)

// Sink namespaces synthesised by the engine rather than observed in input data.
const (
	NamespacePlatformUnallocated = "Platform unallocated"
	NamespaceWorkerUnallocated   = "Worker unallocated"
	NamespaceNetworkUnattributed = "Network unattributed"
	NamespaceStorageUnattributed = "Storage unattributed"
)

// Node roles as stored in ocp_nodes.node_role.
const (
	NodeRoleMaster = "master"
	NodeRoleInfra  = "infra"
	NodeRoleWorker = "worker"
)

// PodLineItem is one row of hourly or daily container pod usage, as read
// from Parquet under dataset kind DatasetPod.
type PodLineItem struct {
	IntervalStart time.Time
	Source        string // provider UUID
	Namespace     string
	Node          string
	Pod           string
	ResourceID    string
	PodLabelsJSON string // raw JSON, possibly empty/null

	UsageCPUCoreSeconds     float64
	RequestCPUCoreSeconds   float64
	LimitCPUCoreSeconds     float64
	EffectiveCPUCoreSeconds *float64 // optional column, nil when absent

	UsageMemoryByteSeconds     float64
	RequestMemoryByteSeconds   float64
	LimitMemoryByteSeconds     float64
	EffectiveMemoryByteSeconds *float64

	NodeCapacityCPUCores            float64
	NodeCapacityMemoryBytes         float64
	NodeCapacityCPUCoreSeconds      float64
	NodeCapacityMemoryByteSeconds   float64
}

// Day returns the calendar date of IntervalStart, truncated to midnight UTC.
func (p PodLineItem) Day() time.Time {
	y, m, d := p.IntervalStart.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StorageLineItem is one row of hourly or daily container storage usage.
type StorageLineItem struct {
	IntervalStart             time.Time
	Source                    string
	Namespace                 string
	Pod                       string
	PersistentVolumeClaim     string
	PersistentVolume          string
	StorageClass              string
	CSIVolumeHandle           string
	CapacityBytes             float64
	RequestStorageByteSeconds float64
	UsageByteSeconds          float64
	PVLabelsJSON              string
	PVCLabelsJSON             string
}

func (s StorageLineItem) Day() time.Time {
	y, m, d := s.IntervalStart.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NodeLabelDaily / NamespaceLabelDaily are the authoritative per-day label
// sources for nodes and namespaces (spec.md §3).
type NodeLabelDaily struct {
	Day        time.Time
	Node       string
	LabelsJSON string
}

type NamespaceLabelDaily struct {
	Day        time.Time
	Namespace  string
	LabelsJSON string
}

// CloudLineItem is one row of the hourly-or-daily cloud billing dataset.
type CloudLineItem struct {
	UsageStart               time.Time
	LineItemResourceID       string
	LineItemUsageAccountID   string
	LineItemProductCode      string
	ProductFamily            string
	InstanceType             string
	Region                   string
	AvailabilityZone         string
	UsageType                string
	Operation                string
	UsageAmount              decimal.Decimal
	UnblendedCost            decimal.Decimal
	UnblendedRate            decimal.Decimal
	BlendedCost              decimal.Decimal
	SavingsPlanEffectiveCost decimal.Decimal
	CalculatedAmortizedCost  decimal.Decimal
	CurrencyCode             string
	PricingUnit              string
	ResourceTagsJSON         string
	CostCategoryJSON         string
	BillBillingEntity        string
	LineItemType             string // e.g. "SavingsPlanCoveredUsage", "Tax"
}

func (c CloudLineItem) Day() time.Time {
	y, m, d := c.UsageStart.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const LineItemTypeSavingsPlanCoveredUsage = "SavingsPlanCoveredUsage"
const LineItemTypeTax = "Tax"

// NodeCapacityDay is C4's per-(day,node) output.
type NodeCapacityDay struct {
	Day             time.Time
	Node            string
	CPUCoreSeconds  float64
	MemByteSeconds  float64
}

func (n NodeCapacityDay) CPUCoreHours() float64 { return n.CPUCoreSeconds / 3600.0 }
func (n NodeCapacityDay) MemByteHours() float64 { return n.MemByteSeconds / 3600.0 }

// ClusterCapacityDay is C4's per-day cluster-wide output.
type ClusterCapacityDay struct {
	Day            time.Time
	CPUCoreSeconds float64
	MemByteSeconds float64
}

func (c ClusterCapacityDay) CPUCoreHours() float64 { return c.CPUCoreSeconds / 3600.0 }
func (c ClusterCapacityDay) MemByteHours() float64 { return c.MemByteSeconds / 3600.0 }

// NodeRole is metadata pulled from ocp_nodes.
type NodeRole struct {
	Node       string
	ResourceID string
	Role       string // "master" | "infra" | "worker" | ""
}

// CostCategoryPattern is a LIKE pattern with its winning identifier.
type CostCategoryPattern struct {
	Pattern string
	ID      int64
}

// ContainerSummaryRow is the output daily summary row for the container
// aggregation engine (C5/C6/C7), one row per (usage_start, namespace, node,
// resource_id, source, merged_label_set, data_source).
type ContainerSummaryRow struct {
	ReportPeriodID int64
	ClusterID      string
	ClusterAlias   string
	Source         string
	Year           string
	Month          string // zero-padded width 2, per P9
	Day            string

	UsageStart time.Time
	UsageEnd   time.Time
	Namespace  string
	Node       string
	ResourceID string
	DataSource DataSource

	PodLabels        string // canonical JSON
	CostCategoryID   *int64

	// Pod columns (nil-able via zero value when DataSource=Storage)
	PodUsageCPUCoreHours       float64
	PodRequestCPUCoreHours     float64
	PodLimitCPUCoreHours       float64
	PodEffectiveUsageCPUHours  float64
	PodUsageMemoryGBHours      float64
	PodRequestMemoryGBHours    float64
	PodLimitMemoryGBHours      float64
	PodEffectiveUsageMemGBHours float64

	NodeCapacityCPUCores       float64
	NodeCapacityMemoryGB       float64
	NodeCapacityCPUCoreHours   float64
	NodeCapacityMemByteHours   float64
	ClusterCapacityCPUCoreHours float64
	ClusterCapacityMemByteHours float64

	// Storage columns
	PersistentVolumeClaim             string
	PersistentVolume                  string
	StorageClass                      string
	CSIVolumeHandle                   string
	PersistentVolumeClaimCapacityGB       float64
	PersistentVolumeClaimCapacityGBMonths float64
	VolumeRequestStorageGBMonths          float64
	PersistentVolumeClaimUsageGBMonths    float64

	InfrastructureUsageCostJSON string
}

// GroupKey is the canonical grouping surrogate for C5/C6: (day, namespace,
// node, source[, pvc, pv, storageclass], canonical label string).
type GroupKey struct {
	Day                   string
	Namespace             string
	Node                  string
	Source                string
	PersistentVolumeClaim string
	PersistentVolume      string
	StorageClass          string
	CanonicalLabels       string
}

// ResourceMatchKind distinguishes the three C8 matching rules.
type ResourceMatchKind string

const (
	MatchKindNode      ResourceMatchKind = "node"
	MatchKindCSIVolume ResourceMatchKind = "csi_volume"
	MatchKindPVName    ResourceMatchKind = "pv_name"
)

// ResourceMatch is one candidate match produced by C8 for a cloud row.
type ResourceMatch struct {
	Key  string // node name or PersistentVolume name, depending on Kind
	Kind ResourceMatchKind
}

// CloudOnContainerRow is the output daily summary row for the
// container-on-cloud attribution engine (C8-C13).
type CloudOnContainerRow struct {
	RowID string

	UsageStart        time.Time
	Namespace         *string // nil for tax pass-through rows
	Node              string
	ResourceID        string
	ProductCode       string
	ProductFamily     string
	InstanceType      string
	Region            string
	AvailabilityZone  string
	MergedLabels      string // canonical JSON
	DataSource        string // "Network" for network-classified rows, "" otherwise
	DataTransferDirection string // "IN"/"OUT"/""

	UnblendedCost            decimal.Decimal
	BlendedCost              decimal.Decimal
	SavingsPlanEffectiveCost decimal.Decimal
	CalculatedAmortizedCost  decimal.Decimal

	MarkupUnblendedCost            decimal.Decimal
	MarkupBlendedCost              decimal.Decimal
	MarkupSavingsPlanEffectiveCost decimal.Decimal
	MarkupCalculatedAmortizedCost  decimal.Decimal

	UsageAccountID string
	CurrencyCode   string
	PricingUnit    string
	BillBillingEntity string

	ResourceIDMatched bool
	MatchedTag        string
}
