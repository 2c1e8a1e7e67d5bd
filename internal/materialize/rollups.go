// Package materialize implements C13: the daily roll-up tables derived
// from the cloud-on-container attribution output — cost summary broken
// down by account, service, region, plus compute/storage/database/network
// summaries (spec.md §4.13).
package materialize

import (
	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IDFunc generates a synthetic primary key for each materialised row.
// Production wiring uses uuid.NewString; tests inject a deterministic
// sequence.
type IDFunc func() string

func DefaultIDFunc() string { return uuid.NewString() }

// CostSummaryRow is the top-level daily cost roll-up: one row per
// usage_start, across every namespace (spec.md §4.13 "cost_summary").
type CostSummaryRow struct {
	ID         string
	UsageStart string
	Cost       decimal.Decimal
	MarkupCost decimal.Decimal
}

// BreakdownRow is the shared shape for the by_account/storage/database/
// network roll-ups: one row per (usage_start, dimension value).
type BreakdownRow struct {
	ID         string
	UsageStart string
	Dimension  string
	Cost       decimal.Decimal
	MarkupCost decimal.Decimal
}

// ServiceBreakdownRow is by_service: one row per (usage_start,
// usage_account_id, product_code, product_family).
type ServiceBreakdownRow struct {
	ID             string
	UsageStart     string
	UsageAccountID string
	ProductCode    string
	ProductFamily  string
	Cost           decimal.Decimal
	MarkupCost     decimal.Decimal
}

// RegionBreakdownRow is by_region: one row per (usage_start,
// usage_account_id, region, availability_zone).
type RegionBreakdownRow struct {
	ID               string
	UsageStart       string
	UsageAccountID   string
	Region           string
	AvailabilityZone string
	Cost             decimal.Decimal
	MarkupCost       decimal.Decimal
}

// ComputeSummaryRow is compute_summary: one row per (usage_start,
// usage_account_id, instance_type, resource_id), filtered to rows that
// actually carry an instance type.
type ComputeSummaryRow struct {
	ID             string
	UsageStart     string
	UsageAccountID string
	InstanceType   string
	ResourceID     string
	Cost           decimal.Decimal
	MarkupCost     decimal.Decimal
}

// Rollups bundles every materialised table produced from one attribution
// batch.
type Rollups struct {
	CostSummary     []CostSummaryRow
	ByAccount       []BreakdownRow
	ByService       []ServiceBreakdownRow
	ByRegion        []RegionBreakdownRow
	ComputeSummary  []ComputeSummaryRow
	StorageSummary  []BreakdownRow
	DatabaseSummary []BreakdownRow
	NetworkSummary  []BreakdownRow
}

type groupTotal struct {
	cost       decimal.Decimal
	markupCost decimal.Decimal
}

// networkProductCodes are the product codes spec.md §4.13 names for
// network_summary; distinct from internal/network's Data-Transfer-family
// classification, which governs attribution rather than this roll-up.
var networkProductCodes = map[string]struct{}{
	"AmazonVPC":        {},
	"AmazonCloudFront": {},
	"AmazonRoute53":    {},
	"AmazonAPIGateway": {},
}

// Build runs every roll-up over one batch of attributed rows.
func Build(rows []model.CloudOnContainerRow, idFunc IDFunc) Rollups {
	if idFunc == nil {
		idFunc = DefaultIDFunc
	}

	costByDay := make(map[string]*groupTotal)
	costByDayOrder := make([]string, 0)
	byAccount := newTotals()
	byService := newServiceTotals()
	byRegion := newRegionTotals()
	computeSummary := newComputeTotals()
	storageSummary := newTotals()
	databaseSummary := newTotals()
	networkSummary := newTotals()

	for _, r := range rows {
		day := r.UsageStart.Format("2006-01-02")

		acc, ok := costByDay[day]
		if !ok {
			acc = &groupTotal{}
			costByDay[day] = acc
			costByDayOrder = append(costByDayOrder, day)
		}
		acc.cost = acc.cost.Add(r.UnblendedCost)
		acc.markupCost = acc.markupCost.Add(r.MarkupUnblendedCost)

		byAccount.add(day, r.UsageAccountID, r.UnblendedCost, r.MarkupUnblendedCost)
		byService.add(day, r.UsageAccountID, r.ProductCode, r.ProductFamily, r.UnblendedCost, r.MarkupUnblendedCost)
		byRegion.add(day, r.UsageAccountID, r.Region, r.AvailabilityZone, r.UnblendedCost, r.MarkupUnblendedCost)

		// Each of these is its own filtered view over the same rows, not a
		// partition: a row can in principle satisfy more than one filter
		// (spec.md §4.13).
		if isStorageProduct(r.ProductFamily, r.PricingUnit) {
			storageSummary.add(day, r.ProductFamily, r.UnblendedCost, r.MarkupUnblendedCost)
		}
		if isNetworkProduct(r.ProductCode) {
			networkSummary.add(day, r.DataTransferDirection, r.UnblendedCost, r.MarkupUnblendedCost)
		}
		if isDatabaseProduct(r.ProductCode) {
			databaseSummary.add(day, r.ProductCode, r.UnblendedCost, r.MarkupUnblendedCost)
		}
		if r.InstanceType != "" {
			computeSummary.add(day, r.UsageAccountID, r.InstanceType, r.ResourceID, r.UnblendedCost, r.MarkupUnblendedCost)
		}
	}

	out := Rollups{}
	for _, day := range costByDayOrder {
		acc := costByDay[day]
		out.CostSummary = append(out.CostSummary, CostSummaryRow{
			ID: idFunc(), UsageStart: day, Cost: acc.cost, MarkupCost: acc.markupCost,
		})
	}
	out.ByAccount = byAccount.rows(idFunc)
	out.ByService = byService.rows(idFunc)
	out.ByRegion = byRegion.rows(idFunc)
	out.ComputeSummary = computeSummary.rows(idFunc)
	out.StorageSummary = storageSummary.rows(idFunc)
	out.DatabaseSummary = databaseSummary.rows(idFunc)
	out.NetworkSummary = networkSummary.rows(idFunc)
	return out
}

// isStorageProduct matches storage_summary's filter: a storage product
// family billed by the GB-month (spec.md §4.13).
func isStorageProduct(productFamily, pricingUnit string) bool {
	return contains(productFamily, "Storage") && pricingUnit == "GB-Mo"
}

func isNetworkProduct(productCode string) bool {
	_, ok := networkProductCodes[productCode]
	return ok
}

func isDatabaseProduct(productCode string) bool {
	switch productCode {
	case "AmazonRDS", "AmazonDynamoDB", "AmazonElastiCache", "AmazonNeptune", "AmazonRedshift", "AmazonDocumentDB":
		return true
	default:
		return false
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

type totals struct {
	byKey map[string]*groupTotal
	order []string
}

func newTotals() *totals {
	return &totals{byKey: make(map[string]*groupTotal)}
}

func (t *totals) add(day, dimension string, cost, markupCost decimal.Decimal) {
	key := day + "|" + dimension
	acc, ok := t.byKey[key]
	if !ok {
		acc = &groupTotal{}
		t.byKey[key] = acc
		t.order = append(t.order, key)
	}
	acc.cost = acc.cost.Add(cost)
	acc.markupCost = acc.markupCost.Add(markupCost)
}

func (t *totals) rows(idFunc IDFunc) []BreakdownRow {
	out := make([]BreakdownRow, 0, len(t.order))
	for _, key := range t.order {
		acc := t.byKey[key]
		day, dim := splitKey(key)
		out = append(out, BreakdownRow{ID: idFunc(), UsageStart: day, Dimension: dim, Cost: acc.cost, MarkupCost: acc.markupCost})
	}
	return out
}

// serviceTotals groups by_service's composite key: (day, account, product
// code, product family).
type serviceTotals struct {
	byKey map[string]*struct {
		account, code, family string
		total                 groupTotal
	}
	order []string
}

func newServiceTotals() *serviceTotals {
	return &serviceTotals{byKey: make(map[string]*struct {
		account, code, family string
		total                 groupTotal
	})}
}

func (t *serviceTotals) add(day, account, code, family string, cost, markupCost decimal.Decimal) {
	key := day + "|" + account + "|" + code + "|" + family
	acc, ok := t.byKey[key]
	if !ok {
		acc = &struct {
			account, code, family string
			total                 groupTotal
		}{account: account, code: code, family: family}
		t.byKey[key] = acc
		t.order = append(t.order, key)
	}
	acc.total.cost = acc.total.cost.Add(cost)
	acc.total.markupCost = acc.total.markupCost.Add(markupCost)
}

func (t *serviceTotals) rows(idFunc IDFunc) []ServiceBreakdownRow {
	out := make([]ServiceBreakdownRow, 0, len(t.order))
	for _, key := range t.order {
		acc := t.byKey[key]
		day, _ := splitKey(key)
		out = append(out, ServiceBreakdownRow{
			ID: idFunc(), UsageStart: day,
			UsageAccountID: acc.account, ProductCode: acc.code, ProductFamily: acc.family,
			Cost: acc.total.cost, MarkupCost: acc.total.markupCost,
		})
	}
	return out
}

// regionTotals groups by_region's composite key: (day, account, region,
// availability zone).
type regionTotals struct {
	byKey map[string]*struct {
		account, region, az string
		total                groupTotal
	}
	order []string
}

func newRegionTotals() *regionTotals {
	return &regionTotals{byKey: make(map[string]*struct {
		account, region, az string
		total                groupTotal
	})}
}

func (t *regionTotals) add(day, account, region, az string, cost, markupCost decimal.Decimal) {
	key := day + "|" + account + "|" + region + "|" + az
	acc, ok := t.byKey[key]
	if !ok {
		acc = &struct {
			account, region, az string
			total                groupTotal
		}{account: account, region: region, az: az}
		t.byKey[key] = acc
		t.order = append(t.order, key)
	}
	acc.total.cost = acc.total.cost.Add(cost)
	acc.total.markupCost = acc.total.markupCost.Add(markupCost)
}

func (t *regionTotals) rows(idFunc IDFunc) []RegionBreakdownRow {
	out := make([]RegionBreakdownRow, 0, len(t.order))
	for _, key := range t.order {
		acc := t.byKey[key]
		day, _ := splitKey(key)
		out = append(out, RegionBreakdownRow{
			ID: idFunc(), UsageStart: day,
			UsageAccountID: acc.account, Region: acc.region, AvailabilityZone: acc.az,
			Cost: acc.total.cost, MarkupCost: acc.total.markupCost,
		})
	}
	return out
}

// computeTotals groups compute_summary's composite key: (day, account,
// instance type, resource id).
type computeTotals struct {
	byKey map[string]*struct {
		account, instanceType, resourceID string
		total                             groupTotal
	}
	order []string
}

func newComputeTotals() *computeTotals {
	return &computeTotals{byKey: make(map[string]*struct {
		account, instanceType, resourceID string
		total                             groupTotal
	})}
}

func (t *computeTotals) add(day, account, instanceType, resourceID string, cost, markupCost decimal.Decimal) {
	key := day + "|" + account + "|" + instanceType + "|" + resourceID
	acc, ok := t.byKey[key]
	if !ok {
		acc = &struct {
			account, instanceType, resourceID string
			total                             groupTotal
		}{account: account, instanceType: instanceType, resourceID: resourceID}
		t.byKey[key] = acc
		t.order = append(t.order, key)
	}
	acc.total.cost = acc.total.cost.Add(cost)
	acc.total.markupCost = acc.total.markupCost.Add(markupCost)
}

func (t *computeTotals) rows(idFunc IDFunc) []ComputeSummaryRow {
	out := make([]ComputeSummaryRow, 0, len(t.order))
	for _, key := range t.order {
		acc := t.byKey[key]
		day, _ := splitKey(key)
		out = append(out, ComputeSummaryRow{
			ID: idFunc(), UsageStart: day,
			UsageAccountID: acc.account, InstanceType: acc.instanceType, ResourceID: acc.resourceID,
			Cost: acc.total.cost, MarkupCost: acc.total.markupCost,
		})
	}
	return out
}

func splitKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
