// Package sink implements C2: the relational store the engine reads
// metadata from (enabled tag keys, cost category patterns, node roles) and
// writes daily summary rows to, via a native bulk-copy load path rather
// than row-at-a-time inserts (spec.md §4.2).
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/materialize"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/ocperrors"
)

// Sink wraps both database handles the engine needs: gorm for the small,
// ad hoc metadata queries and a raw pgx pool for bulk copy loads (spec.md
// §4.2 "two access patterns").
type Sink struct {
	meta *gorm.DB
	pool *pgxpool.Pool
	redis *redis.Client
	cacheTTL time.Duration
}

// Open connects both handles against the same DSN, and an optional Redis
// client used to cache metadata between runs (api-server's pricing-cache
// pattern, generalised to the aggregation engine's metadata tables).
func Open(ctx context.Context, dsn string, redisAddr, redisPassword string, redisDB int, cacheTTL time.Duration) (*Sink, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, ocperrors.Configuration("sink", fmt.Errorf("opening gorm connection: %w", err))
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, ocperrors.Configuration("sink", fmt.Errorf("parsing pgx dsn: %w", err))
	}
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, ocperrors.Transient("sink", fmt.Errorf("connecting pgx pool: %w", err))
	}

	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr, Password: redisPassword, DB: redisDB})
	}

	return &Sink{meta: gdb, pool: pool, redis: rdb, cacheTTL: cacheTTL}, nil
}

func (s *Sink) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
}

func (s *Sink) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// FetchEnabledTagKeys returns the tag keys the allow-list filter should
// keep, cached in Redis for cacheTTL to avoid hammering the metadata table
// on repeated small runs.
func (s *Sink) FetchEnabledTagKeys(ctx context.Context, clusterID string) ([]string, error) {
	cacheKey := "aggregator:enabled_tag_keys:" + clusterID
	if keys, ok := s.getCachedStrings(ctx, cacheKey); ok {
		return keys, nil
	}

	var keys []string
	err := s.meta.WithContext(ctx).
		Table("enabled_tag_keys").
		Where("cluster_id = ? AND enabled = true", clusterID).
		Pluck("key", &keys).Error
	if err != nil {
		return nil, ocperrors.Transient("sink", fmt.Errorf("fetching enabled tag keys: %w", err))
	}

	s.setCachedStrings(ctx, cacheKey, keys)
	return keys, nil
}

// FetchCostCategoryPatterns returns the (LIKE pattern, id) pairs used by
// the cost-category resolver.
func (s *Sink) FetchCostCategoryPatterns(ctx context.Context, clusterID string) ([]model.CostCategoryPattern, error) {
	var patterns []model.CostCategoryPattern
	err := s.meta.WithContext(ctx).
		Table("cost_category_namespace").
		Select("pattern, id").
		Where("cluster_id = ?", clusterID).
		Find(&patterns).Error
	if err != nil {
		return nil, ocperrors.Transient("sink", fmt.Errorf("fetching cost category patterns: %w", err))
	}
	return patterns, nil
}

// FetchNodeRoles returns the observed node_role column from ocp_nodes,
// used by C7 to route unallocated residuals.
func (s *Sink) FetchNodeRoles(ctx context.Context, clusterID string) ([]model.NodeRole, error) {
	var roles []model.NodeRole
	err := s.meta.WithContext(ctx).
		Table("ocp_nodes").
		Select("node, resource_id, node_role as role").
		Where("cluster_id = ?", clusterID).
		Find(&roles).Error
	if err != nil {
		return nil, ocperrors.Transient("sink", fmt.Errorf("fetching node roles: %w", err))
	}
	return roles, nil
}

// FilterKnownNodes returns the subset of candidates that exist in
// ocp_nodes for clusterID, binding the candidate set as a single Postgres
// array parameter rather than one placeholder per node (spec.md §4.9 tag
// match "validate against the canonical node list", mirrors the teacher's
// pq.StringArray use for PricingPlan.Features).
func (s *Sink) FilterKnownNodes(ctx context.Context, clusterID string, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	var known []string
	err := s.meta.WithContext(ctx).
		Table("ocp_nodes").
		Select("node").
		Where("cluster_id = ? AND node = ANY(?)", clusterID, pq.Array(candidates)).
		Pluck("node", &known).Error
	if err != nil {
		return nil, ocperrors.Transient("sink", fmt.Errorf("filtering known nodes: %w", err))
	}
	return known, nil
}

// BulkAppendContainerSummary loads rows into reporting_ocpusagelineitem_daily_summary
// via pgx's native COPY protocol, the fast path the teacher's row-at-a-time
// InsertPodMetric/InsertNodeMetric lacked (spec.md §4.2 "bulk_append").
func (s *Sink) BulkAppendContainerSummary(ctx context.Context, rows []model.ContainerSummaryRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	columns := []string{
		"report_period_id", "cluster_id", "cluster_alias", "source", "year", "month", "day",
		"usage_start", "usage_end", "namespace", "node", "resource_id", "data_source",
		"pod_labels", "cost_category_id",
		"pod_usage_cpu_core_hours", "pod_request_cpu_core_hours", "pod_limit_cpu_core_hours",
		"pod_usage_memory_gigabyte_hours", "pod_request_memory_gigabyte_hours", "pod_limit_memory_gigabyte_hours",
		"node_capacity_cpu_core_hours", "node_capacity_memory_gigabyte_hours",
		"cluster_capacity_cpu_core_hours", "cluster_capacity_memory_gigabyte_hours",
		"persistentvolumeclaim", "persistentvolume", "storageclass",
		"persistentvolumeclaim_capacity_gigabyte", "persistentvolumeclaim_capacity_gigabyte_months",
		"volume_request_storage_gigabyte_months", "persistentvolumeclaim_usage_gigabyte_months",
		"infrastructure_usage_cost",
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, ocperrors.Transient("sink", fmt.Errorf("beginning bulk load transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"reporting_ocpusagelineitem_daily_summary"},
		columns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{
				r.ReportPeriodID, r.ClusterID, r.ClusterAlias, r.Source, r.Year, r.Month, r.Day,
				r.UsageStart, r.UsageEnd, r.Namespace, r.Node, r.ResourceID, string(r.DataSource),
				r.PodLabels, r.CostCategoryID,
				r.PodUsageCPUCoreHours, r.PodRequestCPUCoreHours, r.PodLimitCPUCoreHours,
				r.PodUsageMemoryGBHours, r.PodRequestMemoryGBHours, r.PodLimitMemoryGBHours,
				r.NodeCapacityCPUCoreHours, r.NodeCapacityMemByteHours / 1073741824.0,
				r.ClusterCapacityCPUCoreHours, r.ClusterCapacityMemByteHours / 1073741824.0,
				r.PersistentVolumeClaim, r.PersistentVolume, r.StorageClass,
				r.PersistentVolumeClaimCapacityGB, r.PersistentVolumeClaimCapacityGBMonths,
				r.VolumeRequestStorageGBMonths, r.PersistentVolumeClaimUsageGBMonths,
				r.InfrastructureUsageCostJSON,
			}, nil
		}),
	)
	if err != nil {
		return 0, ocperrors.Transient("sink", fmt.Errorf("bulk copy failed, rolled back: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, ocperrors.Transient("sink", fmt.Errorf("committing bulk load: %w", err))
	}
	return n, nil
}

// BulkAppendRollups writes every table in one materialize.Rollups batch,
// each via its own COPY inside a single transaction so a roll-up write
// failure never leaves partial roll-up tables. The container summary rows
// they are derived from are committed earlier in their own transaction by
// BulkAppendContainerSummary, and a roll-up failure does not roll them back.
func (s *Sink) BulkAppendRollups(ctx context.Context, r materialize.Rollups) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ocperrors.Transient("sink", fmt.Errorf("beginning rollup transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := copyCostSummary(ctx, tx, "cost_summary", r.CostSummary); err != nil {
		return err
	}
	breakdowns := []struct {
		table string
		rows  []materialize.BreakdownRow
	}{
		{"cost_summary_by_account", r.ByAccount},
		{"cost_summary_storage", r.StorageSummary},
		{"cost_summary_database", r.DatabaseSummary},
		{"cost_summary_network", r.NetworkSummary},
	}
	for _, b := range breakdowns {
		if err := copyBreakdown(ctx, tx, b.table, b.rows); err != nil {
			return err
		}
	}
	if err := copyServiceBreakdown(ctx, tx, "cost_summary_by_service", r.ByService); err != nil {
		return err
	}
	if err := copyRegionBreakdown(ctx, tx, "cost_summary_by_region", r.ByRegion); err != nil {
		return err
	}
	if err := copyComputeSummary(ctx, tx, "cost_summary_compute", r.ComputeSummary); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return ocperrors.Transient("sink", fmt.Errorf("committing rollup load: %w", err))
	}
	return nil
}

func copyCostSummary(ctx context.Context, tx pgx.Tx, table string, rows []materialize.CostSummaryRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{table},
		[]string{"id", "usage_start", "cost", "markup_cost"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{r.ID, r.UsageStart, r.Cost, r.MarkupCost}, nil
		}),
	)
	if err != nil {
		return ocperrors.Transient("sink", fmt.Errorf("bulk copy into %s failed: %w", table, err))
	}
	return nil
}

func copyServiceBreakdown(ctx context.Context, tx pgx.Tx, table string, rows []materialize.ServiceBreakdownRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{table},
		[]string{"id", "usage_start", "usage_account_id", "product_code", "product_family", "cost", "markup_cost"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{r.ID, r.UsageStart, r.UsageAccountID, r.ProductCode, r.ProductFamily, r.Cost, r.MarkupCost}, nil
		}),
	)
	if err != nil {
		return ocperrors.Transient("sink", fmt.Errorf("bulk copy into %s failed: %w", table, err))
	}
	return nil
}

func copyRegionBreakdown(ctx context.Context, tx pgx.Tx, table string, rows []materialize.RegionBreakdownRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{table},
		[]string{"id", "usage_start", "usage_account_id", "region", "availability_zone", "cost", "markup_cost"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{r.ID, r.UsageStart, r.UsageAccountID, r.Region, r.AvailabilityZone, r.Cost, r.MarkupCost}, nil
		}),
	)
	if err != nil {
		return ocperrors.Transient("sink", fmt.Errorf("bulk copy into %s failed: %w", table, err))
	}
	return nil
}

func copyComputeSummary(ctx context.Context, tx pgx.Tx, table string, rows []materialize.ComputeSummaryRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{table},
		[]string{"id", "usage_start", "usage_account_id", "instance_type", "resource_id", "cost", "markup_cost"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{r.ID, r.UsageStart, r.UsageAccountID, r.InstanceType, r.ResourceID, r.Cost, r.MarkupCost}, nil
		}),
	)
	if err != nil {
		return ocperrors.Transient("sink", fmt.Errorf("bulk copy into %s failed: %w", table, err))
	}
	return nil
}

func copyBreakdown(ctx context.Context, tx pgx.Tx, table string, rows []materialize.BreakdownRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{table},
		[]string{"id", "usage_start", "dimension", "cost", "markup_cost"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{r.ID, r.UsageStart, r.Dimension, r.Cost, r.MarkupCost}, nil
		}),
	)
	if err != nil {
		return ocperrors.Transient("sink", fmt.Errorf("bulk copy into %s failed: %w", table, err))
	}
	return nil
}
