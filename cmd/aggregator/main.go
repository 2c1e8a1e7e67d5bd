// Command aggregator runs one batch of the OCP-on-cloud daily aggregation
// engine: it reads the configured report window's partitions from object
// storage, runs every pipeline stage, and writes the resulting summary and
// roll-up tables to the relational sink (spec.md §4.14).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/config"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/logging"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/objectstore"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/ocperrors"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/pipeline"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/sink"
)

func main() {
	configPath := flag.String("config", os.Getenv("AGGREGATOR_CONFIG_FILE"), "path to the run's YAML config")
	envPath := flag.String("env", ".env", "path to an optional .env file for local runs")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(ocperrors.ExitCode(ocperrors.Configuration("main", err)))
	}

	if err := logging.Configure(cfg.Environment != "production", "info"); err != nil {
		fmt.Fprintf(os.Stderr, "configure logging: %v\n", err)
		os.Exit(1)
	}
	log := logging.WithStage("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info("shutdown signal received, draining in-flight window")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Errorw("run failed", "error", err)
		os.Exit(ocperrors.ExitCode(err))
	}
	log.Info("run complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logging.WithStage("main")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ObjectStore.Region))
	if err != nil {
		return ocperrors.Configuration("main", fmt.Errorf("loading aws config: %w", err))
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ObjectStore.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.ObjectStore.Endpoint)
			o.UsePathStyle = true
		}
	})

	reader := objectstore.NewReader(
		s3Client,
		cfg.ObjectStore.Bucket,
		cfg.ObjectStore.StreamingThresholdBytes,
		time.Duration(cfg.Retry.MaxElapsedSeconds)*time.Second,
		time.Duration(cfg.Retry.InitialIntervalMS)*time.Millisecond,
	)
	reader.ForceStreaming = cfg.Mode.Streaming
	reader.ChunkRows = cfg.Mode.ChunkRows
	reader.InMemoryRowLimit = cfg.Mode.InMemoryRowLimit

	st, err := sink.Open(ctx, cfg.Sink.DSN, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
		time.Duration(cfg.Sink.MetadataCacheTTLSeconds)*time.Second)
	if err != nil {
		return err
	}
	defer st.Close()

	enabledTagKeys, err := st.FetchEnabledTagKeys(ctx, cfg.Run.ClusterID)
	if err != nil {
		return err
	}
	patterns, err := st.FetchCostCategoryPatterns(ctx, cfg.Run.ClusterID)
	if err != nil {
		return err
	}
	roles, err := st.FetchNodeRoles(ctx, cfg.Run.ClusterID)
	if err != nil {
		return err
	}

	reportStart, err := time.Parse("2006-01-02", cfg.Run.ReportStart)
	if err != nil {
		return ocperrors.Configuration("main", fmt.Errorf("parsing run.report_start: %w", err))
	}
	reportEnd, err := time.Parse("2006-01-02", cfg.Run.ReportEnd)
	if err != nil {
		return ocperrors.Configuration("main", fmt.Errorf("parsing run.report_end: %w", err))
	}
	windows := pipeline.Steps(reportStart, reportEnd, cfg.Run.Days)
	log.Infow("resolved run window", "windows", len(windows), "report_start", cfg.Run.ReportStart, "report_end", cfg.Run.ReportEnd)

	audit := ocperrors.NewSliceSink()
	driver := pipeline.Driver{
		Fetch: fetchWindow(reader, cfg, audit),
		Sink:  st,
		Audit: audit,
		Metadata: pipeline.Metadata{
			EnabledTagKeys:       enabledTagKeys,
			CostCategoryPatterns: patterns,
			NodeRoles:            roles,
			MarkupRate:           cfg.Cost.MarkupRate,
			Distribution:         cfg.Cost.Distribution,
			ClusterID:            cfg.Run.ClusterID,
			ClusterAlias:         cfg.Run.ClusterAlias,
			ReportPeriodID:       cfg.Run.ReportPeriodID,
		},
	}

	if err := driver.Run(ctx, windows); err != nil {
		return err
	}
	log.Infow("audit summary", "dropped_or_flagged_rows", audit.Count())
	return nil
}

// fetchWindow returns a pipeline.FetchFunc that reads one day's partition
// across every dataset. The three bulk usage datasets fan out concurrently
// via pipeline.FetchConcurrently; the two label datasets are small enough
// to read inline (spec.md §4.1, §4.14).
func fetchWindow(reader *objectstore.Reader, cfg *config.Config, audit ocperrors.Sink) pipeline.FetchFunc {
	readPod := func(ctx context.Context, w pipeline.Window) ([]model.PodLineItem, error) {
		return readDataset(ctx, reader, cfg, audit, objectstore.DatasetPod, cfg.ObjectStore.PodDatasetPath, w.Day, podColumns, true, objectstore.DecodePodRows)
	}
	readStorage := func(ctx context.Context, w pipeline.Window) ([]model.StorageLineItem, error) {
		return readDataset(ctx, reader, cfg, audit, objectstore.DatasetStorage, cfg.ObjectStore.StorageDatasetPath, w.Day, storageColumns, false, objectstore.DecodeStorageRows)
	}
	readCloud := func(ctx context.Context, w pipeline.Window) ([]model.CloudLineItem, error) {
		// The cloud side is always materialised in full: C12's matching step
		// needs the entire cloud relation in memory (spec.md §5).
		return readDataset(ctx, reader, cfg, audit, objectstore.DatasetCloud, cfg.ObjectStore.CloudDatasetPath, w.Day, cloudColumns, false, objectstore.DecodeCloudRows)
	}

	decodeNodeLabels := func(t arrow.Table, _ ocperrors.Sink) ([]model.NodeLabelDaily, error) {
		return objectstore.DecodeNodeLabelRows(t)
	}
	decodeNamespaceLabels := func(t arrow.Table, _ ocperrors.Sink) ([]model.NamespaceLabelDaily, error) {
		return objectstore.DecodeNamespaceLabelRows(t)
	}

	return func(ctx context.Context, w pipeline.Window) (pipeline.Sources, error) {
		src, err := pipeline.FetchConcurrently(ctx, w, readPod, readStorage, readCloud)
		if err != nil {
			return pipeline.Sources{}, err
		}

		nodeLabels, err := readDataset(ctx, reader, cfg, audit, "node_labels", "node_labels", w.Day, nodeLabelColumns, false, decodeNodeLabels)
		if err != nil {
			return pipeline.Sources{}, err
		}
		nsLabels, err := readDataset(ctx, reader, cfg, audit, "namespace_labels", "namespace_labels", w.Day, namespaceLabelColumns, false, decodeNamespaceLabels)
		if err != nil {
			return pipeline.Sources{}, err
		}
		src.NodeLabels = nodeLabels
		src.NamespaceLabels = nsLabels
		return src, nil
	}
}

// Column projections for each dataset, matching the field names
// internal/objectstore's decoders read (spec.md §4.1 "Column projection").
var (
	podColumns = []string{
		"interval_start", "source", "namespace", "node", "pod", "resource_id", "pod_labels",
		"pod_usage_cpu_core_seconds", "pod_request_cpu_core_seconds", "pod_limit_cpu_core_seconds",
		"pod_effective_usage_cpu_core_seconds",
		"pod_usage_memory_byte_seconds", "pod_request_memory_byte_seconds", "pod_limit_memory_byte_seconds",
		"pod_effective_usage_memory_byte_seconds",
		"node_capacity_cpu_cores", "node_capacity_memory_bytes",
		"node_capacity_cpu_core_seconds", "node_capacity_memory_byte_seconds",
	}
	storageColumns = []string{
		"interval_start", "source", "namespace", "pod", "persistentvolumeclaim", "persistentvolume",
		"storageclass", "csi_volume_handle", "persistentvolumeclaim_capacity_bytes",
		"volume_request_storage_byte_seconds", "persistentvolumeclaim_usage_byte_seconds",
		"persistentvolume_labels", "persistentvolumeclaim_labels",
	}
	cloudColumns = []string{
		"usage_start", "lineitem_resourceid", "lineitem_usageaccountid", "lineitem_productcode",
		"product_family", "product_instance_type", "product_region", "lineitem_availabilityzone",
		"lineitem_usagetype", "lineitem_operation", "lineitem_usageamount", "lineitem_unblendedcost",
		"lineitem_unblendedrate", "lineitem_blendedcost", "savingsplan_savingsplaneffectivecost",
		"pricing_calculated_amortized_cost", "lineitem_currencycode", "pricing_unit",
		"resource_tags", "cost_category", "bill_billingentity", "lineitem_lineitemtype",
	}
	nodeLabelColumns      = []string{"day", "node", "node_labels"}
	namespaceLabelColumns = []string{"day", "namespace", "namespace_labels"}
)

// readDataset lists, opens, and decodes every Parquet object under one
// day's partition for a dataset, projecting to columns and concatenating
// the resulting rows. chunkable datasets (pod aggregation only, spec.md
// §5) switch to row-group-batched reads once a file's row count crosses
// mode.in_memory_row_limit or mode.streaming forces it; every other
// dataset is always read in full. If decode drops more than
// object_store.max_corrupt_fraction of the partition's rows for a
// malformed critical column, the read aborts as Corrupt (spec.md §7,
// exit code 3) rather than silently continuing on mostly-bad data.
func readDataset[T any](ctx context.Context, reader *objectstore.Reader, cfg *config.Config, audit ocperrors.Sink,
	kind objectstore.DatasetKind, datasetPath string, day time.Time, columns []string, chunkable bool, decode func(arrow.Table, ocperrors.Sink) ([]T, error)) ([]T, error) {
	part := objectstore.Partition{
		ClusterID: cfg.Run.ClusterID,
		Year:      day.Year(),
		Month:     int(day.Month()),
		Day:       day.Day(),
	}

	keys, err := reader.ListPartitionObjects(ctx, datasetPath, part)
	if err != nil {
		return nil, err
	}

	var rows []T
	var totalRows, decodedRows int64
	decodeAndCount := func(table arrow.Table) ([]T, error) {
		totalRows += table.NumRows()
		decoded, err := decode(table, audit)
		if err != nil {
			return nil, err
		}
		decodedRows += int64(len(decoded))
		return decoded, nil
	}

	for _, key := range keys {
		src, err := reader.OpenObject(ctx, key)
		if err != nil {
			return nil, err
		}
		fr, pf, err := objectstore.OpenParquet(src)
		if err != nil {
			src.Close()
			return nil, err
		}

		if chunkable && reader.ShouldStream(objectstore.TotalRows(pf)) {
			chunkErr := objectstore.ReadProjectedChunks(ctx, fr, pf, columns, reader.ChunkRows, func(table arrow.Table) error {
				decoded, err := decodeAndCount(table)
				if err != nil {
					return err
				}
				rows = append(rows, decoded...)
				return nil
			})
			pf.Close()
			src.Close()
			if chunkErr != nil {
				return nil, ocperrors.Corrupt(string(kind), fmt.Errorf("streaming %s: %w", key, chunkErr))
			}
			continue
		}

		table, err := objectstore.ReadProjectedTable(ctx, fr, columns)
		if err != nil {
			pf.Close()
			src.Close()
			return nil, ocperrors.Corrupt(string(kind), fmt.Errorf("reading %s: %w", key, err))
		}
		decoded, err := decodeAndCount(table)
		table.Release()
		pf.Close()
		src.Close()
		if err != nil {
			return nil, err
		}
		rows = append(rows, decoded...)
	}

	if totalRows > 0 {
		corrupt := totalRows - decodedRows
		if float64(corrupt)/float64(totalRows) > cfg.ObjectStore.MaxCorruptFraction {
			return nil, ocperrors.Corrupt(string(kind), fmt.Errorf(
				"%d/%d rows malformed in partition cluster_id=%s year=%04d month=%02d day=%02d, exceeds max_corrupt_fraction=%.4f",
				corrupt, totalRows, part.ClusterID, part.Year, part.Month, part.Day, cfg.ObjectStore.MaxCorruptFraction))
		}
	}
	return rows, nil
}
