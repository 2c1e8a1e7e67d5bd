// Package pipeline implements C14: the orchestration driver that runs the
// engine's stages in order and fans out the independent dataset reads
// concurrently (spec.md §4.14). Errors are returned as they are; mapping
// them to a process exit code is left to cmd/aggregator via
// ocperrors.ExitCode.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/attribution"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/capacity"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/costcategory"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/labels"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/logging"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/materialize"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/ocperrors"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/podagg"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/resourcematch"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/sink"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/storageagg"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/tagmatch"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/unallocated"
)

// Window is one daily step of a run, the unit every stage processes.
type Window struct {
	Day time.Time
}

// Steps breaks [reportStart, reportEnd) into daily windows, optionally
// restricted to the most recent `days` of the report period when days > 0
// (spec.md §4.14 "optional days filter", adapted from the teacher's
// calculateSteps/parseStepDuration window-stepping pattern).
func Steps(reportStart, reportEnd time.Time, days int) []Window {
	start := reportStart
	if days > 0 {
		candidate := reportEnd.AddDate(0, 0, -days)
		if candidate.After(start) {
			start = candidate
		}
	}

	var windows []Window
	for d := start; d.Before(reportEnd); d = d.AddDate(0, 0, 1) {
		windows = append(windows, Window{Day: d})
	}
	return windows
}

// Sources is the raw per-window input data fetched from the object store,
// normally produced by objectstore.Reader + per-dataset decoders.
type Sources struct {
	PodRows        []model.PodLineItem
	StorageRows    []model.StorageLineItem
	CloudRows      []model.CloudLineItem
	NodeLabels     []model.NodeLabelDaily
	NamespaceLabels []model.NamespaceLabelDaily
}

// FetchFunc retrieves one window's Sources; swapped out in tests and bound
// to objectstore.Reader in production wiring.
type FetchFunc func(ctx context.Context, w Window) (Sources, error)

// Metadata is the once-per-run relational lookups C5-C12 need.
type Metadata struct {
	EnabledTagKeys      []string
	CostCategoryPatterns []model.CostCategoryPattern
	NodeRoles           []model.NodeRole
	MarkupRate          float64
	Distribution        string
	ClusterID           string
	ClusterAlias        string
	ReportPeriodID      int64
}

// Driver wires every stage together for one run.
type Driver struct {
	Fetch    FetchFunc
	Sink     *sink.Sink
	Audit    ocperrors.Sink
	Metadata Metadata
}

// Run executes the full pipeline over every window, writing each window's
// container summary rows and the roll-ups built from its cloud-on-container
// rows to the sink as they complete (spec.md §4.14 "stage barriers": within a window, pod/storage
// aggregation must finish before attribution starts; across windows, there
// is no ordering dependency).
func (d *Driver) Run(ctx context.Context, windows []Window) error {
	allow := labels.NewAllowSet(d.Metadata.EnabledTagKeys)
	categoryResolver := costcategory.NewResolver(d.Metadata.CostCategoryPatterns)
	nodeRoleByName := make(map[string]string, len(d.Metadata.NodeRoles))
	for _, nr := range d.Metadata.NodeRoles {
		nodeRoleByName[nr.Node] = nr.Role
	}

	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return ocperrors.Transient("pipeline", err)
		}

		src, err := d.Fetch(ctx, w)
		if err != nil {
			return err // already classified by the fetcher
		}

		nodeCapacity, clusterCapacity := capacity.Compute(src.PodRows)
		capIndex := capacity.NewIndex(nodeCapacity, clusterCapacity)

		nodeLabelIdx := podagg.BuildNodeLabelIndex(src.NodeLabels, d.Audit)
		nsLabelIdx := podagg.BuildNamespaceLabelIndex(src.NamespaceLabels, d.Audit)

		podSummary := podagg.Aggregate(src.PodRows, podagg.Inputs{
			NodeLabels: nodeLabelIdx, NamespaceLabels: nsLabelIdx, Allow: allow,
			Capacity: capIndex, CostCategories: categoryResolver, Audit: d.Audit,
			ClusterID: d.Metadata.ClusterID, ClusterAlias: d.Metadata.ClusterAlias,
			ReportPeriodID: d.Metadata.ReportPeriodID,
		})

		storageSummary := storageagg.Aggregate(src.StorageRows, storageagg.Inputs{
			PodNodeIndex:    storageagg.BuildPodNodeIndex(src.PodRows),
			NamespaceLabels: storageagg.BuildNamespaceLabelIndex(src.NamespaceLabels, d.Audit),
			Allow:           allow, Audit: d.Audit,
			ClusterID: d.Metadata.ClusterID, ClusterAlias: d.Metadata.ClusterAlias,
			ReportPeriodID: d.Metadata.ReportPeriodID,
		})

		residuals := unallocated.Synthesise(podSummary, unallocated.Inputs{
			Capacity: capIndex, NodeRoles: nodeRoleByName,
			ClusterID: d.Metadata.ClusterID, ClusterAlias: d.Metadata.ClusterAlias,
			ReportPeriodID: d.Metadata.ReportPeriodID,
		})

		containerSummary := make([]model.ContainerSummaryRow, 0, len(podSummary)+len(storageSummary)+len(residuals))
		containerSummary = append(containerSummary, podSummary...)
		containerSummary = append(containerSummary, storageSummary...)
		containerSummary = append(containerSummary, residuals...)

		if d.Sink != nil {
			if _, err := d.Sink.BulkAppendContainerSummary(ctx, containerSummary); err != nil {
				return err
			}
		}

		resourceIdx := resourcematch.NewIndex(nodeCandidates(containerSummary), volumeCandidates(containerSummary))
		shares := attribution.NamespaceShares(containerSummary, d.Metadata.Distribution)
		volumeNS := volumeNamespaces(containerSummary)
		volumeCap := volumeCapacities(containerSummary)

		observed := observedTopology(d.Metadata.ClusterID, d.Metadata.ClusterAlias, containerSummary)
		if d.Sink != nil {
			var err error
			observed, err = validateObservedNodes(ctx, d.Sink, d.Metadata.ClusterID, observed)
			if err != nil {
				return err
			}
		}

		attributed, err := attribution.Attribute(src.CloudRows, attribution.Inputs{
			ResourceIndex:       resourceIdx,
			TagObserved:         observed,
			TagAllow:            allow,
			NodeNamespaceShares: shares,
			VolumeNamespace:     volumeNS,
			VolumeCapacity:      volumeCap,
			Distribution:        d.Metadata.Distribution,
			MarkupRate:          decimal.NewFromFloat(d.Metadata.MarkupRate),
			Audit:               d.Audit,
			RowIDFunc:           uuid.NewString,
		})
		if err != nil {
			return err
		}

		rollups := materialize.Build(attributed, materialize.DefaultIDFunc)
		if d.Sink != nil {
			if err := d.Sink.BulkAppendRollups(ctx, rollups); err != nil {
				return err
			}
		}

		logging.WithStage("pipeline").Infow("window complete",
			"day", w.Day.Format("2006-01-02"),
			"container_rows", len(containerSummary),
			"attributed_rows", len(attributed),
		)
	}
	return nil
}

// FetchConcurrently is a FetchFunc helper that retrieves the three
// datasets for a window in parallel, grounded on the teacher's errgroup
// usage for independent I/O (spec.md §5 "Concurrency/Resource model").
func FetchConcurrently(ctx context.Context, w Window,
	readPod func(context.Context, Window) ([]model.PodLineItem, error),
	readStorage func(context.Context, Window) ([]model.StorageLineItem, error),
	readCloud func(context.Context, Window) ([]model.CloudLineItem, error),
) (Sources, error) {
	var src Sources
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := readPod(gctx, w)
		if err != nil {
			return err
		}
		src.PodRows = rows
		return nil
	})
	g.Go(func() error {
		rows, err := readStorage(gctx, w)
		if err != nil {
			return err
		}
		src.StorageRows = rows
		return nil
	})
	g.Go(func() error {
		rows, err := readCloud(gctx, w)
		if err != nil {
			return err
		}
		src.CloudRows = rows
		return nil
	})

	if err := g.Wait(); err != nil {
		return Sources{}, err
	}
	return src, nil
}

func nodeCandidates(rows []model.ContainerSummaryRow) []resourcematch.NodeCandidate {
	seen := make(map[string]struct{})
	var out []resourcematch.NodeCandidate
	for _, r := range rows {
		if r.Node == "" || r.ResourceID == "" {
			continue
		}
		if _, ok := seen[r.Node]; ok {
			continue
		}
		seen[r.Node] = struct{}{}
		out = append(out, resourcematch.NodeCandidate{Node: r.Node, ResourceID: r.ResourceID})
	}
	return out
}

func volumeCandidates(rows []model.ContainerSummaryRow) []resourcematch.VolumeCandidate {
	seen := make(map[string]struct{})
	var out []resourcematch.VolumeCandidate
	for _, r := range rows {
		if r.PersistentVolume == "" {
			continue
		}
		if _, ok := seen[r.PersistentVolume]; ok {
			continue
		}
		seen[r.PersistentVolume] = struct{}{}
		out = append(out, resourcematch.VolumeCandidate{PersistentVolume: r.PersistentVolume, CSIVolumeHandle: r.CSIVolumeHandle})
	}
	return out
}

func volumeNamespaces(rows []model.ContainerSummaryRow) map[string]string {
	out := make(map[string]string)
	for _, r := range rows {
		if r.PersistentVolume == "" {
			continue
		}
		out[r.PersistentVolume] = r.Namespace
	}
	return out
}

// volumeCapacities indexes each PV's own PVC capacity (in bytes), the
// denominator-free side of C12's CSI-match scaling ratio
// (pvc_capacity/volume_capacity).
const gigabyte = 1073741824.0

func volumeCapacities(rows []model.ContainerSummaryRow) map[string]float64 {
	out := make(map[string]float64)
	for _, r := range rows {
		if r.PersistentVolume == "" || r.PersistentVolumeClaimCapacityGB <= 0 {
			continue
		}
		out[r.PersistentVolume] = r.PersistentVolumeClaimCapacityGB * gigabyte
	}
	return out
}

// validateObservedNodes cross-checks the node names C9's generic fallback
// rule would otherwise trust blindly against ocp_nodes, dropping any name
// that collided with a tag value but isn't actually a known node in this
// cluster (spec.md §4.9 "tag match must not synthesize nodes").
func validateObservedNodes(ctx context.Context, sk *sink.Sink, clusterID string, observed tagmatch.Observed) (tagmatch.Observed, error) {
	if len(observed.Nodes) == 0 {
		return observed, nil
	}
	candidates := make([]string, 0, len(observed.Nodes))
	for n := range observed.Nodes {
		candidates = append(candidates, n)
	}
	known, err := sk.FilterKnownNodes(ctx, clusterID, candidates)
	if err != nil {
		return observed, err
	}
	filtered := make(map[string]struct{}, len(known))
	for _, n := range known {
		filtered[n] = struct{}{}
	}
	observed.Nodes = filtered
	return observed, nil
}

func observedTopology(clusterID, clusterAlias string, rows []model.ContainerSummaryRow) tagmatch.Observed {
	nodes := make(map[string]struct{})
	namespaces := make(map[string]struct{})
	for _, r := range rows {
		if r.Node != "" {
			nodes[r.Node] = struct{}{}
		}
		if r.Namespace != "" {
			namespaces[r.Namespace] = struct{}{}
		}
	}
	return tagmatch.Observed{ClusterID: clusterID, ClusterAlias: clusterAlias, Nodes: nodes, Namespaces: namespaces}
}

