// Package resourcematch implements C8: matching a cloud billing row's
// resource identifier against the observed node/CSI-volume/PV namespace so
// C12 knows which container-summary rows to attribute cost against
// (spec.md §4.8, Q2).
package resourcematch

import (
	"sort"
	"strings"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
)

// NodeCandidate is one node resource_id known from the container-summary
// side, used for the suffix-match rule.
type NodeCandidate struct {
	Node       string
	ResourceID string
}

// VolumeCandidate is one storage resource known from the container-summary
// side: a CSI volume handle and/or a PV name, both matched by substring.
type VolumeCandidate struct {
	PersistentVolume string
	CSIVolumeHandle  string
}

// Index holds the candidate sets built once per run from the container
// summary output.
type Index struct {
	nodes   []NodeCandidate
	volumes []VolumeCandidate
}

func NewIndex(nodes []NodeCandidate, volumes []VolumeCandidate) *Index {
	return &Index{nodes: nodes, volumes: volumes}
}

// Match resolves a cloud row's resource id to the best candidate, per
// spec.md §4.8: node suffix match first, then CSI handle substring, then PV
// name substring. Ties within a rule are broken by longest matched suffix,
// then lexicographically smallest key (Q2).
func (idx *Index) Match(resourceID string) (model.ResourceMatch, bool) {
	if resourceID == "" {
		return model.ResourceMatch{}, false
	}

	if m, ok := matchNodes(idx.nodes, resourceID); ok {
		return m, true
	}
	if m, ok := matchCSIVolumes(idx.volumes, resourceID); ok {
		return m, true
	}
	if m, ok := matchPVNames(idx.volumes, resourceID); ok {
		return m, true
	}
	return model.ResourceMatch{}, false
}

// candidate is a single matched key with the length of the matched segment,
// used to break ties by longest match then lexicographic order.
type candidate struct {
	key string
	len int
}

func matchNodes(nodes []NodeCandidate, resourceID string) (model.ResourceMatch, bool) {
	var best []candidate
	for _, n := range nodes {
		if n.ResourceID == "" {
			continue
		}
		if strings.HasSuffix(resourceID, n.ResourceID) {
			best = append(best, candidate{key: n.Node, len: len(n.ResourceID)})
		}
	}
	return pickBest(best, model.MatchKindNode)
}

func matchCSIVolumes(volumes []VolumeCandidate, resourceID string) (model.ResourceMatch, bool) {
	var best []candidate
	for _, v := range volumes {
		if v.CSIVolumeHandle == "" {
			continue
		}
		if strings.Contains(resourceID, v.CSIVolumeHandle) {
			best = append(best, candidate{key: v.PersistentVolume, len: len(v.CSIVolumeHandle)})
		}
	}
	return pickBest(best, model.MatchKindCSIVolume)
}

func matchPVNames(volumes []VolumeCandidate, resourceID string) (model.ResourceMatch, bool) {
	var best []candidate
	for _, v := range volumes {
		if v.PersistentVolume == "" {
			continue
		}
		if strings.Contains(resourceID, v.PersistentVolume) {
			best = append(best, candidate{key: v.PersistentVolume, len: len(v.PersistentVolume)})
		}
	}
	return pickBest(best, model.MatchKindPVName)
}

func pickBest(cands []candidate, kind model.ResourceMatchKind) (model.ResourceMatch, bool) {
	if len(cands) == 0 {
		return model.ResourceMatch{}, false
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].len != cands[j].len {
			return cands[i].len > cands[j].len // longest suffix/substring wins
		}
		return cands[i].key < cands[j].key // lexicographic min tie-break (Q2)
	})
	return model.ResourceMatch{Key: cands[0].key, Kind: kind}, true
}
