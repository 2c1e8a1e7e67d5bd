// Package tagmatch implements C9: matching a cloud billing row's
// resourceTags (filtered to the enabled tag-key allow-list) against the
// observed cluster id/alias, node, and namespace via the well-known
// openshift_* tag keys, falling back to a generic value-equality rule
// (spec.md §4.9).
package tagmatch

import (
	"strings"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/labels"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/ocperrors"
)

const (
	tagKeyCluster   = "openshift_cluster"
	tagKeyNode      = "openshift_node"
	tagKeyNamespace = "openshift_project"
)

// Observed bundles the known identifiers of one cluster's topology that
// the matcher compares tag values against.
type Observed struct {
	ClusterID    string
	ClusterAlias string
	Nodes        map[string]struct{}
	Namespaces   map[string]struct{}
}

// Match is the result of matching one cloud row's tags.
type Match struct {
	Node      string
	Namespace string
	Matched   bool
	MatchedTag string
}

// Resolve parses resourceTagsJSON, filters it to the allow-list, and
// resolves it against the observed topology using the well-known keys
// first, falling back to a generic rule: any tag value equal to a known
// node or namespace name is treated as identifying that entity (spec.md
// §4.9 "generic OCP-label-value rule").
func Resolve(resourceTagsJSON string, allow labels.AllowSet, observed Observed, audit ocperrors.Sink) Match {
	tags := labels.Filter(labels.Parse(resourceTagsJSON, "resource_tags", "", audit), allow)

	if v, ok := tags[tagKeyCluster]; ok {
		if !strings.EqualFold(v, observed.ClusterID) && !strings.EqualFold(v, observed.ClusterAlias) {
			return Match{}
		}
	}

	if v, ok := tags[tagKeyNode]; ok {
		if _, known := observed.Nodes[v]; known {
			return Match{Node: v, Matched: true, MatchedTag: tagKeyNode}
		}
	}
	if v, ok := tags[tagKeyNamespace]; ok {
		if _, known := observed.Namespaces[v]; known {
			return Match{Namespace: v, Matched: true, MatchedTag: tagKeyNamespace}
		}
	}

	// Generic rule: any remaining tag value that happens to equal a known
	// node or namespace counts as a match, in whatever key it was found.
	for k, v := range tags {
		if k == tagKeyCluster {
			continue
		}
		if _, known := observed.Nodes[v]; known {
			return Match{Node: v, Matched: true, MatchedTag: k}
		}
		if _, known := observed.Namespaces[v]; known {
			return Match{Namespace: v, Matched: true, MatchedTag: k}
		}
	}
	return Match{}
}
