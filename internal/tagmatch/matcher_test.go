package tagmatch

import (
	"testing"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/labels"
	"github.com/stretchr/testify/assert"
)

// S5 — openshift_node tag resolves to a known node.
func TestWellKnownNodeTag(t *testing.T) {
	observed := Observed{
		ClusterID: "cluster-1",
		Nodes:     map[string]struct{}{"node-a": {}},
	}
	m := Resolve(`{"openshift_cluster":"cluster-1","openshift_node":"node-a"}`,
		labels.NewAllowSet([]string{"openshift_cluster", "openshift_node"}), observed, nil)
	assert.True(t, m.Matched)
	assert.Equal(t, "node-a", m.Node)
	assert.Equal(t, "openshift_node", m.MatchedTag)
}

func TestWellKnownNamespaceTag(t *testing.T) {
	observed := Observed{Namespaces: map[string]struct{}{"frontend": {}}}
	m := Resolve(`{"openshift_project":"frontend"}`,
		labels.NewAllowSet([]string{"openshift_project"}), observed, nil)
	assert.True(t, m.Matched)
	assert.Equal(t, "frontend", m.Namespace)
}

func TestClusterMismatchRejectsRow(t *testing.T) {
	observed := Observed{ClusterID: "cluster-1", Nodes: map[string]struct{}{"node-a": {}}}
	m := Resolve(`{"openshift_cluster":"cluster-2","openshift_node":"node-a"}`,
		labels.NewAllowSet([]string{"openshift_cluster", "openshift_node"}), observed, nil)
	assert.False(t, m.Matched)
}

func TestGenericValueEqualityFallback(t *testing.T) {
	observed := Observed{Nodes: map[string]struct{}{"node-a": {}}}
	m := Resolve(`{"custom_tag":"node-a"}`, labels.NewAllowSet([]string{"custom_tag"}), observed, nil)
	assert.True(t, m.Matched)
	assert.Equal(t, "node-a", m.Node)
	assert.Equal(t, "custom_tag", m.MatchedTag)
}

func TestNoMatch(t *testing.T) {
	observed := Observed{Nodes: map[string]struct{}{"node-a": {}}}
	m := Resolve(`{"unrelated":"value"}`, labels.NewAllowSet([]string{"unrelated"}), observed, nil)
	assert.False(t, m.Matched)
}
