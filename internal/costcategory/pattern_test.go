package costcategory

import (
	"testing"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxRuleWhenMultiplePatternsMatch(t *testing.T) {
	// S8: openshift-% -> 10, %-operators -> 20; "openshift-operators" matches
	// both, winner is max(id) = 20.
	r := NewResolver([]model.CostCategoryPattern{
		{Pattern: "openshift-%", ID: 10},
		{Pattern: "%-operators", ID: 20},
	})

	got := r.Resolve("openshift-operators")
	require.NotNil(t, got)
	assert.Equal(t, int64(20), *got)
}

func TestNoMatchReturnsNil(t *testing.T) {
	r := NewResolver([]model.CostCategoryPattern{{Pattern: "openshift-%", ID: 10}})
	assert.Nil(t, r.Resolve("frontend"))
}

func TestExactAndContainsPatterns(t *testing.T) {
	r := NewResolver([]model.CostCategoryPattern{
		{Pattern: "kube-system", ID: 1},
		{Pattern: "%monitoring%", ID: 2},
	})
	assert.NotNil(t, r.Resolve("kube-system"))
	assert.Nil(t, r.Resolve("kube-system2"))
	assert.NotNil(t, r.Resolve("openshift-monitoring"))
}
