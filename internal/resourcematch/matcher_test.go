package resourcematch

import (
	"testing"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S4 — a cloud resource id ending in a known node's resource id matches
// that node ahead of any CSI/PV candidates.
func TestNodeSuffixMatchTakesPriority(t *testing.T) {
	idx := NewIndex(
		[]NodeCandidate{{Node: "node-a", ResourceID: "i-0123abcd"}},
		[]VolumeCandidate{{PersistentVolume: "pv-i-0123abcd", CSIVolumeHandle: "vol-xyz"}},
	)
	m, ok := idx.Match("arn:aws:ec2:us-east-1:123:instance/i-0123abcd")
	require.True(t, ok)
	assert.Equal(t, model.MatchKindNode, m.Kind)
	assert.Equal(t, "node-a", m.Key)
}

func TestCSIVolumeHandleSubstringMatch(t *testing.T) {
	idx := NewIndex(nil, []VolumeCandidate{{PersistentVolume: "pv-0001", CSIVolumeHandle: "vol-0abc123"}})
	m, ok := idx.Match("vol-0abc123")
	require.True(t, ok)
	assert.Equal(t, model.MatchKindCSIVolume, m.Kind)
	assert.Equal(t, "pv-0001", m.Key)
}

func TestPVNameSubstringMatchFallsBackFromCSI(t *testing.T) {
	idx := NewIndex(nil, []VolumeCandidate{{PersistentVolume: "pv-0002"}})
	m, ok := idx.Match("ebs-pv-0002-snapshot")
	require.True(t, ok)
	assert.Equal(t, model.MatchKindPVName, m.Kind)
	assert.Equal(t, "pv-0002", m.Key)
}

// Tie-break: two node candidates both suffix-match; longest suffix wins.
func TestTieBreakLongestSuffixWins(t *testing.T) {
	idx := NewIndex([]NodeCandidate{
		{Node: "node-short", ResourceID: "abcd"},
		{Node: "node-long", ResourceID: "0123abcd"},
	}, nil)
	m, ok := idx.Match("i-0123abcd")
	require.True(t, ok)
	assert.Equal(t, "node-long", m.Key)
}

// Tie-break: equal-length matches fall back to lexicographic minimum (Q2).
func TestTieBreakLexicographicMinWhenLengthsEqual(t *testing.T) {
	idx := NewIndex([]NodeCandidate{
		{Node: "node-b", ResourceID: "xyz"},
		{Node: "node-a", ResourceID: "xyz"},
	}, nil)
	m, ok := idx.Match("prefix-xyz")
	require.True(t, ok)
	assert.Equal(t, "node-a", m.Key)
}

func TestNoCandidatesMatch(t *testing.T) {
	idx := NewIndex(nil, nil)
	_, ok := idx.Match("anything")
	assert.False(t, ok)
}

func TestEmptyResourceIDNeverMatches(t *testing.T) {
	idx := NewIndex([]NodeCandidate{{Node: "node-a", ResourceID: ""}}, nil)
	_, ok := idx.Match("")
	assert.False(t, ok)
}
