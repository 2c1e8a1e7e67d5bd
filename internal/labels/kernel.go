// Package labels implements C3, the label kernel: parsing pod/volume label
// JSON, filtering by the enabled-tag-key allow-list, right-biased N-way
// merges, and canonical serialisation used both as an output column and as
// a GROUP BY surrogate (spec.md §4.3, P1, P7).
package labels

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/ocperrors"
)

// AlwaysEnabledKey is always present in the allow-list regardless of its
// enabled flag in the enabled_tag_keys table (Q4: source always includes it).
const AlwaysEnabledKey = "vm_kubevirt_io_name"

// Map is a label/tag map with string values, as they appear after JSON
// decoding (values in source JSON are always strings in this domain).
type Map map[string]string

// Parse decodes a nullable JSON object into a Map. A null/empty payload
// yields an empty, non-nil map. Malformed JSON yields an empty map and an
// audit record — it is never fatal in the hot path (spec.md §4.3.1).
func Parse(raw string, stage, key string, audit ocperrors.Sink) Map {
	m := Map{}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return m
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		if audit != nil {
			audit.Record(ocperrors.Audit{Stage: stage, Reason: "malformed label JSON: " + err.Error(), Key: key})
		}
		return m
	}
	for k, v := range decoded {
		if s, ok := v.(string); ok {
			m[k] = s
		} else if v != nil {
			// Non-string scalar values (bools, numbers) are stringified so
			// that downstream canonicalisation never has to branch on type.
			b, err := json.Marshal(v)
			if err == nil {
				m[k] = string(b)
			}
		}
	}
	return m
}

// AllowSet is the allow-list of keys that may appear in an output label map:
// vm_kubevirt_io_name, always first, followed by the alphabetically sorted
// enabled tag keys from the relational store (spec.md §4.3).
type AllowSet struct {
	set map[string]struct{}
}

// NewAllowSet builds an allow-list from the enabled keys returned by the
// metadata sink. vm_kubevirt_io_name is always included.
func NewAllowSet(enabledKeys []string) AllowSet {
	set := make(map[string]struct{}, len(enabledKeys)+1)
	set[AlwaysEnabledKey] = struct{}{}
	for _, k := range enabledKeys {
		set[k] = struct{}{}
	}
	return AllowSet{set: set}
}

// Keys returns vm_kubevirt_io_name followed by the alphabetically sorted
// remaining keys, matching the ordering contract of spec.md §4.3.
func (a AllowSet) Keys() []string {
	out := make([]string, 0, len(a.set))
	for k := range a.set {
		if k != AlwaysEnabledKey {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return append([]string{AlwaysEnabledKey}, out...)
}

func (a AllowSet) contains(k string) bool {
	_, ok := a.set[k]
	return ok
}

// Filter keeps only the keys present in the allow-list.
func Filter(m Map, allow AllowSet) Map {
	out := make(Map, len(m))
	for k, v := range m {
		if allow.contains(k) {
			out[k] = v
		}
	}
	return out
}

// Merge performs a right-biased merge over any number of maps: for a key
// present in more than one input, the value from the map appearing later in
// the argument list wins. Two, three, and four-argument call sites in
// podagg/storageagg rely on this same variadic implementation (spec.md
// §4.3.3 "two-, three-, and four-input arities required").
func Merge(maps ...Map) Map {
	out := Map{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// Canonicalise renders a label map as a deterministic JSON string: keys
// sorted lexicographically, no extraneous whitespace. Two semantically
// equal maps always canonicalise identically (P7), which is what makes the
// result usable as a GROUP BY surrogate.
func Canonicalise(m Map) string {
	if len(m) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(m[k])
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.String()
}
