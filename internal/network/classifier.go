// Package network implements C11: classifying "Data Transfer" /
// AmazonEC2 cloud rows as inbound or outbound by usage_type/operation
// substring rules, and assigning them to the "Network unattributed"
// namespace (spec.md §4.11).
package network

import (
	"strings"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
)

const (
	DirectionIn  = "IN"
	DirectionOut = "OUT"
)

// outUsageTypeMarkers and inUsageTypeMarkers are substrings of
// line_item_usage_type that identify direction on their own, without
// consulting operation. "DataTransfer-Regional-Bytes" is deliberately not
// one of these: regional-bytes rows only carry a direction via operation
// (see regionalBytesMarker below), per spec.md §4.11's compound rule.
var outUsageTypeMarkers = []string{"DataTransfer-Out", "Out-Bytes"}
var inUsageTypeMarkers = []string{"DataTransfer-In", "In-Bytes"}

const regionalBytesMarker = "DataTransfer-Regional-Bytes"

var outOperationMarkers = []string{"-out", "Out"}
var inOperationMarkers = []string{"-in", "In"}

// IsNetworkRow reports whether a cloud line item belongs to the network
// dataset this classifier handles: AmazonEC2 rows billed under the
// "Data Transfer" product family (spec.md §4.11).
func IsNetworkRow(item model.CloudLineItem) bool {
	return item.ProductFamily == "Data Transfer" && item.LineItemProductCode == "AmazonEC2"
}

// Classify returns the transfer direction for a network row, or "" if
// neither usage_type nor operation carries a recognisable marker (spec.md
// §4.11 "Edge cases": ambiguous rows are audited and dropped by the
// caller, not classified here).
func Classify(item model.CloudLineItem) string {
	if strings.Contains(item.UsageType, regionalBytesMarker) {
		return classifyByOperation(item)
	}
	for _, m := range outUsageTypeMarkers {
		if strings.Contains(item.UsageType, m) {
			return DirectionOut
		}
	}
	for _, m := range inUsageTypeMarkers {
		if strings.Contains(item.UsageType, m) {
			return DirectionIn
		}
	}
	return classifyByOperation(item)
}

func classifyByOperation(item model.CloudLineItem) string {
	for _, m := range outOperationMarkers {
		if strings.Contains(item.Operation, m) {
			return DirectionOut
		}
	}
	for _, m := range inOperationMarkers {
		if strings.Contains(item.Operation, m) {
			return DirectionIn
		}
	}
	return ""
}
