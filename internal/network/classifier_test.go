package network

import (
	"testing"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
	"github.com/stretchr/testify/assert"
)

// S6 — Data Transfer rows classified in/out by usage_type.
func TestClassifyByUsageType(t *testing.T) {
	out := model.CloudLineItem{ProductFamily: "Data Transfer", LineItemProductCode: "AmazonEC2", UsageType: "USE1-DataTransfer-Out-Bytes"}
	in := model.CloudLineItem{ProductFamily: "Data Transfer", UsageType: "USE1-DataTransfer-In-Bytes"}
	assert.True(t, IsNetworkRow(out))
	assert.Equal(t, DirectionOut, Classify(out))
	assert.Equal(t, DirectionIn, Classify(in))
}

// Regional-bytes rows carry no direction of their own; they fall back to
// operation, per spec.md §4.11's compound rule.
func TestClassifyRegionalBytesByOperation(t *testing.T) {
	in := model.CloudLineItem{ProductFamily: "Data Transfer", UsageType: "DataTransfer-Regional-Bytes", Operation: "In"}
	out := model.CloudLineItem{ProductFamily: "Data Transfer", UsageType: "DataTransfer-Regional-Bytes", Operation: "Out"}
	assert.Equal(t, DirectionIn, Classify(in))
	assert.Equal(t, DirectionOut, Classify(out))
}

func TestClassifyByOperationFallback(t *testing.T) {
	row := model.CloudLineItem{ProductFamily: "Data Transfer", UsageType: "Unrecognised-Bytes", Operation: "In"}
	assert.Equal(t, DirectionIn, Classify(row))
}

func TestNonNetworkRowExcluded(t *testing.T) {
	row := model.CloudLineItem{ProductFamily: "Compute Instance", LineItemProductCode: "AmazonRDS", UsageType: "InstanceUsage"}
	assert.False(t, IsNetworkRow(row))
}

func TestUnclassifiableDirectionReturnsEmpty(t *testing.T) {
	row := model.CloudLineItem{ProductFamily: "Data Transfer", UsageType: "DataTransfer-Mystery"}
	assert.Equal(t, "", Classify(row))
}
