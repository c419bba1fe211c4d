package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	r := sampleReport(t, "u1", "f1")

	b, err := Encode(r)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, r.FileID, got.FileID)
	assert.True(t, r.ProcessedAt.Equal(got.ProcessedAt))
	assertSameSummary(t, r.Summary, got.Summary)
	assert.True(t, got.Summary.TotalBidMicros.Equal(r.Summary.TotalBidMicros))
}

func TestEncodeMicroTotalsAsStrings(t *testing.T) {
	b, err := Encode(sampleReport(t, "u1", "f1"))
	require.NoError(t, err)

	var doc struct {
		Summary struct {
			TotalBidMicros json.RawMessage `json:"totalBidMicros"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, `"1100000"`, string(doc.Summary.TotalBidMicros))
}

func TestEncodeFieldNames(t *testing.T) {
	b, err := Encode(sampleReport(t, "u1", "f1"))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	for _, k := range []string{"fileId", "userId", "fileName", "processedAt", "summary"} {
		assert.Contains(t, doc, k)
	}

	summary := doc["summary"].(map[string]any)
	for _, k := range []string{
		"totalRecords", "totalImpressions", "totalClicks", "totalConversions",
		"totalBidAmount", "totalWinCost", "ctr", "averageBidPrice", "averageWinRate",
		"timeRange", "deviceBreakdown", "browserBreakdown", "osBreakdown",
		"geoBreakdown", "hourlyBreakdown", "domainBreakdown", "campaignPerformance",
	} {
		assert.Contains(t, summary, k)
	}
	assert.Equal(t, 1.1, summary["totalBidAmount"])

	c1 := summary["campaignPerformance"].(map[string]any)["c1"].(map[string]any)
	for _, k := range []string{"impressions", "clicks", "conversions", "spend", "ctr"} {
		assert.Contains(t, c1, k)
	}
}

func TestEncodeRejectsMissingSummary(t *testing.T) {
	_, err := Encode(&Report{UserID: "u1", FileID: "f1"})
	assert.Error(t, err)

	_, err = Decode([]byte(`{"fileId":"f1","userId":"u1"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}
