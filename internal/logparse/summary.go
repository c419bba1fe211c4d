package logparse

import (
	"time"

	"github.com/shopspring/decimal"
)

// HourLayout is the key format of Summary.HourlyBreakdown.
const HourLayout = "2006-01-02 15"

// Time range sentinels. A summary that never saw a valid timestamp keeps them.
var (
	TimeRangeMinSentinel = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	TimeRangeMaxSentinel = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Summary is the finalized aggregate of one log. Dollar amounts are derived
// from the exact micro-unit totals, which are carried alongside them. The
// micro totals are decimals since a long log can exceed the int64 range;
// they encode as JSON strings.
type Summary struct {
	TotalRecords       int64           `json:"totalRecords"`
	TotalImpressions   int64           `json:"totalImpressions"`
	TotalClicks        int64           `json:"totalClicks"`
	TotalConversions   int64           `json:"totalConversions"`
	TotalBidAmount     float64         `json:"totalBidAmount"`
	TotalWinCost       float64         `json:"totalWinCost"`
	TotalBidMicros     decimal.Decimal `json:"totalBidMicros"`
	TotalWinCostMicros decimal.Decimal `json:"totalWinCostMicros"`
	CTR                float64         `json:"ctr"`
	AverageBidPrice    float64         `json:"averageBidPrice"`

	// AverageWinRate is impressions over records. Every decoded row counts as
	// an impression, so this is 100 for any non-empty log until bid and win
	// events are told apart.
	AverageWinRate float64 `json:"averageWinRate"`

	TimeRange [2]time.Time `json:"timeRange"`

	DeviceBreakdown  map[string]int64 `json:"deviceBreakdown"`
	BrowserBreakdown map[string]int64 `json:"browserBreakdown"`
	OSBreakdown      map[string]int64 `json:"osBreakdown"`
	GeoBreakdown     map[string]int64 `json:"geoBreakdown"`
	HourlyBreakdown  map[string]int64 `json:"hourlyBreakdown"`
	DomainBreakdown  map[string]int64 `json:"domainBreakdown"`

	CampaignPerformance map[string]*CampaignMetrics `json:"campaignPerformance"`
}

// CampaignMetrics aggregates the rows of a single campaign.
type CampaignMetrics struct {
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Conversions int64           `json:"conversions"`
	Spend       float64         `json:"spend"`
	SpendMicros decimal.Decimal `json:"spendMicros"`
	CTR         float64         `json:"ctr"`
}

// newSummary returns an empty summary with all maps allocated.
func newSummary() *Summary {
	return &Summary{
		TimeRange:           [2]time.Time{TimeRangeMinSentinel, TimeRangeMaxSentinel},
		DeviceBreakdown:     make(map[string]int64),
		BrowserBreakdown:    make(map[string]int64),
		OSBreakdown:         make(map[string]int64),
		GeoBreakdown:        make(map[string]int64),
		HourlyBreakdown:     make(map[string]int64),
		DomainBreakdown:     make(map[string]int64),
		CampaignPerformance: make(map[string]*CampaignMetrics),
	}
}

// Dollars converts micro-units to dollars.
func Dollars(micros decimal.Decimal) float64 {
	return micros.Shift(-6).InexactFloat64()
}

// percent returns num/den*100, or 0 when den is 0.
func percent(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den) * 100
}
