package logparse

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestAggregator_EmptyFinalize(t *testing.T) {
	sum := NewAggregator().Finalize()

	if sum.TotalRecords != 0 || sum.CTR != 0 || sum.AverageBidPrice != 0 || sum.AverageWinRate != 0 {
		t.Errorf("empty summary has non-zero metrics: %+v", sum)
	}
	if sum.DeviceBreakdown == nil || sum.HourlyBreakdown == nil || sum.CampaignPerformance == nil {
		t.Error("maps must be allocated on an empty summary")
	}
}

func TestAggregator_FinalizeOnce(t *testing.T) {
	a := NewAggregator()
	a.Add(Record{CampaignID: "c", Clicks: 1, WinCostMicros: 2_000_000})

	first := a.Finalize()
	second := a.Finalize()
	if first != second {
		t.Error("Finalize returned a different summary on second call")
	}
	if first.CampaignPerformance["c"].Spend != 2 {
		t.Errorf("spend = %v, want 2", first.CampaignPerformance["c"].Spend)
	}

	defer func() {
		if recover() == nil {
			t.Error("Add after Finalize did not panic")
		}
	}()
	a.Add(Record{})
}

func TestAggregator_TimeRangeBeforeEpoch(t *testing.T) {
	a := NewAggregator()
	old := time.Date(1965, 3, 1, 8, 0, 0, 0, time.UTC)
	a.Add(Record{BidTime: old})

	sum := a.Finalize()
	if !sum.TimeRange[0].Equal(old) || !sum.TimeRange[1].Equal(old) {
		t.Errorf("TimeRange = %v, want both ends %v", sum.TimeRange, old)
	}
	if sum.HourlyBreakdown["1965-03-01 08"] != 1 {
		t.Errorf("HourlyBreakdown = %v", sum.HourlyBreakdown)
	}
}

func TestAggregator_CampaignMetrics(t *testing.T) {
	a := NewAggregator()
	for _, r := range []Record{
		{CampaignID: "c1", Clicks: 1, Conversions: 1, WinCostMicros: 250_000},
		{CampaignID: "c1", WinCostMicros: 250_000},
		{CampaignID: "c1"},
		{CampaignID: "c1"},
		{CampaignID: "c2", Clicks: 0},
	} {
		a.Add(r)
	}
	sum := a.Finalize()

	c1 := sum.CampaignPerformance["c1"]
	if c1.Impressions != 4 || c1.Clicks != 1 || c1.Conversions != 1 {
		t.Errorf("c1 = %+v", c1)
	}
	if c1.CTR != 25 {
		t.Errorf("c1 CTR = %v, want 25", c1.CTR)
	}
	if c1.Spend != 0.5 || !c1.SpendMicros.Equal(decimal.NewFromInt(500_000)) {
		t.Errorf("c1 spend = %v (%s micros), want 0.5", c1.Spend, c1.SpendMicros)
	}
	if c2 := sum.CampaignPerformance["c2"]; c2.CTR != 0 {
		t.Errorf("c2 CTR = %v, want 0", c2.CTR)
	}
}

func TestDollars(t *testing.T) {
	tests := []struct {
		micros int64
		want   float64
	}{
		{0, 0},
		{1, 0.000001},
		{1_100_000, 1.1},
		{-500_000, -0.5},
		{123_456_789, 123.456789},
	}
	for _, tt := range tests {
		if got := Dollars(decimal.NewFromInt(tt.micros)); got != tt.want {
			t.Errorf("Dollars(%d) = %v, want %v", tt.micros, got, tt.want)
		}
	}
}

func TestAggregator_MicroSumCarries(t *testing.T) {
	tests := []struct {
		name string
		adds []int64
		want string
	}{
		{"small", []int64{1, 2, 3}, "6"},
		{"past max", []int64{math.MaxInt64, math.MaxInt64, 2}, "18446744073709551616"},
		{"past min", []int64{math.MinInt64, -1}, "-9223372036854775809"},
		{"back and forth", []int64{math.MaxInt64, 1, math.MinInt64}, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m microSum
			for _, v := range tt.adds {
				m.add(v)
			}
			if got := m.total(); !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("total = %s, want %s", got, tt.want)
			}
		})
	}
}
