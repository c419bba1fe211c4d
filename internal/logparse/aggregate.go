package logparse

// aggregate.go folds decoded records into a Summary in a single pass.
//
// Memory is bounded by the number of distinct breakdown keys and campaigns,
// never by the number of rows. Currency is summed in integer micro-units and
// converted to dollars only in Finalize.

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Aggregator owns the running totals of one parse. It is not safe for
// concurrent use; each parse creates its own.
type Aggregator struct {
	sum      *Summary
	bid      microSum
	winCost  microSum
	spend    map[string]*microSum
	seenTime bool
	final    bool
}

// microSum is an exact running total of micro-units. It adds in int64 and
// carries into a decimal whenever the next add would overflow.
type microSum struct {
	small int64
	carry decimal.Decimal
}

func (m *microSum) add(v int64) {
	if (v > 0 && m.small > math.MaxInt64-v) || (v < 0 && m.small < math.MinInt64-v) {
		m.carry = m.carry.Add(decimal.NewFromInt(m.small))
		m.small = 0
	}
	m.small += v
}

func (m *microSum) total() decimal.Decimal {
	return m.carry.Add(decimal.NewFromInt(m.small))
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{sum: newSummary(), spend: make(map[string]*microSum)}
}

// Add folds one record into the totals. Add must not be called after Finalize.
func (a *Aggregator) Add(rec Record) {
	if a.final {
		panic("logparse: Add called after Finalize")
	}
	s := a.sum

	s.TotalRecords++
	s.TotalImpressions++

	s.TotalClicks += rec.Clicks
	s.TotalConversions += rec.Conversions

	a.bid.add(rec.BidPriceMicros)
	a.winCost.add(rec.WinCostMicros)

	if !rec.BidTime.IsZero() {
		a.observeTime(rec)
	}

	countKey(s.DeviceBreakdown, rec.DeviceType)
	countKey(s.BrowserBreakdown, rec.Browser)
	countKey(s.OSBreakdown, rec.OS)
	countKey(s.GeoBreakdown, rec.GeoCountry)
	countKey(s.DomainBreakdown, rec.Domain)

	if rec.CampaignID != "" {
		cm, ok := s.CampaignPerformance[rec.CampaignID]
		if !ok {
			cm = &CampaignMetrics{}
			s.CampaignPerformance[rec.CampaignID] = cm
			a.spend[rec.CampaignID] = &microSum{}
		}
		cm.Impressions++
		cm.Clicks += rec.Clicks
		cm.Conversions += rec.Conversions
		a.spend[rec.CampaignID].add(rec.WinCostMicros)
	}
}

func (a *Aggregator) observeTime(rec Record) {
	s := a.sum
	t := rec.BidTime.UTC()

	if !a.seenTime {
		s.TimeRange = [2]time.Time{t, t}
		a.seenTime = true
	} else {
		if t.Before(s.TimeRange[0]) {
			s.TimeRange[0] = t
		}
		if t.After(s.TimeRange[1]) {
			s.TimeRange[1] = t
		}
	}

	s.HourlyBreakdown[t.Format(HourLayout)]++
}

func countKey(m map[string]int64, key string) {
	if key == "" {
		return
	}
	m[key]++
}

// Records returns the number of records folded so far.
func (a *Aggregator) Records() int64 {
	return a.sum.TotalRecords
}

// Finalize computes the derived metrics and returns the summary. It runs the
// computation once; later calls return the same summary.
func (a *Aggregator) Finalize() *Summary {
	if a.final {
		return a.sum
	}
	a.final = true
	s := a.sum

	s.TotalBidMicros = a.bid.total()
	s.TotalWinCostMicros = a.winCost.total()
	s.TotalBidAmount = Dollars(s.TotalBidMicros)
	s.TotalWinCost = Dollars(s.TotalWinCostMicros)

	if s.TotalRecords > 0 {
		s.AverageBidPrice = s.TotalBidMicros.Shift(-6).
			Div(decimal.NewFromInt(s.TotalRecords)).
			InexactFloat64()
	}
	s.CTR = percent(s.TotalClicks, s.TotalImpressions)
	s.AverageWinRate = percent(s.TotalImpressions, s.TotalRecords)

	for id, cm := range s.CampaignPerformance {
		cm.SpendMicros = a.spend[id].total()
		cm.Spend = Dollars(cm.SpendMicros)
		cm.CTR = percent(cm.Clicks, cm.Impressions)
	}

	return s
}
