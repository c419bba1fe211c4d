package logparse

// decode.go converts raw CSV rows into typed records.
//
// The decoder never rejects a row. A cell that fails to parse takes its
// zero value and the failure is returned as a FieldError so the caller can
// log or count it.

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Accepted BID_TIME layouts, tried in order.
const (
	TimeLayoutMillis  = "2006-01-02 15:04:05.000"
	TimeLayoutSeconds = "2006-01-02 15:04:05"
)

var timeLayouts = []string{TimeLayoutMillis, TimeLayoutSeconds}

// Record is one decoded log row. Currency amounts are integer micro-units
// (1,000,000 = $1.00). BidTime is the zero time when absent or unparseable.
type Record struct {
	AccountID           string
	AuctionID           string
	BidPriceMicros      int64
	BidTime             time.Time
	CampaignID          string
	ClearingPriceMicros int64
	WinCostMicros       int64
	Clicks              int64
	Conversions         int64
	CreativeID          string
	Domain              string
	GeoCountry          string
	GeoCity             string
	DeviceType          string
	Browser             string
	OS                  string
	AdPosition          string
	UserID              string
	ImpressionTime      time.Time
}

// FieldError describes a single cell that could not be decoded.
// It is a diagnostic, never a reason to stop processing.
type FieldError struct {
	Column string
	Value  string
	Err    error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: cannot decode %q: %v", e.Column, e.Value, e.Err)
}

func (e FieldError) Unwrap() error { return e.Err }

// errNegativeCount marks a count cell that parsed but was below zero.
var errNegativeCount = errors.New("negative count clamped to 0")

// Decode converts one row into a Record. Missing cells are treated as empty.
func (s Schema) Decode(row []string) (Record, []FieldError) {
	d := decoder{schema: s, row: row}

	rec := Record{
		AccountID:           d.text(ColAccountID),
		AuctionID:           d.text(ColAuctionID),
		BidPriceMicros:      d.micros(ColBidPrice),
		BidTime:             d.timestamp(ColBidTime),
		CampaignID:          d.text(ColCampaignID),
		ClearingPriceMicros: d.micros(ColClearingPrice),
		WinCostMicros:       d.micros(ColWinCost),
		Clicks:              d.count(ColClicks),
		Conversions:         d.count(ColConversions),
		CreativeID:          d.text(ColCreativeID),
		Domain:              d.text(ColDomain),
		GeoCountry:          d.text(ColGeoCountry),
		GeoCity:             d.text(ColGeoCity),
		DeviceType:          d.text(ColDeviceType),
		Browser:             d.text(ColBrowser),
		OS:                  d.text(ColOS),
		AdPosition:          d.text(ColAdPosition),
		UserID:              d.text(ColUserID),
		ImpressionTime:      d.timestamp(ColImpressionTime),
	}

	return rec, d.errs
}

type decoder struct {
	schema Schema
	row    []string
	errs   []FieldError
}

// text keeps the cell as observed; breakdown keys are the raw values.
func (d *decoder) text(col string) string {
	return d.schema.cell(d.row, col)
}

// value returns the cell with surrounding whitespace removed, for cells
// parsed as numbers or timestamps.
func (d *decoder) value(col string) string {
	return strings.TrimSpace(d.schema.cell(d.row, col))
}

func (d *decoder) micros(col string) int64 {
	v := d.value(col)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		d.errs = append(d.errs, FieldError{Column: col, Value: v, Err: err})
		return 0
	}
	return n
}

func (d *decoder) count(col string) int64 {
	v := d.value(col)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		d.errs = append(d.errs, FieldError{Column: col, Value: v, Err: err})
		return 0
	}
	if n < 0 {
		d.errs = append(d.errs, FieldError{Column: col, Value: v, Err: errNegativeCount})
		return 0
	}
	return n
}

func (d *decoder) timestamp(col string) time.Time {
	v := d.value(col)
	if v == "" {
		return time.Time{}
	}
	t, err := ParseTimestamp(v)
	if err != nil {
		d.errs = append(d.errs, FieldError{Column: col, Value: v, Err: err})
		return time.Time{}
	}
	return t
}

// ParseTimestamp parses a log timestamp as UTC using the accepted layouts.
func ParseTimestamp(v string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
