package logparse

// schema.go resolves the header row of a bid/win log into column positions.
//
// Resolution happens once per parse, before any data row is read. Each
// canonical column is looked up by exact name first and then by a
// case-insensitive, whitespace-trimmed comparison. When several header
// tokens match, the leftmost one wins.

import (
	"fmt"
	"strings"
)

// Canonical column names of the bid/win log format.
const (
	ColAccountID      = "ACCOUNT_ID"
	ColAuctionID      = "AUCTION_ID"
	ColBidPrice       = "BID_PRICE_MICROS_USD"
	ColBidTime        = "BID_TIME"
	ColCampaignID     = "CAMPAIGN_ID"
	ColClearingPrice  = "CLEARING_PRICE_MICROS_USD"
	ColClicks         = "CLICKS"
	ColConversions    = "CONVERSIONS"
	ColCreativeID     = "CREATIVE_ID"
	ColDomain         = "DOMAIN"
	ColGeoCountry     = "GEO_COUNTRY"
	ColGeoCity        = "GEO_CITY"
	ColDeviceType     = "PLATFORM_DEVICE_TYPE"
	ColBrowser        = "PLATFORM_BROWSER"
	ColOS             = "PLATFORM_OS"
	ColWinCost        = "WIN_COST_MICROS_USD"
	ColAdPosition     = "AD_POSITION"
	ColUserID         = "USER_ID"
	ColImpressionTime = "IMPRESSION_TIME"
)

// RequiredColumns lists every column that must be present in the header.
// The order is the order in which missing columns are reported.
var RequiredColumns = []string{
	ColAccountID,
	ColAuctionID,
	ColBidPrice,
	ColBidTime,
	ColCampaignID,
	ColClearingPrice,
	ColClicks,
	ColConversions,
	ColCreativeID,
	ColDomain,
	ColGeoCountry,
	ColGeoCity,
	ColDeviceType,
	ColBrowser,
	ColOS,
	ColWinCost,
}

// OptionalColumns are decoded when the header carries them and ignored otherwise.
var OptionalColumns = []string{
	ColAdPosition,
	ColUserID,
	ColImpressionTime,
}

// SchemaError reports required columns absent from the header.
// Column is the first missing column in RequiredColumns order.
type SchemaError struct {
	Column  string
	Missing []string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) > 1 {
		return fmt.Sprintf("missing required column %q (%d missing: %s)",
			e.Column, len(e.Missing), strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("missing required column %q", e.Column)
}

// Schema maps canonical column names to their position in a data row.
// A resolved Schema is read-only and safe to share.
type Schema struct {
	index map[string]int
}

// ResolveSchema builds a Schema from the header row. It fails with a
// *SchemaError if any required column cannot be matched.
func ResolveSchema(header []string) (Schema, error) {
	s := Schema{index: make(map[string]int, len(RequiredColumns)+len(OptionalColumns))}
	var missing []string

	for _, col := range RequiredColumns {
		pos, ok := findColumn(header, col)
		if !ok {
			missing = append(missing, col)
			continue
		}
		s.index[col] = pos
	}

	if len(missing) > 0 {
		return Schema{}, &SchemaError{Column: missing[0], Missing: missing}
	}

	for _, col := range OptionalColumns {
		if pos, ok := findColumn(header, col); ok {
			s.index[col] = pos
		}
	}

	return s, nil
}

// findColumn returns the position of name in header, preferring an exact
// match over a case-insensitive one.
func findColumn(header []string, name string) (int, bool) {
	for i, h := range header {
		if h == name {
			return i, true
		}
	}
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i, true
		}
	}
	return 0, false
}

// Index returns the position of a canonical column.
func (s Schema) Index(col string) (int, bool) {
	pos, ok := s.index[col]
	return pos, ok
}

// Has reports whether the header carried the column.
func (s Schema) Has(col string) bool {
	_, ok := s.index[col]
	return ok
}

// cell returns the raw value of col in row, or "" when the column is
// unresolved or the row is too short.
func (s Schema) cell(row []string, col string) string {
	pos, ok := s.index[col]
	if !ok || pos >= len(row) {
		return ""
	}
	return row[pos]
}
