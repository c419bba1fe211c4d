package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/bidlog/internal/logparse"
)

const sampleLog = `ACCOUNT_ID,AUCTION_ID,BID_PRICE_MICROS_USD,BID_TIME,CAMPAIGN_ID,CLEARING_PRICE_MICROS_USD,CLICKS,CONVERSIONS,CREATIVE_ID,DOMAIN,GEO_COUNTRY,GEO_CITY,PLATFORM_DEVICE_TYPE,PLATFORM_BROWSER,PLATFORM_OS,WIN_COST_MICROS_USD
a1,x1,500000,2024-07-01 10:00:00,c1,450000,1,0,cr1,example.com,US,NY,mobile,chrome,ios,400000
a1,x2,600000,2024-07-01 11:00:00,c1,0,0,0,cr2,other.com,US,LA,desktop,firefox,windows,0
`

func sampleReport(t *testing.T, userID, fileID string) *Report {
	t.Helper()
	sum, err := logparse.Parse(context.Background(), strings.NewReader(sampleLog))
	require.NoError(t, err)
	return &Report{
		FileID:      fileID,
		UserID:      userID,
		FileName:    "bids.csv",
		ProcessedAt: time.Date(2024, 7, 2, 8, 30, 0, 123456000, time.UTC),
		Summary:     sum,
	}
}

// assertSameSummary compares summaries by their encoding. Decimal totals
// compare by value, not by internal representation.
func assertSameSummary(t *testing.T, want, got *logparse.Summary) {
	t.Helper()
	wb, err := json.Marshal(want)
	require.NoError(t, err)
	gb, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(wb), string(gb))
}

// testResultStore runs the behaviour every backend must share.
func testResultStore(t *testing.T, s ResultStore) {
	ctx := context.Background()

	t.Run("missing report", func(t *testing.T) {
		ok, err := s.Exists(ctx, "u1", "nope")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.Load(ctx, "u1", "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("save is idempotent", func(t *testing.T) {
		r := sampleReport(t, "u1", "f1")

		require.NoError(t, s.Save(ctx, r))
		first, err := s.Load(ctx, "u1", "f1")
		require.NoError(t, err)
		assertSameSummary(t, r.Summary, first.Summary)

		require.NoError(t, s.Save(ctx, r))
		second, err := s.Load(ctx, "u1", "f1")
		require.NoError(t, err)
		assertSameSummary(t, r.Summary, second.Summary)
		assertSameSummary(t, first.Summary, second.Summary)
		assert.Equal(t, first.FileName, second.FileName)
		assert.True(t, r.ProcessedAt.Equal(second.ProcessedAt))

		ok, err := s.Exists(ctx, "u1", "f1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("reprocess overwrites", func(t *testing.T) {
		r := sampleReport(t, "u2", "f1")
		require.NoError(t, s.Save(ctx, r))

		updated := sampleReport(t, "u2", "f1")
		updated.FileName = "bids-v2.csv"
		updated.Summary.TotalRecords = 99
		require.NoError(t, s.Save(ctx, updated))

		got, err := s.Load(ctx, "u2", "f1")
		require.NoError(t, err)
		assert.Equal(t, "bids-v2.csv", got.FileName)
		assert.EqualValues(t, 99, got.Summary.TotalRecords)
	})

	t.Run("keys are scoped by user", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, sampleReport(t, "u3", "shared")))

		ok, err := s.Exists(ctx, "u4", "shared")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete removes report", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, sampleReport(t, "u5", "f1")))
		require.NoError(t, s.Save(ctx, sampleReport(t, "u5", "f2")))

		require.NoError(t, s.Delete(ctx, "u5", "f1"))
		ok, err := s.Exists(ctx, "u5", "f1")
		require.NoError(t, err)
		assert.False(t, ok)
		_, err = s.Load(ctx, "u5", "f1")
		assert.ErrorIs(t, err, ErrNotFound)

		ok, err = s.Exists(ctx, "u5", "f2")
		require.NoError(t, err)
		assert.True(t, ok, "sibling report must survive")

		assert.NoError(t, s.Delete(ctx, "u5", "f1"), "deleting twice is not an error")
	})

	t.Run("empty key rejected", func(t *testing.T) {
		_, err := s.Exists(ctx, "", "f1")
		assert.Error(t, err)
		assert.Error(t, s.Save(ctx, &Report{UserID: "u1"}))
		assert.Error(t, s.Delete(ctx, "u1", ""))
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	testResultStore(t, s)
}

func TestBadgerStore(t *testing.T) {
	s, err := OpenBadger(filepath.Join(t.TempDir(), "reports"))
	require.NoError(t, err)
	defer s.Close()
	testResultStore(t, s)
}

func TestKVKeyEscapesSeparators(t *testing.T) {
	assert.NotEqual(t, string(kvKey("a/b", "c")), string(kvKey("a", "b/c")))
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	defer s.Close()
	testResultStore(t, s)
}
