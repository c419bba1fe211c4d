package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/bidlog/internal/filestore"
	"github.com/JonMunkholm/bidlog/internal/store"
)

const header = "ACCOUNT_ID,AUCTION_ID,BID_PRICE_MICROS_USD,BID_TIME,CAMPAIGN_ID,CLEARING_PRICE_MICROS_USD,CLICKS,CONVERSIONS,CREATIVE_ID,DOMAIN,GEO_COUNTRY,GEO_CITY,PLATFORM_DEVICE_TYPE,PLATFORM_BROWSER,PLATFORM_OS,WIN_COST_MICROS_USD\n"

const sampleRows = "a1,x1,500000,2024-07-01 10:00:00,c1,450000,1,0,cr1,example.com,US,NY,mobile,chrome,ios,400000\n" +
	"a1,x2,600000,2024-07-01 11:00:00,c1,0,0,0,cr2,other.com,US,LA,desktop,firefox,windows,0\n"

// fakeFiles is an in-memory FileSource. open overrides the reader per file id.
type fakeFiles struct {
	mu    sync.Mutex
	files map[string]filestore.FileInfo
	data  map[string]string
	open  map[string]func() io.ReadCloser
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{
		files: make(map[string]filestore.FileInfo),
		data:  make(map[string]string),
		open:  make(map[string]func() io.ReadCloser),
	}
}

func (f *fakeFiles) add(userID, id, name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[userID+"/"+id] = filestore.FileInfo{ID: id, UserID: userID, Name: name, Size: int64(len(content))}
	f.data[userID+"/"+id] = content
}

func (f *fakeFiles) Stat(userID, id string) (filestore.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.files[userID+"/"+id]
	if !ok {
		return filestore.FileInfo{}, filestore.ErrNotFound
	}
	return info, nil
}

func (f *fakeFiles) Open(userID, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if open, ok := f.open[userID+"/"+id]; ok {
		return open(), nil
	}
	content, ok := f.data[userID+"/"+id]
	if !ok {
		return nil, filestore.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (f *fakeFiles) Delete(userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[userID+"/"+id]; !ok {
		return filestore.ErrNotFound
	}
	delete(f.files, userID+"/"+id)
	delete(f.data, userID+"/"+id)
	delete(f.open, userID+"/"+id)
	return nil
}

// endlessLog yields a header and then rows forever, slowly.
type endlessLog struct {
	sentHeader bool
}

func (e *endlessLog) Read(p []byte) (int, error) {
	if !e.sentHeader {
		e.sentHeader = true
		return copy(p, header), nil
	}
	time.Sleep(time.Millisecond)
	return copy(p, "a,x,1,2024-07-01 10:00:00,c,0,0,0,cr,d.com,US,NY,mobile,chrome,ios,0\n"), nil
}

func (e *endlessLog) Close() error { return nil }

func newTestService(t *testing.T, files FileSource, results store.ResultStore, opts Options) *Service {
	t.Helper()
	if opts.ProgressInterval == 0 {
		opts.ProgressInterval = 1
	}
	return NewService(files, results, opts)
}

func waitDone(t *testing.T, s *Service, jobID string) JobStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := s.Wait(ctx, jobID)
	require.NoError(t, err)
	return st
}

func TestProcess_CompletesAndSaves(t *testing.T) {
	files := newFakeFiles()
	files.add("u1", "f1", "bids.csv", header+sampleRows)
	results := store.NewMemory()
	s := newTestService(t, files, results, Options{})

	st, err := s.Process(context.Background(), Request{UserID: "u1", FileID: "f1"})
	require.NoError(t, err)
	assert.False(t, st.State.Terminal())
	assert.NotEmpty(t, st.JobID)

	final := waitDone(t, s, st.JobID)
	assert.Equal(t, StateCompleted, final.State)
	assert.EqualValues(t, 2, final.Rows)
	assert.False(t, final.Cached)
	assert.Equal(t, 100, final.Percent())

	report, err := s.Result(context.Background(), "u1", "f1")
	require.NoError(t, err)
	assert.Equal(t, "bids.csv", report.FileName)
	assert.EqualValues(t, 2, report.Summary.TotalRecords)
	assert.Equal(t, 1.1, report.Summary.TotalBidAmount)

	ok, err := s.IsProcessed(context.Background(), "u1", "f1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcess_ReusesStoredResult(t *testing.T) {
	files := newFakeFiles()
	files.add("u1", "f1", "bids.csv", header+sampleRows)
	results := store.NewMemory()
	s := newTestService(t, files, results, Options{})

	first, err := s.Process(context.Background(), Request{UserID: "u1", FileID: "f1"})
	require.NoError(t, err)
	waitDone(t, s, first.JobID)

	second, err := s.Process(context.Background(), Request{UserID: "u1", FileID: "f1"})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, second.State)
	assert.True(t, second.Cached)

	forced, err := s.Process(context.Background(), Request{UserID: "u1", FileID: "f1", Force: true})
	require.NoError(t, err)
	final := waitDone(t, s, forced.JobID)
	assert.Equal(t, StateCompleted, final.State)
	assert.False(t, final.Cached)
}

func TestProcess_UnsupportedFormat(t *testing.T) {
	files := newFakeFiles()
	files.add("u1", "f1", "bids.xlsx", "PK\x03\x04")
	results := store.NewMemory()
	s := newTestService(t, files, results, Options{})

	st, err := s.Process(context.Background(), Request{UserID: "u1", FileID: "f1"})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, "FILE006", st.ErrorCode)
	assert.Contains(t, st.Error, "unsupported file format")

	ok, err := results.Exists(context.Background(), "u1", "f1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcess_SchemaErrorFailsJob(t *testing.T) {
	files := newFakeFiles()
	files.add("u1", "f1", "bids.csv", "ACCOUNT_ID,DOMAIN\na1,example.com\n")
	results := store.NewMemory()
	s := newTestService(t, files, results, Options{})

	st, err := s.Process(context.Background(), Request{UserID: "u1", FileID: "f1"})
	require.NoError(t, err)

	final := waitDone(t, s, st.JobID)
	assert.Equal(t, StateFailed, final.State)
	assert.Equal(t, "VAL004", final.ErrorCode)
	assert.Contains(t, final.Error, "AUCTION_ID")
	assert.Contains(t, final.Message, "(Code: VAL004)")

	_, err = s.Result(context.Background(), "u1", "f1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcess_UnknownFile(t *testing.T) {
	s := newTestService(t, newFakeFiles(), store.NewMemory(), Options{})

	_, err := s.Process(context.Background(), Request{UserID: "u1", FileID: "missing"})
	assert.ErrorIs(t, err, filestore.ErrNotFound)

	_, err = s.Process(context.Background(), Request{UserID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCancel_DiscardsPartialResult(t *testing.T) {
	files := newFakeFiles()
	files.add("u1", "f1", "bids.csv", "")
	files.open["u1/f1"] = func() io.ReadCloser { return &endlessLog{} }
	results := store.NewMemory()
	s := newTestService(t, files, results, Options{})

	st, err := s.Process(context.Background(), Request{UserID: "u1", FileID: "f1"})
	require.NoError(t, err)

	updates, err := s.Subscribe(st.JobID)
	require.NoError(t, err)

	// wait until rows are flowing
	deadline := time.After(5 * time.Second)
	for running := false; !running; {
		select {
		case u, ok := <-updates:
			require.True(t, ok, "job finished before cancel")
			running = u.State == StateRunning && u.Rows > 0
		case <-deadline:
			t.Fatal("job never started")
		}
	}

	require.NoError(t, s.Cancel(st.JobID))
	final := waitDone(t, s, st.JobID)
	assert.Equal(t, StateCancelled, final.State)
	assert.Equal(t, "UPL001", final.ErrorCode)

	ok, err := results.Exists(context.Background(), "u1", "f1")
	require.NoError(t, err)
	assert.False(t, ok, "cancelled job must not persist")

	// the subscription is closed once the job is done
	for range updates {
	}

	assert.NoError(t, s.Cancel(st.JobID), "cancelling a finished job is a no-op")
}

func TestProcess_TimeoutFailsJob(t *testing.T) {
	files := newFakeFiles()
	files.add("u1", "f1", "bids.csv", "")
	files.open["u1/f1"] = func() io.ReadCloser { return &endlessLog{} }
	s := newTestService(t, files, store.NewMemory(), Options{JobTimeout: 50 * time.Millisecond})

	st, err := s.Process(context.Background(), Request{UserID: "u1", FileID: "f1"})
	require.NoError(t, err)

	final := waitDone(t, s, st.JobID)
	assert.Equal(t, StateFailed, final.State)
	assert.Equal(t, "UPL005", final.ErrorCode)
}

func TestProcess_BusyWhenNoSlots(t *testing.T) {
	files := newFakeFiles()
	files.add("u1", "slow", "bids.csv", "")
	files.open["u1/slow"] = func() io.ReadCloser { return &endlessLog{} }
	files.add("u1", "f2", "bids.csv", header+sampleRows)
	s := newTestService(t, files, store.NewMemory(), Options{MaxConcurrent: 1, MaxWait: 20 * time.Millisecond})

	slow, err := s.Process(context.Background(), Request{UserID: "u1", FileID: "slow"})
	require.NoError(t, err)
	defer s.Cancel(slow.JobID)

	_, err = s.Process(context.Background(), Request{UserID: "u1", FileID: "f2"})
	assert.True(t, errors.Is(err, ErrTooManyJobs), "got %v", err)
	assert.Equal(t, 1, s.LimiterStatus().Active)
}

func TestWaitForJobs(t *testing.T) {
	files := newFakeFiles()
	files.add("u1", "f1", "bids.csv", header+sampleRows)
	s := newTestService(t, files, store.NewMemory(), Options{})

	_, err := s.Process(context.Background(), Request{UserID: "u1", FileID: "f1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.WaitForJobs(ctx))
	assert.Equal(t, 0, s.LimiterStatus().Active)
}

func TestCancelAll(t *testing.T) {
	files := newFakeFiles()
	files.add("u1", "f1", "bids.csv", "")
	files.open["u1/f1"] = func() io.ReadCloser { return &endlessLog{} }
	s := newTestService(t, files, store.NewMemory(), Options{})

	st, err := s.Process(context.Background(), Request{UserID: "u1", FileID: "f1"})
	require.NoError(t, err)

	s.CancelAll()
	assert.Equal(t, StateCancelled, waitDone(t, s, st.JobID).State)
}

func TestJobRetention(t *testing.T) {
	files := newFakeFiles()
	files.add("u1", "f1", "bids.json", "{}")
	s := newTestService(t, files, store.NewMemory(), Options{JobRetention: 10 * time.Millisecond})

	st, err := s.Process(context.Background(), Request{UserID: "u1", FileID: "f1"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := s.Status(st.JobID)
		return errors.Is(err, ErrJobNotFound)
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribe_FinishedJob(t *testing.T) {
	files := newFakeFiles()
	files.add("u1", "f1", "bids.txt", "x")
	s := newTestService(t, files, store.NewMemory(), Options{})

	st, err := s.Process(context.Background(), Request{UserID: "u1", FileID: "f1"})
	require.NoError(t, err)

	ch, err := s.Subscribe(st.JobID)
	require.NoError(t, err)
	got, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, StateFailed, got.State)
	_, ok = <-ch
	assert.False(t, ok)

	_, err = s.Subscribe("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestDelete_RemovesFileAndResult(t *testing.T) {
	files := newFakeFiles()
	files.add("u1", "f1", "bids.csv", header+sampleRows)
	files.add("u1", "f2", "bids.csv", header+sampleRows)
	results := store.NewMemory()
	s := newTestService(t, files, results, Options{})

	for _, id := range []string{"f1", "f2"} {
		st, err := s.Process(context.Background(), Request{UserID: "u1", FileID: id})
		require.NoError(t, err)
		waitDone(t, s, st.JobID)
	}

	require.NoError(t, s.Delete(context.Background(), "u1", "f1"))

	_, err := s.Result(context.Background(), "u1", "f1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = files.Stat("u1", "f1")
	assert.ErrorIs(t, err, filestore.ErrNotFound)

	ok, err := s.IsProcessed(context.Background(), "u1", "f2")
	require.NoError(t, err)
	assert.True(t, ok, "other files keep their results")

	assert.ErrorIs(t, s.Delete(context.Background(), "u1", "f1"), filestore.ErrNotFound)
	assert.ErrorIs(t, s.Delete(context.Background(), "u1", ""), ErrInvalidRequest)
}

func TestDelete_CancelsRunningJob(t *testing.T) {
	files := newFakeFiles()
	files.add("u1", "f1", "bids.csv", "")
	files.open["u1/f1"] = func() io.ReadCloser { return &endlessLog{} }
	results := store.NewMemory()
	s := newTestService(t, files, results, Options{})

	st, err := s.Process(context.Background(), Request{UserID: "u1", FileID: "f1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Delete(ctx, "u1", "f1"))

	final, err := s.Status(st.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, final.State)

	ok, err := results.Exists(context.Background(), "u1", "f1")
	require.NoError(t, err)
	assert.False(t, ok)
}
