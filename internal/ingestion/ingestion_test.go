package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bacoco/firmia/internal/analyticstore"
	"github.com/bacoco/firmia/internal/clockconfig"
	"github.com/bacoco/firmia/internal/kvcache"
)

func newTestScheduler(t *testing.T, clock clockconfig.Clock) (*Scheduler, *analyticstore.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := analyticstore.Open(filepath.Join(dir, "analytics.db"), filepath.Join(dir, "store-scratch"))
	if err != nil {
		t.Fatalf("analyticstore.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	s := New(Config{Store: store, Clock: clock, ScratchDir: filepath.Join(dir, "scratch")})
	return s, store
}

func TestAddJob_InvalidCronExprFails(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	err := s.AddJob(Job{Name: "bad", CronExpr: "not a cron expression"})
	if err == nil {
		t.Error("AddJob() should fail for an invalid cron expression")
	}
}

func TestAddJob_ComputesNextRun(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	if err := s.AddJob(Job{Name: "entities", CronExpr: "0 2 * * *"}); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	status, ok := s.JobStatus("entities")
	if !ok {
		t.Fatal("JobStatus() should find the job just added")
	}
	if status.NextRun.IsZero() {
		t.Error("NextRun should be computed at AddJob time")
	}
}

func TestRunJobByName_UnknownJobFails(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	if _, err := s.RunJobByName(context.Background(), "nope", false); err == nil {
		t.Error("RunJobByName() should fail for an unregistered job")
	}
}

func TestRunJobByName_DownloadsVerifiesAndLoads(t *testing.T) {
	csv := "business_key,display_name\n111111111,Acme\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(csv))
	}))
	defer srv.Close()

	sum := sha256.Sum256([]byte(csv))
	hash := hex.EncodeToString(sum[:])

	s, store := newTestScheduler(t, nil)
	if err := s.AddJob(Job{Name: "entities", CronExpr: "0 2 * * *", SourceURL: srv.URL, TargetTable: "entities", ExpectedHash: hash}); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}

	result, err := s.RunJobByName(context.Background(), "entities", false)
	if err != nil {
		t.Fatalf("RunJobByName() error = %v", err)
	}
	if result.Status != "ok" {
		t.Fatalf("Status = %q, want ok (reason: %s)", result.Status, result.Reason)
	}
	if result.RowCount != 1 {
		t.Errorf("RowCount = %d, want 1", result.RowCount)
	}

	rows, err := store.Execute(context.Background(), "SELECT display_name FROM entities")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(rows) != 1 || rows[0]["display_name"] != "Acme" {
		t.Errorf("rows = %+v, want one row with display_name=Acme", rows)
	}
}

func TestRunJobByName_HashMismatchFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("business_key\n111111111\n"))
	}))
	defer srv.Close()

	s, _ := newTestScheduler(t, nil)
	s.AddJob(Job{Name: "entities", CronExpr: "0 2 * * *", SourceURL: srv.URL, TargetTable: "entities", ExpectedHash: "deadbeef"})

	result, err := s.RunJobByName(context.Background(), "entities", false)
	if err != nil {
		t.Fatalf("RunJobByName() error = %v", err)
	}
	if result.Status != "failed" {
		t.Errorf("Status = %q, want failed on hash mismatch", result.Status)
	}
}

func TestRunJobByName_DownloadFailureIsFailedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, _ := newTestScheduler(t, nil)
	s.AddJob(Job{Name: "entities", CronExpr: "0 2 * * *", SourceURL: srv.URL, TargetTable: "entities"})

	result, err := s.RunJobByName(context.Background(), "entities", false)
	if err != nil {
		t.Fatalf("RunJobByName() error = %v", err)
	}
	if result.Status != "failed" {
		t.Errorf("Status = %q, want failed on a 500 download", result.Status)
	}
}

func TestRunJobByName_TransformIsApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("raw-not-csv-content"))
	}))
	defer srv.Close()

	s, store := newTestScheduler(t, nil)
	transformDir := t.TempDir()
	transform := func(downloadedPath string) (string, error) {
		csvPath := filepath.Join(transformDir, "transformed.csv")
		if err := os.WriteFile(csvPath, []byte("business_key\n999999999\n"), 0o644); err != nil {
			return "", err
		}
		return csvPath, nil
	}
	s.AddJob(Job{Name: "entities", CronExpr: "0 2 * * *", SourceURL: srv.URL, TargetTable: "entities", Transform: transform})

	result, err := s.RunJobByName(context.Background(), "entities", false)
	if err != nil {
		t.Fatalf("RunJobByName() error = %v", err)
	}
	if result.Status != "ok" {
		t.Fatalf("Status = %q, want ok", result.Status)
	}
	rows, _ := store.Execute(context.Background(), "SELECT business_key FROM entities")
	if len(rows) != 1 || rows[0]["business_key"] != "999999999" {
		t.Errorf("rows = %+v, want transformed content loaded", rows)
	}
}

func TestRunJobByName_FlushesCachePatternsOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("business_key\n111111111\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	store, err := analyticstore.Open(filepath.Join(dir, "analytics.db"), filepath.Join(dir, "store-scratch"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache := kvcache.NewMemoryCache(time.Minute)
	cache.Set(context.Background(), "search", "some-key", []byte("cached"), time.Hour)

	s := New(Config{Store: store, Cache: cache, ScratchDir: filepath.Join(dir, "scratch")})
	s.AddJob(Job{Name: "entities", CronExpr: "0 2 * * *", SourceURL: srv.URL, TargetTable: "entities", CachePatterns: []string{"search:*"}})

	if _, err := s.RunJobByName(context.Background(), "entities", false); err != nil {
		t.Fatalf("RunJobByName() error = %v", err)
	}

	if _, hit, _ := cache.Get(context.Background(), "search", "some-key"); hit {
		t.Error("cache entries matching CachePatterns should be flushed after a successful load")
	}
}

func TestRunJobByName_SkipsWhenAlreadyRunning(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	s.AddJob(Job{Name: "entities", CronExpr: "0 2 * * *"})

	st := s.jobs["entities"]
	st.mu.Lock()
	st.running = true
	st.mu.Unlock()

	result, err := s.RunJobByName(context.Background(), "entities", false)
	if err != nil {
		t.Fatalf("RunJobByName() error = %v", err)
	}
	if result.Status != "skipped" {
		t.Errorf("Status = %q, want skipped", result.Status)
	}
}

func TestForceUpdateAll_RunsEveryJob(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("business_key\n111111111\n"))
	}))
	defer srv.Close()

	s, _ := newTestScheduler(t, nil)
	s.AddJob(Job{Name: "a", CronExpr: "0 2 * * *", SourceURL: srv.URL, TargetTable: "table_a"})
	s.AddJob(Job{Name: "b", CronExpr: "0 3 * * *", SourceURL: srv.URL, TargetTable: "table_b"})

	results := s.ForceUpdateAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("upstream hit %d times, want 2 (one per job)", hits)
	}
}

func TestForceUpdateAll_RedownloadsEvenIfScratchFileIsFresh(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("business_key\n111111111\n"))
	}))
	defer srv.Close()

	s, _ := newTestScheduler(t, nil)
	s.AddJob(Job{Name: "entities", CronExpr: "0 2 * * *", SourceURL: srv.URL, TargetTable: "entities"})

	if _, err := s.RunJobByName(context.Background(), "entities", false); err != nil {
		t.Fatalf("RunJobByName() error = %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("upstream hit %d times after first run, want 1", hits)
	}

	s.ForceUpdateAll(context.Background())
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("upstream hit %d times after ForceUpdateAll, want 2 (should redownload despite a fresh scratch file)", hits)
	}
}

func TestRunJobByName_ForceRedownloadsEvenIfScratchFileIsFresh(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("business_key\n111111111\n"))
	}))
	defer srv.Close()

	s, _ := newTestScheduler(t, nil)
	s.AddJob(Job{Name: "entities", CronExpr: "0 2 * * *", SourceURL: srv.URL, TargetTable: "entities"})

	if _, err := s.RunJobByName(context.Background(), "entities", false); err != nil {
		t.Fatalf("RunJobByName() error = %v", err)
	}

	if _, err := s.RunJobByName(context.Background(), "entities", true); err != nil {
		t.Fatalf("RunJobByName() error = %v", err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("upstream hit %d times, want 2 (force=true should redownload)", hits)
	}
}

func TestAllStatus_ReportsEveryJob(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	s.AddJob(Job{Name: "a", CronExpr: "0 2 * * *"})
	s.AddJob(Job{Name: "b", CronExpr: "0 3 * * *"})

	statuses := s.AllStatus()
	if len(statuses) != 2 {
		t.Errorf("len(statuses) = %d, want 2", len(statuses))
	}
}

func TestJobStatus_UnknownJobReturnsFalse(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	if _, ok := s.JobStatus("does-not-exist"); ok {
		t.Error("JobStatus() should report false for an unregistered job")
	}
}

func TestVerifyHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	os.WriteFile(path, []byte("hello"), 0o644)

	sum := sha256.Sum256([]byte("hello"))
	hash := hex.EncodeToString(sum[:])

	if err := verifyHash(path, hash); err != nil {
		t.Errorf("verifyHash() error = %v, want nil for a matching hash", err)
	}
	if err := verifyHash(path, "0000"); err == nil {
		t.Error("verifyHash() should fail for a mismatching hash")
	}
}

func TestDownload_SkipsRecentExistingFile(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("content"))
	}))
	defer srv.Close()

	s, _ := newTestScheduler(t, nil)
	job := Job{Name: "entities", SourceURL: srv.URL}

	if _, err := s.download(context.Background(), job, false); err != nil {
		t.Fatalf("download() error = %v", err)
	}
	if _, err := s.download(context.Background(), job, false); err != nil {
		t.Fatalf("download() error = %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("upstream called %d times, want 1 (second call reuses the fresh file)", calls)
	}
}

func TestDownload_ForceRefetchesEvenIfFresh(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("content"))
	}))
	defer srv.Close()

	s, _ := newTestScheduler(t, nil)
	job := Job{Name: "entities", SourceURL: srv.URL}

	s.download(context.Background(), job, false)
	s.download(context.Background(), job, true)

	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("upstream called %d times, want 2 (force=true should refetch)", calls)
	}
}
