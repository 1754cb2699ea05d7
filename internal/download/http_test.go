package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/metronova/buseta/internal/promote"
)

func newTestDownloader(limit int) *HTTPDownloader {
	return NewHTTPDownloader(5*time.Second, limit, zap.NewNop().Sugar())
}

func waitFor(t *testing.T, d *HTTPDownloader, id JobID, cond func(FetchJob) bool) FetchJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := d.Query(id)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if cond(job) {
			return job
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach expected state", id)
	return FetchJob{}
}

func terminal(j FetchJob) bool { return j.Status.Terminal() }

func TestHTTPDownloader_Success(t *testing.T) {
	body := `{"generated_timestamp":"1609459200","data":[]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := newTestDownloader(2)
	tmp := filepath.Join(dir, "stop", "busStop_Tmp-1.json")
	id, err := d.Enqueue(context.Background(), Request{URL: srv.URL, TemporaryPath: tmp})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	job := waitFor(t, d, id, terminal)
	if job.Status != StatusSucceeded {
		t.Fatalf("status = %v (%v: %s), expected succeeded", job.Status, job.Reason, job.Detail)
	}
	if job.BytesDownloaded != int64(len(body)) {
		t.Errorf("bytes = %d, expected %d", job.BytesDownloaded, len(body))
	}
	if job.Duration() < 0 {
		t.Errorf("negative duration %v", job.Duration())
	}
	got, _ := os.ReadFile(tmp)
	if string(got) != body {
		t.Errorf("temp file = %q", got)
	}
}

func TestHTTPDownloader_Failures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	os.WriteFile(blocker, []byte("x"), 0644)
	existing := filepath.Join(dir, "existing.json")
	os.WriteFile(existing, []byte("x"), 0644)

	tests := []struct {
		name     string
		url      string
		tmp      string
		expected Reason
	}{
		{"not found", srv.URL + "/missing", filepath.Join(dir, "a.json"), ReasonHTTPDataError},
		{"redirect loop", srv.URL + "/loop", filepath.Join(dir, "b.json"), ReasonTooManyRedirects},
		{"temp exists", srv.URL + "/missing", existing, ReasonFileConflict},
		{"parent is a file", srv.URL + "/missing", filepath.Join(blocker, "c.json"), ReasonDeviceUnavailable},
	}

	d := newTestDownloader(4)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, err := d.Enqueue(context.Background(), Request{URL: tc.url, TemporaryPath: tc.tmp})
			if err != nil {
				t.Fatalf("Enqueue failed: %v", err)
			}
			job := waitFor(t, d, id, terminal)
			if job.Status != StatusFailed {
				t.Fatalf("status = %v, expected failed", job.Status)
			}
			if job.Reason != tc.expected {
				t.Errorf("reason = %v (%s), expected %v", job.Reason, job.Detail, tc.expected)
			}
		})
	}
}

func TestHTTPDownloader_CancelLeavesTempFile(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tmp := filepath.Join(t.TempDir(), "ETA_Tmp-1.json")
	d := newTestDownloader(1)
	id, _ := d.Enqueue(context.Background(), Request{URL: srv.URL, TemporaryPath: tmp})

	running := waitFor(t, d, id, func(j FetchJob) bool { return j.BytesDownloaded > 0 })
	if running.TotalBytes != 1000 {
		t.Errorf("total = %d, expected 1000", running.TotalBytes)
	}

	if err := d.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	job, _ := d.Query(id)
	if job.Status != StatusFailed || job.Reason != ReasonCanceled {
		t.Errorf("after cancel: %v/%v", job.Status, job.Reason)
	}
	if _, err := os.Stat(tmp); err != nil {
		t.Errorf("temp file should stay after cancel: %v", err)
	}
}

func TestHTTPDownloader_ConcurrencyLimit(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := newTestDownloader(1)
	first, _ := d.Enqueue(context.Background(), Request{URL: srv.URL, TemporaryPath: filepath.Join(dir, "1.json")})
	waitFor(t, d, first, func(j FetchJob) bool { return j.Status == StatusRunning })

	second, _ := d.Enqueue(context.Background(), Request{URL: srv.URL, TemporaryPath: filepath.Join(dir, "2.json")})
	time.Sleep(20 * time.Millisecond)
	if job, _ := d.Query(second); job.Status != StatusPending {
		t.Errorf("second job = %v, expected pending while the slot is taken", job.Status)
	}

	close(release)
	if job := waitFor(t, d, second, terminal); job.Status != StatusSucceeded {
		t.Errorf("second job = %v", job.Status)
	}
}

func TestHTTPDownloader_UnknownAndForget(t *testing.T) {
	d := newTestDownloader(1)
	if _, err := d.Query("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Query: expected ErrUnknownJob, got %v", err)
	}
	if err := d.Cancel("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Cancel: expected ErrUnknownJob, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	id, _ := d.Enqueue(context.Background(), Request{URL: srv.URL, TemporaryPath: filepath.Join(t.TempDir(), "x.json")})
	waitFor(t, d, id, terminal)
	d.Forget(id)
	if _, err := d.Query(id); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("forgotten job still tracked: %v", err)
	}
}

func TestPoller_FetchEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	canonical := filepath.Join(dir, "eta", "ETA_ABC.json")
	tmp := filepath.Join(dir, "eta", "ETA_Tmp-1.json")

	p := NewPoller(newTestDownloader(1), promote.NewFilePromoter(), time.Millisecond, zap.NewNop().Sugar())
	outcome, err := p.Fetch(context.Background(), Request{URL: srv.URL, TemporaryPath: tmp, CanonicalPath: canonical}, nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if outcome.Promotion != promote.Promoted {
		t.Errorf("promotion = %v", outcome.Promotion)
	}
	got, _ := os.ReadFile(canonical)
	if string(got) != `{"data":[]}` {
		t.Errorf("canonical = %q", got)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Error("temp file should be consumed by promotion")
	}
}

func TestPoller_FetchFailureLeavesCanonical(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	dir := t.TempDir()
	canonical := filepath.Join(dir, "busStop.json")
	os.WriteFile(canonical, []byte("old"), 0644)

	p := NewPoller(newTestDownloader(1), promote.NewFilePromoter(), time.Millisecond, zap.NewNop().Sugar())
	_, err := p.Fetch(context.Background(), Request{URL: srv.URL, TemporaryPath: filepath.Join(dir, "busStop_Tmp-1.json"), CanonicalPath: canonical}, nil)

	var tf *TransferFailed
	if !errors.As(err, &tf) || tf.Reason != ReasonHTTPDataError {
		t.Fatalf("expected http data error, got %v", err)
	}
	got, _ := os.ReadFile(canonical)
	if string(got) != "old" {
		t.Errorf("canonical changed to %q", got)
	}
}
