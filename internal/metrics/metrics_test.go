package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	misses := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss"))

	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordCacheLookup(false)

	if got := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")) - hits; got != 1 {
		t.Errorf("expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss")) - misses; got != 2 {
		t.Errorf("expected 2 misses, got %v", got)
	}
}

func TestRecordBlobOperation(t *testing.T) {
	before := testutil.ToFloat64(blobOperationsTotal.WithLabelValues("s3", "put_object", "error"))
	RecordBlobOperation("s3", "put_object", 10*time.Millisecond, false)
	if got := testutil.ToFloat64(blobOperationsTotal.WithLabelValues("s3", "put_object", "error")) - before; got != 1 {
		t.Errorf("expected 1 failed put, got %v", got)
	}
}

func TestPush(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	RecordDocumentExported(12)
	if err := Push(ts.URL, "sfschema_export"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !strings.HasPrefix(gotPath, "/metrics/job/sfschema_export") {
		t.Errorf("unexpected push path %q", gotPath)
	}
}

func TestPush_GatewayError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	if err := Push(ts.URL, "sfschema_fetch"); err == nil {
		t.Fatal("expected error from failing gateway")
	}
}
