package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/satlink/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordFrame(true)
	RecordFrame(false)
	RecordDispatch("echo", "ok")
	RecordHandler("echo", "release", 3*time.Millisecond, true)
	before := ReleaseInFlight()
	ReleaseQueued()
	if got := ReleaseInFlight(); got != before+1 {
		t.Fatalf("expected in-flight %v, got %v", before+1, got)
	}
	ReleaseDone()
	if got := ReleaseInFlight(); got != before {
		t.Fatalf("expected in-flight back to %v, got %v", before, got)
	}
	RecordTransfer("receiver", "done", 128)
	RecordFolderSync(2, 512)
	RecordHTTPRequest("satctl", "GET", "/health", 200, 2*time.Millisecond)
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	log := testlog.Start(t)
	r := NewRouter("satctl", log, func() Status {
		return Status{Device: "/dev/ttyS2", Commands: 6, Started: true}
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected health status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"/dev/ttyS2"`) {
		t.Fatalf("health body missing link status: %s", rec.Body.String())
	}

	RecordFrame(true)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected metrics status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "satlink_frame_decoded_total") {
		t.Fatalf("metrics body missing frame counter")
	}
	if !strings.Contains(rec.Body.String(), `route="/health"`) {
		t.Fatalf("metrics body missing the instrumented /health request")
	}
}
