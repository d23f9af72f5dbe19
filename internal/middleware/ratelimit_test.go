package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type recordingObserver struct {
	route  string
	status int
}

func (o *recordingObserver) ObserveHTTP(_, route string, status int, _ time.Duration) {
	o.route, o.status = route, status
}

func TestRateLimiterPerClient(t *testing.T) {
	l := NewRateLimiter(0.001, 2, false)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	hit := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	if hit("10.0.0.1:5000") != 200 || hit("10.0.0.1:5001") != 200 {
		t.Fatalf("burst should pass")
	}
	if code := hit("10.0.0.1:5002"); code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d", code)
	}
	if hit("10.0.0.2:5000") != 200 {
		t.Fatalf("other client must have its own bucket")
	}
}

func TestClientIPProxy(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(req, false); got != "127.0.0.1" {
		t.Fatalf("untrusted = %s", got)
	}
	if got := ClientIP(req, true); got != "203.0.113.9" {
		t.Fatalf("trusted = %s", got)
	}
}

func TestInstrumentRecordsStatus(t *testing.T) {
	obs := &recordingObserver{}
	h := Instrument("GET /x", obs, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	if obs.route != "GET /x" || obs.status != http.StatusGone {
		t.Fatalf("observed %+v", obs)
	}
}

func TestRateLimiterCustomReject(t *testing.T) {
	l := NewRateLimiter(0.001, 1, false)
	reject := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := l.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), reject)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusTeapot || rr.Header().Get("Retry-After") != "1" {
		t.Fatalf("rejected with %d, Retry-After %q", rr.Code, rr.Header().Get("Retry-After"))
	}
}
