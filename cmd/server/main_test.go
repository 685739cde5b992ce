package main

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func init() {
	logger = slog.New(slog.DiscardHandler)
}

func TestGetClientIP(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "203.0.113.7:51234",
			want:       "203.0.113.7",
		},
		{
			name:       "x-forwarded-for single",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.9"},
			want:       "198.51.100.9",
		},
		{
			name:       "x-forwarded-for chain takes first",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.9, 10.0.0.2, 10.0.0.3"},
			want:       "198.51.100.9",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Real-IP": " 192.0.2.44 "},
			want:       "192.0.2.44",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/upload", nil)
			r.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			if got := getClientIP(r); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestGetRateLimiterIsPerIP(t *testing.T) {
	limiters = &sync.Map{}
	a := getRateLimiter("198.51.100.1")
	b := getRateLimiter("198.51.100.2")
	if a == b {
		t.Fatal("different IPs share a limiter")
	}
	if a != getRateLimiter("198.51.100.1") {
		t.Fatal("same IP got a new limiter")
	}
}

func TestWithMethodRejectsWrongVerb(t *testing.T) {
	called := false
	h := withMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/upload", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("Allow header %q", rec.Header().Get("Allow"))
	}
	if called {
		t.Fatal("handler ran for wrong method")
	}
}

func TestWithRecoveryConvertsPanic(t *testing.T) {
	h := withRecovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Fatal("panic value leaked into the response")
	}
}

func TestParseJSONRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	mk := func(body string) *http.Request {
		return httptest.NewRequest(http.MethodPost, "/read", strings.NewReader(body))
	}

	if _, err := parseJSON[fileIDRequest](mk(`{"fileId":"abc"}`), 1<<10); err != nil {
		t.Fatalf("valid body rejected: %v", err)
	}
	if _, err := parseJSON[fileIDRequest](mk(`{"fileId":"abc","extra":1}`), 1<<10); err == nil {
		t.Fatal("unknown field accepted")
	}
	if _, err := parseJSON[fileIDRequest](mk(`{"fileId":"abc"}{"fileId":"def"}`), 1<<10); err == nil {
		t.Fatal("trailing JSON accepted")
	}
	if _, err := parseJSON[fileIDRequest](mk(``), 1<<10); err == nil {
		t.Fatal("empty body accepted")
	}
}

func TestSanitizeLogStringStripsNewlines(t *testing.T) {
	got := sanitizeLogString("/upload\r\nfake-log-entry")
	if strings.ContainsAny(got, "\r\n") {
		t.Fatalf("newlines survived: %q", got)
	}
}

func TestSanitizeErrorTruncates(t *testing.T) {
	long := strings.Repeat("x", 1000)
	msg := sanitizeError(errTest(long))
	if len(msg) > 310 {
		t.Fatalf("message not truncated, len %d", len(msg))
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
