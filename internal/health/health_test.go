package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func pass(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return nil }}
}

func fail(name, msg string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return errors.New(msg) }}
}

func readyz(t *testing.T, h *Handler) (int, Report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var rep Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	return rec.Code, rep
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		wantErrs map[string]string // check name -> error, "" for passing
	}{
		{name: "no checkers", wantCode: http.StatusOK},
		{
			name:     "all pass",
			checkers: []Checker{pass("capture"), pass("capture_progress")},
			wantCode: http.StatusOK,
			wantErrs: map[string]string{"capture": "", "capture_progress": ""},
		},
		{
			name:     "one fails",
			checkers: []Checker{fail("capture", "microphone is closed"), pass("capture_progress")},
			wantCode: http.StatusServiceUnavailable,
			wantErrs: map[string]string{"capture": "microphone is closed", "capture_progress": ""},
		},
		{
			name:     "all fail",
			checkers: []Checker{fail("capture", "a"), fail("capture_progress", "b")},
			wantCode: http.StatusServiceUnavailable,
			wantErrs: map[string]string{"capture": "a", "capture_progress": "b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, rep := readyz(t, New(tt.checkers))
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			wantStatus := "ok"
			if tt.wantCode != http.StatusOK {
				wantStatus = "fail"
			}
			if rep.Status != wantStatus {
				t.Errorf("status = %q, want %q", rep.Status, wantStatus)
			}
			if len(rep.Checks) != len(tt.wantErrs) {
				t.Errorf("got %d checks, want %d", len(rep.Checks), len(tt.wantErrs))
			}
			for name, wantErr := range tt.wantErrs {
				res, ok := rep.Checks[name]
				if !ok {
					t.Errorf("check %q missing", name)
					continue
				}
				if res.OK != (wantErr == "") || res.Error != wantErr {
					t.Errorf("check %q = %+v, want error %q", name, res, wantErr)
				}
				if res.Latency == "" {
					t.Errorf("check %q has no latency", name)
				}
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New([]Checker{fail("capture", "closed")}).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200 even with failing checks", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var rep Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatal(err)
	}
	if rep.Status != "ok" || rep.Checks != nil {
		t.Errorf("report = %+v, want bare ok", rep)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /healthz = %d, want 405", rec.Code)
	}
}

func TestEvaluate_Details(t *testing.T) {
	t.Parallel()

	calls := 0
	h := New(nil, WithDetails(func() any {
		calls++
		return map[string]any{"state": "open"}
	}))
	_, rep := readyz(t, h)

	details, ok := rep.Details.(map[string]any)
	if !ok || details["state"] != "open" {
		t.Errorf("details = %#v", rep.Details)
	}
	if calls != 1 {
		t.Errorf("details evaluated %d times, want 1", calls)
	}
}

func TestEvaluate_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	// Each checker waits for the other, so sequential execution would time
	// out instead of passing.
	a, b := make(chan struct{}), make(chan struct{})
	meet := func(mine, theirs chan struct{}) func(context.Context) error {
		return func(ctx context.Context) error {
			close(mine)
			select {
			case <-theirs:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	h := New([]Checker{{Name: "a", Check: meet(a, b)}, {Name: "b", Check: meet(b, a)}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if rep := h.Evaluate(ctx); rep.Status != "ok" {
		t.Errorf("report = %+v", rep)
	}
}

func TestEvaluate_CancelledContext(t *testing.T) {
	t.Parallel()

	h := New([]Checker{{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := h.Evaluate(ctx)
	if rep.Status != "fail" || rep.Checks["slow"].Error != context.Canceled.Error() {
		t.Errorf("report = %+v", rep)
	}
}
