// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/mculab/acqd/pkg/csvstream"
	"github.com/mculab/acqd/pkg/plotgroup"
	"github.com/mculab/acqd/pkg/plotmodel"
	"github.com/mculab/acqd/pkg/probe"
	"github.com/mculab/acqd/pkg/tracehandler"
	"github.com/mculab/acqd/pkg/viewer"
)

// fakeTraceProbe satisfies probe.TraceProbe without ever producing a
// frame; the server tests only exercise routing, auth and rate limiting.
type fakeTraceProbe struct {
	mu sync.Mutex
}

func (p *fakeTraceProbe) StartAcqusition(settings probe.TraceProbeSettings, mask uint32) error {
	return nil
}
func (p *fakeTraceProbe) StopAcqusition() error { return nil }
func (p *fakeTraceProbe) ReadTrace() (float64, []uint32, bool) {
	time.Sleep(time.Millisecond)
	return 0, nil, false
}
func (p *fakeTraceProbe) GetTraceIndicators() probe.TraceIndicators {
	return probe.TraceIndicators{}
}

func newTestServer(t *testing.T, rateLimit rate.Limit, burst int) (*Server, *viewer.Handler, *tracehandler.Handler) {
	t.Helper()

	plotHandler := plotmodel.NewPlotHandler(100)
	groupHandler := plotgroup.NewHandler()
	variableHandler := plotmodel.NewVariableHandler()

	sim := probe.NewSimulatorProbe(time.Millisecond)
	v := viewer.New(groupHandler, variableHandler, plotHandler, sim, csvstream.NewStreamer())
	v.Start()
	t.Cleanup(v.Close)

	tracePlots := plotmodel.NewPlotHandler(100)
	tp := tracehandler.New(tracePlots, &fakeTraceProbe{}, csvstream.NewStreamer())
	tp.Start()
	t.Cleanup(tp.Close)

	auth := NewBearerAuth([]byte("secret"))
	s := NewServer(v, tp, plotHandler, groupHandler, auth, rateLimit, burst)
	return s, v, tp
}

func authedRequest(t *testing.T, method, path, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	token := signToken(t, []byte("secret"), map[string]interface{}{"exp": time.Now().Add(time.Hour).Unix()})
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// TestSetViewerStateRequiresBearerToken is testable property 12: a
// PUT /viewer/state without a valid bearer token must never reach
// viewer.SetState.
func TestSetViewerStateRequiresBearerToken(t *testing.T) {
	s, v, _ := newTestServer(t, rate.Inf, 100)
	v.SetState(viewer.StateStop)

	req := httptest.NewRequest(http.MethodPut, "/viewer/state", strings.NewReader(`{"state":"RUN"}`))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if v.State() != viewer.StateStop {
		t.Error("viewer state changed despite missing bearer token")
	}
}

func TestSetViewerStateWithValidTokenStarts(t *testing.T) {
	s, v, _ := newTestServer(t, rate.Inf, 100)
	v.SetState(viewer.StateStop)

	req := authedRequest(t, http.MethodPut, "/viewer/state", `{"state":"RUN"}`)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204, body=%s", rr.Code, rr.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v.State() == viewer.StateRun {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("viewer never transitioned to RUN")
}

func TestSetTraceStateRequiresBearerToken(t *testing.T) {
	s, _, tp := newTestServer(t, rate.Inf, 100)
	tp.SetState(tracehandler.StateStop)

	req := httptest.NewRequest(http.MethodPut, "/trace/state", strings.NewReader(`{"state":"RUN"}`))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if tp.State() != tracehandler.StateStop {
		t.Error("trace state changed despite missing bearer token")
	}
}

func TestSetViewerSettingsRejectsMissingMaxPoints(t *testing.T) {
	s, _, _ := newTestServer(t, rate.Inf, 100)

	req := authedRequest(t, http.MethodPut, "/viewer/settings", `{"sampleFrequencyHz":100}`)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestSetViewerSettingsAppliesValidBody(t *testing.T) {
	s, v, _ := newTestServer(t, rate.Inf, 100)

	req := authedRequest(t, http.MethodPut, "/viewer/settings", `{"maxPoints":500,"sampleFrequencyHz":50,"shouldLog":true,"logFilePath":"/tmp/x.csv"}`)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204, body=%s", rr.Code, rr.Body.String())
	}

	got := v.GetSettings()
	if got.MaxPoints != 500 || got.SampleFrequencyHz != 50 || !got.ShouldLog || got.LogFilePath != "/tmp/x.csv" {
		t.Errorf("settings not applied: %+v", got)
	}
}

func TestRateLimiterRejectsAfterBurstExhausted(t *testing.T) {
	s, _, _ := newTestServer(t, 0, 1)

	first := authedRequest(t, http.MethodPut, "/viewer/state", `{"state":"STOP"}`)
	rr1 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr1, first)
	if rr1.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d, want 204", rr1.Code)
	}

	second := authedRequest(t, http.MethodPut, "/viewer/state", `{"state":"STOP"}`)
	second.RemoteAddr = first.RemoteAddr
	rr2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr2, second)
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rr2.Code)
	}
}

func TestGetPlotsIsUnauthenticated(t *testing.T) {
	s, _, _ := newTestServer(t, rate.Inf, 100)

	req := httptest.NewRequest(http.MethodGet, "/plots", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}
