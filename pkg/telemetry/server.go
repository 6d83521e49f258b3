// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/time/rate"

	"github.com/mculab/acqd/pkg/log"
	"github.com/mculab/acqd/pkg/plotgroup"
	"github.com/mculab/acqd/pkg/plotmodel"
	"github.com/mculab/acqd/pkg/tracehandler"
	"github.com/mculab/acqd/pkg/viewer"
)

// viewerSettingsSchema and traceSettingsSchema validate PUT bodies before
// they reach setSettings, rejecting malformed control-API requests at the
// transport boundary (SPEC_FULL.md §7).
const viewerSettingsSchema = `{
	"type": "object",
	"properties": {
		"sampleFrequencyHz": {"type": "number", "exclusiveMinimum": 0},
		"maxPoints": {"type": "integer", "minimum": 1},
		"shouldLog": {"type": "boolean"},
		"logFilePath": {"type": "string"},
		"archiveBucket": {"type": "string"},
		"archivePrefix": {"type": "string"}
	},
	"required": ["maxPoints"]
}`

const traceSettingsSchema = `{
	"type": "object",
	"properties": {
		"maxPoints": {"type": "integer", "minimum": 1},
		"shouldLog": {"type": "boolean"},
		"logFilePath": {"type": "string"},
		"maxAllowedViewportErr": {"type": "integer", "minimum": 1},
		"archiveBucket": {"type": "string"},
		"archivePrefix": {"type": "string"},
		"avroLogPath": {"type": "string"}
	},
	"required": ["maxPoints"]
}`

func mustCompile(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("telemetry: invalid embedded schema %s: %v", name, err))
	}
	s, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("telemetry: compiling embedded schema %s: %v", name, err))
	}
	return s
}

var (
	viewerSchema = mustCompile("viewer-settings.json", viewerSettingsSchema)
	traceSchema  = mustCompile("trace-settings.json", traceSettingsSchema)
)

// Server is the control-plane HTTP API (SPEC_FULL.md §4.10): read-only
// plot/group snapshots, START/STOP and settings mutation for both
// handlers, and a Prometheus scrape endpoint.
type Server struct {
	router *mux.Router

	viewer       *viewer.Handler
	trace        *tracehandler.Handler
	plotHandler  *plotmodel.PlotHandler
	groupHandler *plotgroup.Handler

	auth *BearerAuth

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rateLimit rate.Limit
	rateBurst int

	probesMu sync.RWMutex
	probes   []string
}

// NewServer builds the router. rateLimit/rateBurst bound how often a
// single remote address may hit a mutating route (SPEC_FULL.md §4.10 "are
// rate-limited per remote address").
func NewServer(v *viewer.Handler, t *tracehandler.Handler, plotHandler *plotmodel.PlotHandler, groupHandler *plotgroup.Handler, auth *BearerAuth, rateLimit rate.Limit, rateBurst int) *Server {
	s := &Server{
		viewer:       v,
		trace:        t,
		plotHandler:  plotHandler,
		groupHandler: groupHandler,
		auth:         auth,
		limiters:     make(map[string]*rate.Limiter),
		rateLimit:    rateLimit,
		rateBurst:    rateBurst,
	}
	s.buildRouter()
	return s
}

func (s *Server) buildRouter() {
	r := mux.NewRouter()
	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))

	r.HandleFunc("/plots", s.handleGetPlots).Methods(http.MethodGet)
	r.HandleFunc("/groups", s.handleGetGroups).Methods(http.MethodGet)
	r.HandleFunc("/probes", s.handleGetProbes).Methods(http.MethodGet)
	r.Handle("/metrics", Handler()).Methods(http.MethodGet)

	mutating := []struct {
		path string
		fn   http.HandlerFunc
	}{
		{"/viewer/state", s.handleSetViewerState},
		{"/trace/state", s.handleSetTraceState},
		{"/viewer/settings", s.handleSetViewerSettings},
		{"/trace/settings", s.handleSetTraceSettings},
	}
	for _, m := range mutating {
		r.Handle(m.path, s.auth.Middleware(s.rateLimited(m.fn))).Methods(http.MethodPut)
	}

	s.router = r
}

// Handler returns the composed router wrapped with access logging, ready
// to hand to http.Server.
func (s *Server) Handler() http.Handler {
	return handlers.CustomLoggingHandler(io.Discard, s.router, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Infof("telemetry: %s %s %d", params.Request.Method, params.URL.Path, params.StatusCode)
	})
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(remoteIP(r)) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (s *Server) allow(addr string) bool {
	s.limiterMu.Lock()
	l, ok := s.limiters[addr]
	if !ok {
		l = rate.NewLimiter(s.rateLimit, s.rateBurst)
		s.limiters[addr] = l
	}
	s.limiterMu.Unlock()
	return l.Allow()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("telemetry: encoding response: %v", err)
	}
}

type plotSummary struct {
	Name    string   `json:"name"`
	Domain  string   `json:"domain"`
	Visible bool     `json:"visible"`
	Series  []string `json:"series"`
}

func (s *Server) handleGetPlots(w http.ResponseWriter, r *http.Request) {
	var out []plotSummary
	s.plotHandler.Each(func(name string, p *plotmodel.Plot) {
		domain := "analog"
		if p.Domain == plotmodel.DomainDigital {
			domain = "digital"
		}
		out = append(out, plotSummary{
			Name:    name,
			Domain:  domain,
			Visible: p.GetVisibility(),
			Series:  p.SeriesNames(),
		})
	})
	writeJSON(w, out)
}

type groupSummary struct {
	Name  string   `json:"name"`
	Plots []string `json:"plots"`
}

func (s *Server) handleGetGroups(w http.ResponseWriter, r *http.Request) {
	var out []groupSummary
	s.groupHandler.Each(func(name string, g *plotgroup.Group) {
		var plots []string
		g.Each(func(plotName string, _ *plotgroup.Entry) {
			plots = append(plots, plotName)
		})
		out = append(out, groupSummary{Name: name, Plots: plots})
	})
	writeJSON(w, out)
}

// SetConnectedDevices updates the cache GET /probes serves. It is called
// periodically by cmd/acqd's gocron housekeeping job rather than per
// request, so a START call is never blocked on USB enumeration
// (SPEC_FULL.md §9).
func (s *Server) SetConnectedDevices(devices []string) {
	s.probesMu.Lock()
	s.probes = devices
	s.probesMu.Unlock()
}

func (s *Server) handleGetProbes(w http.ResponseWriter, r *http.Request) {
	s.probesMu.RLock()
	devices := append([]string(nil), s.probes...)
	s.probesMu.RUnlock()
	writeJSON(w, devices)
}

type stateRequest struct {
	State string `json:"state"`
}

func decodeRunState(r *http.Request) (run bool, err error) {
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return false, fmt.Errorf("decoding request body: %w", err)
	}
	switch strings.ToUpper(req.State) {
	case "RUN":
		return true, nil
	case "STOP":
		return false, nil
	default:
		return false, fmt.Errorf("state must be RUN or STOP, got %q", req.State)
	}
}

func (s *Server) handleSetViewerState(w http.ResponseWriter, r *http.Request) {
	run, err := decodeRunState(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if run {
		s.viewer.SetState(viewer.StateRun)
	} else {
		s.viewer.SetState(viewer.StateStop)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetTraceState(w http.ResponseWriter, r *http.Request) {
	run, err := decodeRunState(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if run {
		s.trace.SetState(tracehandler.StateRun)
	} else {
		s.trace.SetState(tracehandler.StateStop)
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateBody(r *http.Request, schema *jsonschema.Schema) (map[string]interface{}, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	var v map[string]interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("validating settings: %w", err)
	}
	return v, nil
}

func numberField(m map[string]interface{}, key string) float64 {
	v, _ := m[key].(float64)
	return v
}

func boolField(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func stringField(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

func (s *Server) handleSetViewerSettings(w http.ResponseWriter, r *http.Request) {
	m, err := validateBody(r, viewerSchema)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.viewer.SetSettings(viewer.Settings{
		SampleFrequencyHz: numberField(m, "sampleFrequencyHz"),
		MaxPoints:         int(numberField(m, "maxPoints")),
		ShouldLog:         boolField(m, "shouldLog"),
		LogFilePath:       stringField(m, "logFilePath"),
		ArchiveBucket:     stringField(m, "archiveBucket"),
		ArchivePrefix:     stringField(m, "archivePrefix"),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetTraceSettings(w http.ResponseWriter, r *http.Request) {
	m, err := validateBody(r, traceSchema)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.trace.SetSettings(tracehandler.Settings{
		MaxPoints:             int(numberField(m, "maxPoints")),
		ShouldLog:             boolField(m, "shouldLog"),
		LogFilePath:           stringField(m, "logFilePath"),
		MaxAllowedViewportErr: int(numberField(m, "maxAllowedViewportErr")),
		ArchiveBucket:         stringField(m, "archiveBucket"),
		ArchivePrefix:         stringField(m, "archivePrefix"),
		AvroLogPath:           stringField(m, "avroLogPath"),
	})
	w.WriteHeader(http.StatusNoContent)
}
