// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tracehandler drives live instruction-trace acquisition: a single
// worker goroutine reads decoded frames from a TraceProbe, fans each
// channel's value out to its own plot, evaluates the configured trigger
// condition, and orders STOP once the trace has collected enough
// post-trigger data or its error-frame rate becomes unacceptable.
package tracehandler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mculab/acqd/internal/trigger"
	"github.com/mculab/acqd/pkg/csvstream"
	"github.com/mculab/acqd/pkg/log"
	"github.com/mculab/acqd/pkg/plotmodel"
	"github.com/mculab/acqd/pkg/probe"
)

const channels = 32

// defaultMaxAllowedViewportErrors is the error/delayed3-in-viewport cap
// above which the handler orders STOP (spec.md §4.6; default per spec.md
// §8 "e.g. 1000").
const defaultMaxAllowedViewportErrors = 1000

var channelColors = [...]uint32{
	4294967040, 4294960666, 4294954035, 4294947661, 4294941030,
	4294934656, 4294928025, 4294921651, 4294915020, 4294908646,
	4294902015,
}

// State is the trace handler's run state, changed only through SetState.
type State int32

const (
	StateStop State = iota
	StateRun
)

// Settings configures trace retention, CSV logging, the viewport error
// limit, and the optional S3 archive and Avro frame-log sinks.
type Settings struct {
	MaxPoints             int
	ShouldLog             bool
	LogFilePath           string
	MaxAllowedViewportErr int
	// ArchiveBucket, if set, uploads the finished CSV log to this S3
	// bucket once acquisition stops. ArchivePrefix is the key prefix.
	ArchiveBucket string
	ArchivePrefix string
	// AvroLogPath, if set, appends every decoded channel value this run
	// to a compressed Avro object-container file, independent of the CSV.
	AvroLogPath string
}

// Handler owns one trace-acquisition worker goroutine and the 32 per-channel
// plots it feeds.
type Handler struct {
	plotHandler *plotmodel.PlotHandler
	probe       probe.TraceProbe
	csv         *csvstream.Streamer
	avro        *csvstream.AvroFrameLogger

	channelPlots [channels]*plotmodel.Plot
	channelVars  [channels]*plotmodel.Variable

	mu sync.Mutex

	settingsMu    sync.RWMutex
	settings      Settings
	probeSettings probe.TraceProbeSettings

	triggerMu sync.Mutex
	trigger   *trigger.Evaluator

	triggered atomic.Bool

	state              atomic.Int32
	stateChangeOrdered atomic.Bool
	done               atomic.Bool

	errorFrames    viewportDeque
	delayed3Frames viewportDeque

	lastErrorMu  sync.Mutex
	lastErrorMsg string

	wg sync.WaitGroup
}

// New builds a trace handler over plotHandler, creating CH0..CH31 as
// digital plots by default. The worker goroutine is not started until
// Start is called.
func New(plotHandler *plotmodel.PlotHandler, p probe.TraceProbe, csv *csvstream.Streamer) *Handler {
	h := &Handler{
		plotHandler: plotHandler,
		probe:       p,
		csv:         csv,
	}
	h.initPlots()
	return h
}

func (h *Handler) initPlots() {
	for i := 0; i < channels; i++ {
		name := fmt.Sprintf("CH%d", i)
		v := plotmodel.NewVariable(name, plotmodel.TypeUnknown)
		v.Color = channelColors[i%len(channelColors)]

		plot := h.plotHandler.AddPlot(name)
		plot.Alias = name
		plot.Domain = plotmodel.DomainDigital
		plot.AddSeries(v)

		h.channelPlots[i] = plot
		h.channelVars[i] = v
	}
}

// SetChannelDomain changes channel i's plot domain (analog/digital),
// affecting how its raw values are converted to plotted points.
func (h *Handler) SetChannelDomain(i int, d plotmodel.Domain) error {
	if i < 0 || i >= channels {
		return fmt.Errorf("tracehandler: channel %d out of range", i)
	}
	h.channelPlots[i].Domain = d
	return nil
}

// SetChannelType changes channel i's analog decode type.
func (h *Handler) SetChannelType(i int, t plotmodel.Type) error {
	if i < 0 || i >= channels {
		return fmt.Errorf("tracehandler: channel %d out of range", i)
	}
	h.channelPlots[i].TraceVarType = t
	return nil
}

// SetTrigger installs the compiled trigger expression, evaluated once per
// tick against the visible channels' freshly computed values until it
// fires.
func (h *Handler) SetTrigger(ev *trigger.Evaluator) {
	h.triggerMu.Lock()
	defer h.triggerMu.Unlock()
	h.trigger = ev
}

// Start launches the worker goroutine.
func (h *Handler) Start() {
	h.wg.Add(1)
	go h.run()
}

// Close signals the worker goroutine to exit and waits for it.
func (h *Handler) Close() {
	h.done.Store(true)
	h.wg.Wait()
}

// SetState requests a transition to RUN or STOP, applied by the worker
// goroutine at the top of its next loop iteration.
func (h *Handler) SetState(s State) {
	h.state.Store(int32(s))
	h.stateChangeOrdered.Store(true)
}

// State returns the last requested run state.
func (h *Handler) State() State {
	return State(h.state.Load())
}

// SetSettings updates retention/logging settings, propagating the
// retention window to the trace plot handler immediately.
func (h *Handler) SetSettings(s Settings) {
	if s.MaxAllowedViewportErr == 0 {
		s.MaxAllowedViewportErr = defaultMaxAllowedViewportErrors
	}
	h.settingsMu.Lock()
	h.settings = s
	h.settingsMu.Unlock()
	h.plotHandler.SetMaxPoints(s.MaxPoints)
}

// GetSettings returns the current settings.
func (h *Handler) GetSettings() Settings {
	h.settingsMu.RLock()
	defer h.settingsMu.RUnlock()
	return h.settings
}

// SetProbeSettings updates the trace-probe connection parameters used on
// the next RUN transition.
func (h *Handler) SetProbeSettings(s probe.TraceProbeSettings) {
	h.settingsMu.Lock()
	defer h.settingsMu.Unlock()
	h.probeSettings = s
}

// GetProbeSettings returns the current trace-probe connection parameters.
func (h *Handler) GetProbeSettings() probe.TraceProbeSettings {
	h.settingsMu.RLock()
	defer h.settingsMu.RUnlock()
	return h.probeSettings
}

// GetLastReaderError returns the handler's own last fatal-condition
// message. It does not include any error message from the trace probe.
func (h *Handler) GetLastReaderError() string {
	h.lastErrorMu.Lock()
	defer h.lastErrorMu.Unlock()
	return h.lastErrorMsg
}

func (h *Handler) setLastError(msg string) {
	h.lastErrorMu.Lock()
	h.lastErrorMsg = msg
	h.lastErrorMu.Unlock()
}

// Indicators is the handler's view of the decoder's health counters, with
// the in-viewport subsets pruned against the plot's oldest-retained X
// (spec.md §3, §4.6).
type Indicators struct {
	ErrorFramesTotal      uint64
	DelayedTimestamp3     uint64
	OverflowCount         uint64
	ErrorFramesInView     int
	DelayedTimestamp3View int
}

// GetTraceIndicators merges the probe's running counters with the
// handler's view-pruned deque sizes.
func (h *Handler) GetTraceIndicators() Indicators {
	raw := h.probe.GetTraceIndicators()
	return Indicators{
		ErrorFramesTotal:      raw.ErrorFramesTotal,
		DelayedTimestamp3:     raw.DelayedTimestamp3,
		OverflowCount:         raw.OverflowCount,
		ErrorFramesInView:     h.errorFrames.size(),
		DelayedTimestamp3View: h.delayed3Frames.size(),
	}
}

func (h *Handler) oldestPlotTimestamp() float64 {
	if h.channelPlots[0] == nil {
		return 0
	}
	return h.channelPlots[0].GetOldestValue()
}

func getDoubleValue(plot *plotmodel.Plot, value uint32) float64 {
	if plot.Domain == plotmodel.DomainDigital {
		return plotmodel.DigitalValue(value)
	}
	return plotmodel.RawToDouble(plot.TraceVarType, value)
}

// run is the worker goroutine's main loop.
func (h *Handler) run() {
	defer h.wg.Done()

	var cnt uint64
	var elapsed float64

	for !h.done.Load() {
		if h.State() == StateRun {
			deltaTs, values, ok := h.probe.ReadTrace()
			if !ok {
				continue
			}
			elapsed += deltaTs

			oldest := h.oldestPlotTimestamp()
			raw := h.probe.GetTraceIndicators()
			h.errorFrames.handle(elapsed, oldest, raw.ErrorFramesTotal)
			h.delayed3Frames.handle(elapsed, oldest, raw.DelayedTimestamp3)

			points := make(map[int]float64, channels)
			analog := make(map[int]bool, channels)
			csvEntry := make(map[string]float64, channels)
			for i, plot := range h.channelPlots {
				if !plot.GetVisibility() || i >= len(values) {
					continue
				}
				points[i] = getDoubleValue(plot, values[i])
				analog[i] = plot.Domain == plotmodel.DomainAnalog
				csvEntry[h.channelVars[i].Name] = points[i]
			}

			if !h.triggered.Load() {
				h.triggerMu.Lock()
				ev := h.trigger
				h.triggerMu.Unlock()
				if ev != nil {
					fired, err := ev.Evaluate(trigger.Env{Values: points, Analog: analog, ElapsedSamples: int(cnt), MaxPoints: h.GetSettings().MaxPoints})
					if err != nil {
						log.Warnf("tracehandler: trigger evaluation: %v", err)
					} else if fired {
						log.Infof("tracehandler: trigger")
						h.triggered.Store(true)
						elapsed = 0
						cnt = 0
					}
				}
			}

			for i, plot := range h.channelPlots {
				if !plot.GetVisibility() || i >= len(values) {
					continue
				}
				h.mu.Lock()
				plot.AddPoint(h.channelVars[i].Name, points[i])
				plot.AddTimePoint(elapsed)
				h.mu.Unlock()
			}

			settings := h.GetSettings()
			if settings.ShouldLog {
				if err := h.csv.WriteLine(elapsed, csvEntry); err != nil {
					log.Errorf("tracehandler: writing csv row: %v", err)
				}
			}
			if h.avro != nil {
				for i := range points {
					if err := h.avro.WriteFrame(elapsed, i, values[i]); err != nil {
						log.Errorf("tracehandler: writing avro frame: %v", err)
						break
					}
				}
			}

			if h.triggered.Load() {
				cnt++
				if float64(cnt) >= 0.9*float64(settings.MaxPoints) {
					log.Infof("tracehandler: after-trigger trace collected, stopping")
					h.orderStop()
				}
			}

			if h.errorFrames.size() > settings.MaxAllowedViewportErr {
				h.setLastError("too many error frames")
				log.Errorf("tracehandler: too many error frames, stopping")
				h.orderStop()
			}
			if h.delayed3Frames.size() > settings.MaxAllowedViewportErr {
				h.setLastError("too many delayed timestamp 3 frames")
				log.Errorf("tracehandler: too many delayed timestamp 3 frames, stopping")
				h.orderStop()
			}
		} else {
			time.Sleep(20 * time.Millisecond)
		}

		if h.stateChangeOrdered.CompareAndSwap(true, false) {
			if h.State() == StateRun {
				mask := uint32(0)
				for i, plot := range h.channelPlots {
					if plot.GetVisibility() {
						mask |= 1 << uint(i)
					}
				}

				h.errorFrames.reset()
				h.delayed3Frames.reset()
				h.setLastError("")
				h.prepareCSVFile()
				h.openAvroLog()

				if err := h.probe.StartAcqusition(h.GetProbeSettings(), mask); err == nil {
					elapsed = 0
				} else {
					log.Errorf("tracehandler: probe start failed, reverting to STOP: %v", err)
					h.state.Store(int32(StateStop))
				}
			} else {
				if err := h.probe.StopAcqusition(); err != nil {
					log.Warnf("tracehandler: probe stop: %v", err)
				}
				settings := h.GetSettings()
				if settings.ShouldLog {
					path := h.csv.Path()
					if err := h.csv.FinishLogging(); err != nil {
						log.Errorf("tracehandler: finishing csv log: %v", err)
					} else if settings.ArchiveBucket != "" {
						h.archiveCSV(path, settings.ArchiveBucket, settings.ArchivePrefix)
					}
				}
				h.closeAvroLog()
				h.triggered.Store(false)
			}
		}
	}
}

func (h *Handler) orderStop() {
	h.state.Store(int32(StateStop))
	h.stateChangeOrdered.Store(true)
}

// prepareCSVFile opens the configured log file and writes one "CHi" header
// column per currently-visible channel plot, in channel order.
func (h *Handler) prepareCSVFile() {
	settings := h.GetSettings()
	if !settings.ShouldLog {
		return
	}

	var headerNames []string
	for i, plot := range h.channelPlots {
		if plot.GetVisibility() {
			headerNames = append(headerNames, fmt.Sprintf("CH%d", i))
		}
	}

	if err := h.csv.PrepareFile(settings.LogFilePath); err != nil {
		log.Errorf("tracehandler: preparing csv file: %v", err)
		return
	}
	if err := h.csv.CreateHeader(headerNames); err != nil {
		log.Errorf("tracehandler: writing csv header: %v", err)
	}
}

// openAvroLog opens the per-run Avro frame log if configured. No-op if
// AvroLogPath is empty.
func (h *Handler) openAvroLog() {
	path := h.GetSettings().AvroLogPath
	if path == "" {
		return
	}
	logger, err := csvstream.NewAvroFrameLogger(path)
	if err != nil {
		log.Errorf("tracehandler: opening avro frame log: %v", err)
		return
	}
	h.avro = logger
}

func (h *Handler) closeAvroLog() {
	if h.avro == nil {
		return
	}
	if err := h.avro.Close(); err != nil {
		log.Errorf("tracehandler: closing avro frame log: %v", err)
	}
	h.avro = nil
}

// archiveCSV uploads path to bucket/prefix in the background so the worker
// loop can continue to the next RUN without waiting on the network.
func (h *Handler) archiveCSV(path, bucket, prefix string) {
	if path == "" {
		return
	}
	go func() {
		ctx := context.Background()
		archiver, err := csvstream.NewS3Archiver(ctx, bucket, prefix)
		if err != nil {
			log.Errorf("tracehandler: building s3 archiver: %v", err)
			return
		}
		if err := archiver.Archive(ctx, path); err != nil {
			log.Errorf("tracehandler: archiving %s: %v", path, err)
		}
	}()
}
