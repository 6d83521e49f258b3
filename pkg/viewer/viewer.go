// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package viewer drives sample-based variable acquisition: a single worker
// goroutine that, depending on the configured probe mode, either pulls a
// complete target-paced sample (host-synchronous streaming) or polls each
// watched address at a fixed frequency, then fans the result out to every
// visible plot and an optional CSV log.
package viewer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mculab/acqd/pkg/csvstream"
	"github.com/mculab/acqd/pkg/log"
	"github.com/mculab/acqd/pkg/plotgroup"
	"github.com/mculab/acqd/pkg/plotmodel"
	"github.com/mculab/acqd/pkg/probe"
)

// State is the viewer's run state, changed only through SetState.
type State int32

const (
	StateStop State = iota
	StateRun
)

// Settings configures the acquisition rate, plot retention, and CSV
// logging independently of the probe's own settings.
type Settings struct {
	SampleFrequencyHz float64
	MaxPoints         int
	ShouldLog         bool
	LogFilePath       string
	// ArchiveBucket, if set, uploads the finished CSV log to this S3
	// bucket once logging stops. ArchivePrefix is the key prefix under
	// the bucket; it may be empty.
	ArchiveBucket string
	ArchivePrefix string
}

// Handler owns one variable-sampling worker goroutine. The zero value is
// not usable; construct with New.
type Handler struct {
	groupHandler    *plotgroup.Handler
	variableHandler *plotmodel.VariableHandler
	plotHandler     *plotmodel.PlotHandler
	probe           probe.Probe
	csv             *csvstream.Streamer

	// mu serializes plot mutation (UpdateSeries/AddTimePoint) against any
	// concurrent reader taking a Snapshot, and writeback against sampling.
	mu sync.Mutex

	settingsMu    sync.RWMutex
	settings      Settings
	probeSettings probe.Settings

	state              atomic.Int32
	stateChangeOrdered atomic.Bool
	done               atomic.Bool

	sampleListMu sync.Mutex
	sampleList   []probe.SampleAddress

	samplingPeriodFilter *emaFilter

	wg sync.WaitGroup
}

// New builds a viewer handler over the given collections and probe. The
// worker goroutine is not started until Start is called.
func New(groupHandler *plotgroup.Handler, variableHandler *plotmodel.VariableHandler, plotHandler *plotmodel.PlotHandler, p probe.Probe, csv *csvstream.Streamer) *Handler {
	return &Handler{
		groupHandler:         groupHandler,
		variableHandler:      variableHandler,
		plotHandler:          plotHandler,
		probe:                p,
		csv:                  csv,
		samplingPeriodFilter: newEMAFilter(0.2),
	}
}

// Start launches the worker goroutine. Safe to call once per Handler.
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

// SetSettings updates the acquisition/logging settings, propagating the
// retention window to every plot immediately.
func (h *Handler) SetSettings(s Settings) {
	h.settingsMu.Lock()
	h.settings = s
	h.settingsMu.Unlock()
	h.plotHandler.SetMaxPoints(s.MaxPoints)
}

// GetSettings returns the current acquisition/logging settings.
func (h *Handler) GetSettings() Settings {
	h.settingsMu.RLock()
	defer h.settingsMu.RUnlock()
	return h.settings
}

// SetProbeSettings updates the probe connection parameters used on the
// next RUN transition.
func (h *Handler) SetProbeSettings(s probe.Settings) {
	h.settingsMu.Lock()
	defer h.settingsMu.Unlock()
	h.probeSettings = s
}

// GetProbeSettings returns the current probe connection parameters.
func (h *Handler) GetProbeSettings() probe.Settings {
	h.settingsMu.RLock()
	defer h.settingsMu.RUnlock()
	return h.probeSettings
}

// GetLastReaderError surfaces the probe's last error message for display.
func (h *Handler) GetLastReaderError() string {
	return h.probe.GetLastErrorMsg()
}

// AverageSamplingPeriod returns the EMA-filtered inter-sample period, in
// seconds, for the health/metrics surface.
func (h *Handler) AverageSamplingPeriod() float64 {
	return h.samplingPeriodFilter.Value()
}

// WriteSeriesValue writes value to v's target address through the probe,
// packing it per v's type.
func (h *Handler) WriteSeriesValue(v *plotmodel.Variable, value float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	raw := v.RawFromDouble(value)
	if err := h.probe.SetValue(v.Address, v.Size, raw); err != nil {
		return fmt.Errorf("viewer: writing %q: %w", v.Name, err)
	}
	return nil
}

// updateVariables stores the sampled raw values, appends one tick to every
// visible plot, and writes one CSV row if logging is enabled. Mirrors the
// two-pass structure of the original handler: every variable's raw value
// is updated before any CSV entry or plot read is computed from it, so a
// variable with a fractional base sees the base's freshly-written value.
func (h *Handler) updateVariables(timestamp float64, values map[uint32]uint32) {
	h.variableHandler.Each(func(v *plotmodel.Variable) {
		if raw, ok := values[v.Address]; ok {
			v.SetRawValue(raw)
		}
	})

	csvEntry := make(map[string]float64)
	h.variableHandler.Each(func(v *plotmodel.Variable) {
		if _, ok := values[v.Address]; ok {
			csvEntry[v.Name] = v.TransformToDouble()
		}
	})

	h.plotHandler.Each(func(_ string, p *plotmodel.Plot) {
		if !p.GetVisibility() {
			return
		}
		h.mu.Lock()
		p.UpdateSeries(h.variableHandler)
		p.AddTimePoint(timestamp)
		h.mu.Unlock()
	})

	if h.GetSettings().ShouldLog {
		if err := h.csv.WriteLine(timestamp, csvEntry); err != nil {
			log.Errorf("viewer: writing csv row: %v", err)
		}
	}
}

// run is the worker goroutine's main loop: poll while stopped, sample
// while running, and apply any pending state transition each iteration.
func (h *Handler) run() {
	defer h.wg.Done()

	var start time.Time
	var timer uint64
	var lastT float64

	for !h.done.Load() {
		if h.State() == StateRun {
			period := time.Since(start).Seconds()
			settings := h.GetSettings()
			probeSettings := h.GetProbeSettings()

			switch {
			case probeSettings.Mode == probe.ModeHSS:
				sample, ok := h.probe.ReadSingleEntry()
				if !ok {
					break
				}
				h.updateVariables(sample.Timestamp, sample.Values)
				h.samplingPeriodFilter.Filter(period - lastT)
				lastT = period
				timer++

			case settings.SampleFrequencyHz > 0 && period > (1.0/settings.SampleFrequencyHz)*float64(timer):
				rawValues := make(map[uint32]uint32)
				for _, sa := range h.getSampleList() {
					if v, ok := h.probe.GetValue(sa.Address, sa.Size); ok {
						rawValues[sa.Address] = v
					}
				}
				h.updateVariables(period, rawValues)
				h.samplingPeriodFilter.Filter(period - lastT)
				lastT = period
				timer++
			}
		} else {
			time.Sleep(20 * time.Millisecond)
		}

		if h.stateChangeOrdered.CompareAndSwap(true, false) {
			if h.State() == StateRun {
				h.createSampleList()
				h.prepareCSVFile()

				settings := h.GetSettings()
				if err := h.probe.Start(h.GetProbeSettings(), h.getSampleList(), uint32(settings.SampleFrequencyHz)); err == nil {
					timer = 0
					lastT = 0
					start = time.Now()
				} else {
					log.Errorf("viewer: probe start failed, reverting to STOP: %v", err)
					h.state.Store(int32(StateStop))
				}
			} else {
				if err := h.probe.Stop(); err != nil {
					log.Warnf("viewer: probe stop: %v", err)
				}
				settings := h.GetSettings()
				if settings.ShouldLog {
					path := h.csv.Path()
					if err := h.csv.FinishLogging(); err != nil {
						log.Errorf("viewer: finishing csv log: %v", err)
					} else if settings.ArchiveBucket != "" {
						h.archiveCSV(path, settings.ArchiveBucket, settings.ArchivePrefix)
					}
				}
			}
		}
	}
}

func (h *Handler) getSampleList() []probe.SampleAddress {
	h.sampleListMu.Lock()
	defer h.sampleListMu.Unlock()
	out := make([]probe.SampleAddress, len(h.sampleList))
	copy(out, h.sampleList)
	return out
}

// createSampleList rebuilds the address list the probe is asked to sample:
// every visible series of every visible plot in the active group, plus the
// base address of every fractional-base variable (whether or not it backs
// a plotted series), deduplicated by (address, size).
func (h *Handler) createSampleList() {
	seen := make(map[probe.SampleAddress]bool)
	var list []probe.SampleAddress
	add := func(addr uint32, size uint8) {
		sa := probe.SampleAddress{Address: addr, Size: size}
		if !seen[sa] {
			seen[sa] = true
			list = append(list, sa)
		}
	}

	group := h.groupHandler.GetActiveGroup()
	group.Each(func(_ string, e *plotgroup.Entry) {
		if !e.Visible || !e.Plot.GetVisibility() {
			return
		}
		e.Plot.EachSeries(func(_ string, s *plotmodel.Series) {
			if !s.Visible {
				return
			}
			add(s.Variable.Address, s.Variable.Size)
		})
	})

	h.variableHandler.Each(func(v *plotmodel.Variable) {
		if v.Fractional == nil {
			return
		}
		base, ok := h.variableHandler.Get(v.Fractional.BaseName)
		if !ok {
			return
		}
		add(base.Address, base.Size)
	})

	h.sampleListMu.Lock()
	h.sampleList = list
	h.sampleListMu.Unlock()
}

// prepareCSVFile opens the configured log file and writes its header from
// the active group's currently visible plots' series names, in iteration
// order. No-op if logging is disabled.
func (h *Handler) prepareCSVFile() {
	settings := h.GetSettings()
	if !settings.ShouldLog {
		return
	}

	var headerNames []string
	group := h.groupHandler.GetActiveGroup()
	group.Each(func(_ string, e *plotgroup.Entry) {
		if !e.Visible || !e.Plot.GetVisibility() {
			return
		}
		headerNames = append(headerNames, e.Plot.SeriesNames()...)
	})

	if err := h.csv.PrepareFile(settings.LogFilePath); err != nil {
		log.Errorf("viewer: preparing csv file: %v", err)
		return
	}
	if err := h.csv.CreateHeader(headerNames); err != nil {
		log.Errorf("viewer: writing csv header: %v", err)
	}
}

// archiveCSV uploads path to bucket/prefix in the background so the worker
// loop can proceed to the next RUN without waiting on the network.
func (h *Handler) archiveCSV(path, bucket, prefix string) {
	if path == "" {
		return
	}
	go func() {
		ctx := context.Background()
		archiver, err := csvstream.NewS3Archiver(ctx, bucket, prefix)
		if err != nil {
			log.Errorf("viewer: building s3 archiver: %v", err)
			return
		}
		if err := archiver.Archive(ctx, path); err != nil {
			log.Errorf("viewer: archiving %s: %v", path, err)
		}
	}()
}
