// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package viewer

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mculab/acqd/pkg/csvstream"
	"github.com/mculab/acqd/pkg/plotgroup"
	"github.com/mculab/acqd/pkg/plotmodel"
	"github.com/mculab/acqd/pkg/probe"
)

// fakeProbe is a minimal in-memory probe.Probe used to drive the worker
// loop deterministically in tests.
type fakeProbe struct {
	mu          sync.Mutex
	started     bool
	startErr    error
	values      map[uint32]uint32
	lastErr     string
	hssSamples  []probe.Sample
	hssIdx      int
	stopCalls   int
	startCalls  int
}

func (p *fakeProbe) Start(settings probe.Settings, sampleList []probe.SampleAddress, frequencyHz uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startCalls++
	if p.startErr != nil {
		return p.startErr
	}
	p.started = true
	return nil
}

func (p *fakeProbe) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopCalls++
	p.started = false
	return nil
}

func (p *fakeProbe) IsValid() bool { return true }

func (p *fakeProbe) GetValue(address uint32, size uint8) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[address]
	return v, ok
}

func (p *fakeProbe) SetValue(address uint32, size uint8, value uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.values == nil {
		p.values = make(map[uint32]uint32)
	}
	p.values[address] = value
	return nil
}

func (p *fakeProbe) ReadMemory(address uint32, buf []byte) error  { return nil }
func (p *fakeProbe) WriteMemory(address uint32, buf []byte) error { return nil }

func (p *fakeProbe) ReadSingleEntry() (probe.Sample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hssIdx >= len(p.hssSamples) {
		return probe.Sample{}, false
	}
	s := p.hssSamples[p.hssIdx]
	p.hssIdx++
	return s, true
}

func (p *fakeProbe) GetLastErrorMsg() string { return p.lastErr }

func (p *fakeProbe) GetConnectedDevices() ([]string, error) { return nil, nil }

func newTestHandler(t *testing.T) (*Handler, *plotmodel.VariableHandler, *plotmodel.PlotHandler, *plotgroup.Handler, *fakeProbe) {
	t.Helper()
	vh := plotmodel.NewVariableHandler()
	ph := plotmodel.NewPlotHandler(100)
	gh := plotgroup.NewHandler()
	fp := &fakeProbe{}
	h := New(gh, vh, ph, fp, csvstream.NewStreamer())
	return h, vh, ph, gh, fp
}

// TestCreateSampleListDedupesAndIncludesFractionalBase covers the S5-style
// scenario where a plotted series and a fractional variable's base both
// resolve to the same underlying address.
func TestCreateSampleListDedupesAndIncludesFractionalBase(t *testing.T) {
	h, vh, ph, gh, _ := newTestHandler(t)

	base := plotmodel.NewVariable("base", plotmodel.TypeU32)
	base.Address = 0x1000
	vh.Add(base)

	frac := plotmodel.NewVariable("frac", plotmodel.TypeU32)
	frac.Address = 0x2000
	frac.Fractional = &plotmodel.FractionalBase{BaseName: "base", Mask: 0xFF, Shift: 0}
	vh.Add(frac)

	plot := ph.AddPlot("p1")
	plot.AddSeries(base)

	group := gh.AddGroup("g1")
	group.AddPlot(plot, true)
	gh.SetActiveGroup("g1")

	h.createSampleList()
	list := h.getSampleList()

	if len(list) != 1 {
		t.Fatalf("sample list = %v, want exactly one deduped entry for address 0x1000", list)
	}
	if list[0].Address != 0x1000 {
		t.Errorf("sample list address = %#x, want 0x1000", list[0].Address)
	}
}

func TestCreateSampleListSkipsInvisibleSeries(t *testing.T) {
	h, vh, ph, gh, _ := newTestHandler(t)

	v := plotmodel.NewVariable("v", plotmodel.TypeU32)
	v.Address = 0x1000
	vh.Add(v)

	plot := ph.AddPlot("p1")
	s := plot.AddSeries(v)
	s.Visible = false

	group := gh.AddGroup("g1")
	group.AddPlot(plot, true)
	gh.SetActiveGroup("g1")

	h.createSampleList()
	if got := h.getSampleList(); len(got) != 0 {
		t.Errorf("sample list = %v, want empty for invisible series", got)
	}
}

func TestPrepareCSVFileUsesActiveGroupVisibleSeries(t *testing.T) {
	h, vh, ph, gh, _ := newTestHandler(t)

	a := plotmodel.NewVariable("a", plotmodel.TypeU32)
	vh.Add(a)
	plot := ph.AddPlot("p1")
	plot.AddSeries(a)

	group := gh.AddGroup("g1")
	group.AddPlot(plot, true)
	gh.SetActiveGroup("g1")

	path := filepath.Join(t.TempDir(), "log.csv")
	h.SetSettings(Settings{ShouldLog: true, LogFilePath: path, MaxPoints: 100})

	h.prepareCSVFile()
	if err := h.csv.WriteLine(1.0, map[string]float64{"a": 5}); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	h.csv.FinishLogging()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if want := "time,a\n1,5\n"; string(data) != want {
		t.Errorf("csv content = %q, want %q", string(data), want)
	}
}

func TestSetSettingsRoundTripsArchiveFields(t *testing.T) {
	h, _, _, _, _ := newTestHandler(t)

	h.SetSettings(Settings{MaxPoints: 100, ArchiveBucket: "acqd-logs", ArchivePrefix: "viewer/"})
	got := h.GetSettings()
	if got.ArchiveBucket != "acqd-logs" || got.ArchivePrefix != "viewer/" {
		t.Errorf("GetSettings() archive fields = %q/%q, want %q/%q", got.ArchiveBucket, got.ArchivePrefix, "acqd-logs", "viewer/")
	}
}

func TestArchiveCSVNoopOnEmptyPath(t *testing.T) {
	h, _, _, _, _ := newTestHandler(t)
	// Must not panic or spawn an upload attempt when FinishLogging never
	// produced a file (ShouldLog was false).
	h.archiveCSV("", "acqd-logs", "")
}

func TestUpdateVariablesAppendsToVisiblePlotsOnly(t *testing.T) {
	h, vh, ph, _, _ := newTestHandler(t)

	v := plotmodel.NewVariable("v", plotmodel.TypeI32)
	v.Address = 0x100
	vh.Add(v)

	visible := ph.AddPlot("visible")
	visible.AddSeries(v)

	hidden := ph.AddPlot("hidden")
	hidden.AddSeries(v)
	hidden.SetVisibility(false)

	h.updateVariables(1.0, map[uint32]uint32{0x100: 7})

	if got := visible.Len(); got != 1 {
		t.Errorf("visible plot len = %d, want 1", got)
	}
	if got := hidden.Len(); got != 0 {
		t.Errorf("hidden plot len = %d, want 0 (invisible plots must not be updated)", got)
	}
}

// TestRunRevertsToStopOnProbeStartFailure covers the RUN-transition failure
// path: a probe.Start error must leave the handler in StateStop rather
// than spinning forever believing it is running.
func TestRunRevertsToStopOnProbeStartFailure(t *testing.T) {
	h, _, _, _, fp := newTestHandler(t)
	fp.startErr = errStartFailed

	h.Start()
	defer h.Close()

	h.SetSettings(Settings{SampleFrequencyHz: 10, MaxPoints: 10})
	h.SetState(StateRun)

	deadline := time.After(2 * time.Second)
	for h.State() != StateStop {
		select {
		case <-deadline:
			t.Fatal("handler never reverted to StateStop after probe start failure")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

var errStartFailed = &startError{}

type startError struct{}

func (*startError) Error() string { return "fake probe start failure" }
