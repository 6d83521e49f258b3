// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package probe

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

// SimulatorProbe is an in-process stand-in for a real ST-Link/J-Link
// backend: a flat addressable memory space plus, in ModeHSS, a goroutine
// that periodically snapshots a configured sample list. It exists because
// no USB/ST-Link/J-Link driver library is available to wire a real
// backend against; it is exercised directly by tests and by cmd/acqd when
// the config's "simulate" field is true.
type SimulatorProbe struct {
	mu  sync.Mutex
	mem map[uint32]byte

	valid       bool
	mode        Mode
	lastErr     string
	hssInterval time.Duration

	sampleCh chan Sample
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSimulatorProbe returns a probe with an empty memory space. hssInterval
// controls how often ReadSingleEntry produces a sample in ModeHSS.
func NewSimulatorProbe(hssInterval time.Duration) *SimulatorProbe {
	return &SimulatorProbe{
		mem:         make(map[uint32]byte),
		hssInterval: hssInterval,
	}
}

// Poke seeds the simulated memory at address with a raw little-endian word
// for tests and demo setups; it bypasses Start/Stop state.
func (p *SimulatorProbe) Poke(address uint32, size uint8, value uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeWordLocked(address, size, value)
}

func (p *SimulatorProbe) Start(settings Settings, sampleList []SampleAddress, frequencyHz uint32) error {
	p.mu.Lock()
	p.mode = settings.Mode
	p.valid = true
	p.lastErr = ""
	p.mu.Unlock()

	if settings.Mode != ModeHSS {
		return nil
	}

	p.sampleCh = make(chan Sample, 4)
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.hssLoop(sampleList)
	return nil
}

func (p *SimulatorProbe) hssLoop(sampleList []SampleAddress) {
	defer p.wg.Done()
	interval := p.hssInterval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-p.stopCh:
			return
		case now := <-ticker.C:
			values := make(map[uint32]uint32, len(sampleList))
			p.mu.Lock()
			for _, sa := range sampleList {
				values[sa.Address] = p.readWordLocked(sa.Address, sa.Size)
			}
			p.mu.Unlock()
			sample := Sample{Timestamp: now.Sub(start).Seconds(), Values: values}
			select {
			case p.sampleCh <- sample:
			default:
			}
		}
	}
}

func (p *SimulatorProbe) Stop() error {
	p.mu.Lock()
	p.valid = false
	mode := p.mode
	p.mu.Unlock()

	if mode == ModeHSS && p.stopCh != nil {
		close(p.stopCh)
		p.wg.Wait()
	}
	return nil
}

func (p *SimulatorProbe) IsValid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valid
}

func (p *SimulatorProbe) GetValue(address uint32, size uint8) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid {
		p.lastErr = "probe: GetValue called while not started"
		return 0, false
	}
	return p.readWordLocked(address, size), true
}

func (p *SimulatorProbe) SetValue(address uint32, size uint8, value uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid {
		return fmt.Errorf("probe: SetValue called while not started")
	}
	p.writeWordLocked(address, size, value)
	return nil
}

func (p *SimulatorProbe) ReadMemory(address uint32, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range buf {
		buf[i] = p.mem[address+uint32(i)]
	}
	return nil
}

func (p *SimulatorProbe) WriteMemory(address uint32, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, b := range buf {
		p.mem[address+uint32(i)] = b
	}
	return nil
}

func (p *SimulatorProbe) ReadSingleEntry() (Sample, bool) {
	p.mu.Lock()
	mode, ch := p.mode, p.sampleCh
	p.mu.Unlock()

	if mode != ModeHSS || ch == nil {
		return Sample{}, false
	}

	select {
	case s, ok := <-ch:
		return s, ok
	case <-time.After(500 * time.Millisecond):
		return Sample{}, false
	}
}

func (p *SimulatorProbe) GetLastErrorMsg() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *SimulatorProbe) GetConnectedDevices() ([]string, error) {
	return []string{"SIMULATOR-0001"}, nil
}

func (p *SimulatorProbe) readWordLocked(address uint32, size uint8) uint32 {
	buf := make([]byte, 4)
	for i := uint8(0); i < size && i < 4; i++ {
		buf[i] = p.mem[address+uint32(i)]
	}
	return binary.LittleEndian.Uint32(buf)
}

func (p *SimulatorProbe) writeWordLocked(address uint32, size uint8, value uint32) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	for i := uint8(0); i < size && i < 4; i++ {
		p.mem[address+uint32(i)] = buf[i]
	}
}

// SimulatorTraceProbe synthesizes a periodic trace stream: a sawtooth on
// channel 0 and a sine on channel 1, for exercising pkg/trace and
// pkg/tracehandler without real trace hardware.
type SimulatorTraceProbe struct {
	mu      sync.Mutex
	running bool
	mask    uint32

	frames chan traceFrame
	stopCh chan struct{}
	wg     sync.WaitGroup

	indicators TraceIndicators
}

type traceFrame struct {
	deltaTs float64
	values  []uint32
}

// NewSimulatorTraceProbe returns an idle trace probe simulator.
func NewSimulatorTraceProbe() *SimulatorTraceProbe {
	return &SimulatorTraceProbe{}
}

func (p *SimulatorTraceProbe) StartAcqusition(settings TraceProbeSettings, activeChannelsMask uint32) error {
	p.mu.Lock()
	p.running = true
	p.mask = activeChannelsMask
	p.mu.Unlock()

	p.frames = make(chan traceFrame, 16)
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.generate()
	return nil
}

func (p *SimulatorTraceProbe) generate() {
	defer p.wg.Done()
	ticker := time.NewTicker(1 * time.Millisecond)
	defer ticker.Stop()

	var tick int
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			tick++
			values := make([]uint32, 32)
			for ch := 0; ch < 32; ch++ {
				if p.mask&(1<<uint(ch)) == 0 {
					continue
				}
				switch ch {
				case 0:
					values[ch] = uint32(tick % 256)
				case 1:
					values[ch] = math.Float32bits(float32(math.Sin(float64(tick) / 50.0)))
				}
			}
			frame := traceFrame{deltaTs: 0.001, values: values}
			select {
			case p.frames <- frame:
			default:
			}
		}
	}
}

func (p *SimulatorTraceProbe) StopAcqusition() error {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	if p.stopCh != nil {
		close(p.stopCh)
		p.wg.Wait()
	}
	return nil
}

func (p *SimulatorTraceProbe) ReadTrace() (float64, []uint32, bool) {
	p.mu.Lock()
	ch := p.frames
	p.mu.Unlock()
	if ch == nil {
		return 0, nil, false
	}

	select {
	case f, ok := <-ch:
		if !ok {
			return 0, nil, false
		}
		return f.deltaTs, f.values, true
	case <-time.After(200 * time.Millisecond):
		return 0, nil, false
	}
}

func (p *SimulatorTraceProbe) GetTraceIndicators() TraceIndicators {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.indicators
}
