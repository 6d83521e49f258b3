// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads acqd's JSON configuration document, following
// cc-backend's cmd/cc-backend/main.go pattern: a package-level Config
// with sane defaults, optionally overwritten field-by-field by a JSON
// file named on the command line, with a .env file loaded first so
// secrets never need to live in the checked-in config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mculab/acqd/pkg/log"
	"github.com/mculab/acqd/pkg/probe"
	"github.com/mculab/acqd/pkg/telemetry"
)

// ProbeSettings is the JSON shape of probe.Settings; string fields are
// resolved against the enums in pkg/probe by Resolve.
type ProbeSettings struct {
	DeviceSerial string `json:"device-serial"`
	Interface    string `json:"interface"`
	Probe        string `json:"probe"`
	Mode         string `json:"mode"`
	SpeedKHz     uint32 `json:"speed-khz"`
}

// probeSettingsSchema mirrors cc-backend's internal/metricstore/configSchema.go
// and pkg/nats/config.go: an inline JSON schema validated before the
// sub-document is ever unmarshalled into a typed struct.
const probeSettingsSchema = `{
	"type": "object",
	"properties": {
		"device-serial": {"type": "string"},
		"interface": {"type": "string", "enum": ["swd", "jtag"]},
		"probe": {"type": "string", "enum": ["stlink", "jlink"]},
		"mode": {"type": "string", "enum": ["normal", "hss"]},
		"speed-khz": {"type": "integer", "minimum": 1}
	},
	"required": ["interface", "probe", "mode"]
}`

// TraceProbeSettings is the JSON shape of probe.TraceProbeSettings.
type TraceProbeSettings struct {
	CoreFrequencyHz uint32 `json:"core-frequency-hz"`
	TracePrescaler  uint32 `json:"trace-prescaler"`
	ShouldReset     bool   `json:"should-reset"`
	TimeoutMs       uint32 `json:"timeout-ms"`
	TraceIOPin      string `json:"trace-io-pin"`
}

const traceProbeSettingsSchema = `{
	"type": "object",
	"properties": {
		"core-frequency-hz": {"type": "integer", "exclusiveMinimum": 0},
		"trace-prescaler": {"type": "integer", "minimum": 1},
		"should-reset": {"type": "boolean"},
		"timeout-ms": {"type": "integer", "minimum": 1},
		"trace-io-pin": {"type": "string"}
	},
	"required": ["core-frequency-hz"]
}`

var (
	probeSchema      = mustCompileSchema("probe-settings.json", probeSettingsSchema)
	traceProbeSchema = mustCompileSchema("trace-probe-settings.json", traceProbeSettingsSchema)
)

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("config: invalid embedded schema %s: %v", name, err))
	}
	s, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("config: compiling embedded schema %s: %v", name, err))
	}
	return s
}

// Config is the top-level JSON document. Unset fields keep the defaults
// in Default.
type Config struct {
	// Addr is where the control API listens (for example ":8090").
	Addr string `json:"addr"`

	// GDBPath is the gdb binary used by pkg/symbols; overridable via
	// the ACQD_GDB_PATH environment variable (which .env may set).
	GDBPath string `json:"gdb-path"`

	// ElfPath is the target image symbols are resolved against.
	ElfPath string `json:"elf-path"`

	// Simulate runs in-process probe simulators instead of requiring
	// real ST-Link/J-Link hardware, for demos and tests.
	Simulate bool `json:"simulate"`

	Probe      json.RawMessage `json:"probe"`
	TraceProbe json.RawMessage `json:"trace-probe"`

	ViewerMaxPoints int `json:"viewer-max-points"`
	TraceMaxPoints  int `json:"trace-max-points"`

	// TriggerExpr is the expr-lang expression evaluated against named
	// channel values; empty disables triggering.
	TriggerExpr string `json:"trigger-expr"`

	Bus telemetry.BusConfig `json:"bus"`

	// JWTSecret signs/validates control-API bearer tokens. Typically
	// supplied via .env as ACQD_JWT_SECRET rather than checked in.
	JWTSecret string `json:"jwt-secret"`

	RateLimitPerSecond float64 `json:"rate-limit-per-second"`
	RateLimitBurst     int     `json:"rate-limit-burst"`

	// ConnectedDevicesRefreshInterval controls how often the gocron
	// housekeeping job in cmd/acqd refreshes the GET /probes cache
	// (SPEC_FULL.md §9's "periodic refresh via gocron").
	ConnectedDevicesRefreshInterval string `json:"connected-devices-refresh-interval"`
}

// Default mirrors cc-backend's package-level programConfig var: sane
// defaults a user need not override to get a working system.
var Default = Config{
	Addr:                            ":8090",
	GDBPath:                         "gdb-multiarch",
	Simulate:                        true,
	ViewerMaxPoints:                 2000,
	TraceMaxPoints:                  2000,
	RateLimitPerSecond:              2,
	RateLimitBurst:                  5,
	ConnectedDevicesRefreshInterval: "10s",
}

// Load reads envFile (if present; a missing file is not an error, as in
// cc-backend's runtimeEnv.LoadEnv caller), then overlays configFile's
// JSON onto a copy of Default.
func Load(envFile, configFile string) (Config, error) {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: loading %s: %w", envFile, err)
	}

	cfg := Default
	f, err := os.Open(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("config: %s not found, using defaults", configFile)
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: opening %s: %w", configFile, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding %s: %w", configFile, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides lets a small set of secrets come from the
// environment instead of the JSON file, the same "env:" escape hatch
// cc-backend's main.go uses for its database DSN.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ACQD_GDB_PATH"); v != "" {
		cfg.GDBPath = v
	}
	if v := os.Getenv("ACQD_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("ACQD_NATS_USERNAME"); v != "" {
		cfg.Bus.Username = v
	}
	if v := os.Getenv("ACQD_NATS_PASSWORD"); v != "" {
		cfg.Bus.Password = v
	}
}

// ResolveProbeSettings validates and decodes the probe sub-document.
func ResolveProbeSettings(raw json.RawMessage) (probe.Settings, error) {
	if len(raw) == 0 {
		return probe.Settings{}, nil
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return probe.Settings{}, fmt.Errorf("config: decoding probe settings: %w", err)
	}
	if err := probeSchema.Validate(v); err != nil {
		return probe.Settings{}, fmt.Errorf("config: validating probe settings: %w", err)
	}

	var s ProbeSettings
	if err := json.Unmarshal(raw, &s); err != nil {
		return probe.Settings{}, fmt.Errorf("config: decoding probe settings: %w", err)
	}

	iface, err := parseInterface(s.Interface)
	if err != nil {
		return probe.Settings{}, err
	}
	probeType, err := parseProbeType(s.Probe)
	if err != nil {
		return probe.Settings{}, err
	}
	mode, err := parseMode(s.Mode)
	if err != nil {
		return probe.Settings{}, err
	}

	return probe.Settings{
		DeviceSerial: s.DeviceSerial,
		Interface:    iface,
		Probe:        probeType,
		Mode:         mode,
		SpeedKHz:     s.SpeedKHz,
	}, nil
}

// ResolveTraceProbeSettings validates and decodes the trace-probe
// sub-document.
func ResolveTraceProbeSettings(raw json.RawMessage) (probe.TraceProbeSettings, error) {
	if len(raw) == 0 {
		return probe.TraceProbeSettings{}, nil
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return probe.TraceProbeSettings{}, fmt.Errorf("config: decoding trace-probe settings: %w", err)
	}
	if err := traceProbeSchema.Validate(v); err != nil {
		return probe.TraceProbeSettings{}, fmt.Errorf("config: validating trace-probe settings: %w", err)
	}

	var s TraceProbeSettings
	if err := json.Unmarshal(raw, &s); err != nil {
		return probe.TraceProbeSettings{}, fmt.Errorf("config: decoding trace-probe settings: %w", err)
	}

	return probe.TraceProbeSettings{
		CoreFrequencyHz: s.CoreFrequencyHz,
		TracePrescaler:  s.TracePrescaler,
		ShouldReset:     s.ShouldReset,
		TimeoutMs:       s.TimeoutMs,
		TraceIOPin:      s.TraceIOPin,
	}, nil
}

func parseInterface(s string) (probe.ProbeInterface, error) {
	switch strings.ToLower(s) {
	case "", "swd":
		return probe.InterfaceSWD, nil
	case "jtag":
		return probe.InterfaceJTAG, nil
	default:
		return 0, fmt.Errorf("config: unknown probe interface %q", s)
	}
}

func parseProbeType(s string) (probe.ProbeType, error) {
	switch strings.ToLower(s) {
	case "", "stlink":
		return probe.ProbeSTLink, nil
	case "jlink":
		return probe.ProbeJLink, nil
	default:
		return 0, fmt.Errorf("config: unknown probe type %q", s)
	}
}

func parseMode(s string) (probe.Mode, error) {
	switch strings.ToLower(s) {
	case "", "normal":
		return probe.ModeNormal, nil
	case "hss":
		return probe.ModeHSS, nil
	default:
		return 0, fmt.Errorf("config: unknown probe mode %q", s)
	}
}
