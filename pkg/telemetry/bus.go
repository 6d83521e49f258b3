// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package telemetry is the control plane: a singleton NATS publisher for
// decoupling a GUI process from the acquisition core, Prometheus metrics,
// and the HTTP control API that starts/stops acquisition and mutates
// settings.
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	influx "github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/mculab/acqd/pkg/log"
)

// BusConfig configures the optional NATS connection. An empty Address
// leaves the bus unconnected; Publish then becomes a no-op so the core
// runs standalone without a message broker.
type BusConfig struct {
	Address       string `json:"address"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CredsFilePath string `json:"creds-file-path"`
}

// Bus publishes one InfluxDB line-protocol point per plot tick on
// "acqd.plots.<name>", mirroring how cc-backend decouples metric
// producers from the backend via NATS.
type Bus struct {
	mu   sync.Mutex
	conn *nats.Conn
}

var (
	busOnce     sync.Once
	busInstance *Bus
)

// Connect initializes the singleton bus from cfg. A connection failure is
// logged and leaves the bus unconnected rather than failing startup.
func Connect(cfg BusConfig) {
	busOnce.Do(func() {
		busInstance = &Bus{}
		if cfg.Address == "" {
			log.Warnf("telemetry: no NATS address configured, publishing disabled")
			return
		}

		var opts []nats.Option
		if cfg.Username != "" && cfg.Password != "" {
			opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
		}
		if cfg.CredsFilePath != "" {
			opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
		}
		opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("telemetry: NATS reconnected to %s", nc.ConnectedUrl())
		}))
		opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("telemetry: NATS disconnected: %v", err)
			}
		}))

		conn, err := nats.Connect(cfg.Address, opts...)
		if err != nil {
			log.Warnf("telemetry: NATS connect failed, publishing disabled: %v", err)
			return
		}
		busInstance.conn = conn
		log.Infof("telemetry: NATS connected to %s", cfg.Address)
	})
}

// GetBus returns the singleton bus, connecting a no-op instance first if
// Connect was never called.
func GetBus() *Bus {
	if busInstance == nil {
		Connect(BusConfig{})
	}
	return busInstance
}

// PublishTick encodes one plot tick as an InfluxDB line-protocol point
// (measurement = plot name, fields = series name -> value) and publishes
// it on "acqd.plots.<name>". No-op if the bus is not connected.
func (b *Bus) PublishTick(plotName string, t float64, values map[string]float64) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}

	var enc influx.Encoder
	enc.SetPrecision(influx.Nanosecond)
	enc.StartLine(plotName)
	for name, v := range values {
		fv := influx.MustNewValue(v)
		enc.AddField(name, fv)
	}
	enc.EndLine(time.Unix(0, int64(t*float64(time.Second))))
	if err := enc.Err(); err != nil {
		return fmt.Errorf("telemetry: encoding line-protocol point: %w", err)
	}

	subject := "acqd.plots." + plotName
	if err := conn.Publish(subject, enc.Bytes()); err != nil {
		return fmt.Errorf("telemetry: publishing to %q: %w", subject, err)
	}
	return nil
}

// IsConnected reports whether the bus has a live NATS connection.
func (b *Bus) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}

// Close closes the underlying NATS connection, if any.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}
