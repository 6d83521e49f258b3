// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/gops/agent"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/mculab/acqd/internal/config"
	"github.com/mculab/acqd/internal/trigger"
	"github.com/mculab/acqd/pkg/csvstream"
	"github.com/mculab/acqd/pkg/log"
	"github.com/mculab/acqd/pkg/plotgroup"
	"github.com/mculab/acqd/pkg/plotmodel"
	"github.com/mculab/acqd/pkg/probe"
	"github.com/mculab/acqd/pkg/symbols"
	"github.com/mculab/acqd/pkg/telemetry"
	"github.com/mculab/acqd/pkg/tracehandler"
	"github.com/mculab/acqd/pkg/viewer"
)

func main() {
	var flagConfigFile, flagEnvFile string
	var flagGops bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default options by those specified in `config.json`")
	flag.StringVar(&flagEnvFile, "env", "./.env", "Load environment overrides from `.env`")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	// See https://github.com/google/gops (runtime overhead is almost zero)
	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	cfg, err := config.Load(flagEnvFile, flagConfigFile)
	if err != nil {
		log.Fatal(err)
	}

	plotHandler := plotmodel.NewPlotHandler(cfg.ViewerMaxPoints)
	variableHandler := plotmodel.NewVariableHandler()
	groupHandler := plotgroup.NewHandler()
	groupHandler.AddGroup("default")
	groupHandler.SetActiveGroup("default")

	if cfg.ElfPath != "" {
		resolver, err := symbols.NewResolver(cfg.GDBPath)
		if err != nil {
			log.Warnf("main: gdb unavailable, skipping symbol resolution: %v", err)
		} else if err := resolver.Parse(cfg.ElfPath); err != nil {
			log.Warnf("main: parsing %s failed: %v", cfg.ElfPath, err)
		} else {
			for _, v := range resolver.GetParsedData() {
				variable := plotmodel.NewVariable(v.Name, v.Type)
				variable.Address = v.Address
				variable.SetIsFound(true)
				variableHandler.Add(variable)
			}
			log.Infof("main: resolved %d variables from %s", variableHandler.Len(), cfg.ElfPath)
		}
	}

	tracePlotHandler := plotmodel.NewPlotHandler(cfg.TraceMaxPoints)

	var sampleProbe probe.Probe
	var traceProbe probe.TraceProbe
	if cfg.Simulate {
		sampleProbe = probe.NewSimulatorProbe(10 * time.Millisecond)
		traceProbe = probe.NewSimulatorTraceProbe()
		log.Info("main: running against in-process probe simulators (config.simulate=true)")
	} else {
		log.Fatal("main: no hardware probe backend is wired; set \"simulate\": true or build one against pkg/probe.Probe/TraceProbe")
	}

	viewerHandler := viewer.New(groupHandler, variableHandler, plotHandler, sampleProbe, csvstream.NewStreamer())
	if probeSettings, err := config.ResolveProbeSettings(cfg.Probe); err != nil {
		log.Warnf("main: probe settings: %v", err)
	} else {
		viewerHandler.SetProbeSettings(probeSettings)
	}
	viewerHandler.Start()
	defer viewerHandler.Close()

	traceHandler := tracehandler.New(tracePlotHandler, traceProbe, csvstream.NewStreamer())
	if traceSettings, err := config.ResolveTraceProbeSettings(cfg.TraceProbe); err != nil {
		log.Warnf("main: trace-probe settings: %v", err)
	} else {
		traceHandler.SetProbeSettings(traceSettings)
	}
	if cfg.TriggerExpr != "" {
		evaluator, err := trigger.Compile(cfg.TriggerExpr)
		if err != nil {
			log.Warnf("main: trigger expression %q: %v", cfg.TriggerExpr, err)
		} else {
			traceHandler.SetTrigger(evaluator)
		}
	}
	traceHandler.Start()
	defer traceHandler.Close()

	telemetry.Connect(cfg.Bus)
	defer telemetry.GetBus().Close()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	var lastIndicators [3]uint64

	auth := telemetry.NewBearerAuth([]byte(cfg.JWTSecret))
	server := telemetry.NewServer(viewerHandler, traceHandler, plotHandler, groupHandler, auth,
		rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("main: creating gocron scheduler: %s", err.Error())
	}

	refreshInterval, err := time.ParseDuration(cfg.ConnectedDevicesRefreshInterval)
	if err != nil {
		log.Warnf("main: invalid connected-devices-refresh-interval %q, defaulting to 10s", cfg.ConnectedDevicesRefreshInterval)
		refreshInterval = 10 * time.Second
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(refreshInterval),
		gocron.NewTask(func() {
			devices, err := sampleProbe.GetConnectedDevices()
			if err != nil {
				log.Warnf("main: refreshing connected devices: %v", err)
				return
			}
			server.SetConnectedDevices(devices)
		}),
	); err != nil {
		log.Fatalf("main: scheduling connected-devices refresh: %s", err.Error())
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(time.Second),
		gocron.NewTask(func() {
			ind := traceHandler.GetTraceIndicators()
			metrics.SetTraceIndicators(ind.ErrorFramesTotal, ind.DelayedTimestamp3, ind.OverflowCount, &lastIndicators)
			metrics.ViewerSamplingPeriod.Set(viewerHandler.AverageSamplingPeriod())
		}),
	); err != nil {
		log.Fatalf("main: scheduling metrics refresh: %s", err.Error())
	}

	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			log.Warnf("main: shutting down gocron scheduler: %v", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Handler(),
	}
	go func() {
		log.Infof("main: control API listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("main: control API server: %s", err.Error())
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("main: shutting down")
	_ = httpServer.Close()
}
