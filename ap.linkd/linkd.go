/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


// ap.linkd runs the per-station transmit parameter engine for one radio.
// Association and acknowledgment-statistics events arrive from the driver
// shim over a unixgram channel; rate table and AMSDU commands flow back the
// same way.  A request/reply control port serves ap-linkctl.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"bglink/ap_common/aputil"
	"bglink/ap_common/comms"
	"bglink/ap_common/radio"
	"bglink/ap_common/ratescale"

	"github.com/pkg/errors"
	"github.com/tomazk/envcfg"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const pname = "ap.linkd"

// Cfg defines the environment overrides.  A set variable wins over the
// corresponding flag's default, but an explicit flag wins over both.
type Cfg struct {
	ControlURL     string `envcfg:"BGLINK_CONTROL_URL"`
	DriverSocket   string `envcfg:"BGLINK_DRIVER_SOCKET"`
	LocalSocket    string `envcfg:"BGLINK_LOCAL_SOCKET"`
	PrometheusPort string `envcfg:"BGLINK_PROMETHEUS_PORT"`
}

var (
	controlURL = flag.String("control", "tcp://127.0.0.1:3205",
		"control protocol endpoint")
	driverSocket = flag.String("driver-socket", "/var/run/bglink/driver",
		"driver shim's unixgram socket")
	localSocket = flag.String("local-socket", "/var/run/bglink/linkd",
		"our end of the driver channel")
	promPort = flag.String("prometheus-port", ":3600",
		"prometheus metrics port")

	environ Cfg

	slog *zap.SugaredLogger

	rad       *radio.Radio
	startTime time.Time

	stations   = make(map[string]*stationState)
	stationMtx sync.Mutex
)

// stationState pairs a station's scaling engine with the counter values
// already folded into the metrics.  The engine itself doesn't lock; the
// embedded mutex serializes the driver and control goroutines.
type stationState struct {
	mac      string
	st       *ratescale.Station
	reported ratescale.Counters
	sync.Mutex
}

// canonicalMac validates and lower-cases a client-supplied address.
func canonicalMac(mac string) (string, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return "", errors.Wrapf(err, "bad mac %q", mac)
	}
	return strings.ToLower(hw.String()), nil
}

// getStation returns the state for mac, creating it on first sight.
func getStation(mac string) *stationState {
	stationMtx.Lock()
	defer stationMtx.Unlock()

	s, ok := stations[mac]
	if !ok {
		s = &stationState{
			mac: mac,
			st:  ratescale.New(rad, slog),
		}
		stations[mac] = s
		stationsGauge.Set(float64(len(stations)))
	}
	return s
}

// lookupStation returns the state for mac, or nil.
func lookupStation(mac string) *stationState {
	stationMtx.Lock()
	defer stationMtx.Unlock()
	return stations[mac]
}

func dropStation(mac string) {
	stationMtx.Lock()
	defer stationMtx.Unlock()

	if s, ok := stations[mac]; ok {
		s.Lock()
		recordCounters(s)
		s.Unlock()
		delete(stations, mac)
		stationsGauge.Set(float64(len(stations)))
	}
}

// allStations snapshots the station map in MAC order-independent form.
func allStations() []*stationState {
	stationMtx.Lock()
	defer stationMtx.Unlock()

	all := make([]*stationState, 0, len(stations))
	for _, s := range stations {
		all = append(all, s)
	}
	return all
}

func stationCount() int {
	stationMtx.Lock()
	defer stationMtx.Unlock()
	return len(stations)
}

// applyEnv lets the environment override any flag still at its default.
func applyEnv() {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if environ.ControlURL != "" && !set["control"] {
		*controlURL = environ.ControlURL
	}
	if environ.DriverSocket != "" && !set["driver-socket"] {
		*driverSocket = environ.DriverSocket
	}
	if environ.LocalSocket != "" && !set["local-socket"] {
		*localSocket = environ.LocalSocket
	}
	if environ.PrometheusPort != "" && !set["prometheus-port"] {
		*promPort = environ.PrometheusPort
	}
}

func main() {
	flag.Parse()

	slog = aputil.NewLogger()
	defer slog.Sync()
	slog.Infof("starting")
	aputil.ReportInit(slog, pname)

	if err := envcfg.Unmarshal(&environ); err != nil {
		slog.Fatalf("reading environment: %v", err)
	}
	applyEnv()

	chip, err := radio.GetChip()
	if err != nil {
		slog.Fatalf("identifying radio: %v", err)
	}
	rad = radio.NewRadio(chip)
	startTime = time.Now()
	slog.Infof("driving %s", chip.GetName())

	metricsInit()

	ctl, err := comms.NewAPServer(pname, *controlURL)
	if err != nil {
		slog.Fatalf("opening control port %s: %v", *controlURL, err)
	}
	ctl.SetLogger(slog)

	drv = newDriverConn(*localSocket, *driverSocket)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return drv.eventLoop(ctx)
	})
	g.Go(func() error {
		return ctl.Serve(handleControl)
	})
	g.Go(func() error {
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case s := <-sig:
			slog.Infof("signal (%v) received, stopping", s)
		case <-ctx.Done():
		}
		cancel()
		ctl.Close()
		return nil
	})

	if err = g.Wait(); err != nil {
		slog.Errorf("exiting: %v", err)
	}
	slog.Infof("stopped")
}
