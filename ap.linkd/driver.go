/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"bglink/ap_common/aputil"
	"bglink/ap_common/ratescale"
	"bglink/ap_common/wificaps"

	"github.com/pkg/errors"
)

// Driver shim event types.
const (
	evAssoc    = "assoc"    // station associated; Caps required
	evReconfig = "reconfig" // capability update for a known station
	evDisassoc = "disassoc" // station left
	evTxStatus = "txstatus" // acknowledgment statistics batch
	evRadio    = "radio"    // radio-wide state change
)

// driverEvent is one JSON datagram from the driver shim.
type driverEvent struct {
	Type string `json:"type"`
	Mac  string `json:"mac,omitempty"`

	Caps  *wificaps.StationCaps `json:"caps,omitempty"`
	Stats *ratescale.TxStats    `json:"stats,omitempty"`

	AntennaMask  *int  `json:"antenna_mask,omitempty"`
	CoexOwned    *bool `json:"coex_owned,omitempty"`
	SleepAllowed *bool `json:"sleep_allowed,omitempty"`
}

// driverCommand is the engine's output, written back over the same socket.
type driverCommand struct {
	Mac   string                       `json:"mac"`
	Table *ratescale.RateTableCommand  `json:"table,omitempty"`
	Amsdu *ratescale.AmsduNotification `json:"amsdu,omitempty"`
}

// driverConn is the unixgram channel to the driver shim.  The shim owns
// remoteName; we own localName and recreate it on every (re)connect.
type driverConn struct {
	localName  string
	remoteName string
	conn       *net.UnixConn
	badPace    *aputil.PaceTracker
	faulted    bool // hardware fault filed for this connection
}

var drv *driverConn

func newDriverConn(localName, remoteName string) *driverConn {
	return &driverConn{
		localName:  localName,
		remoteName: remoteName,
		badPace:    aputil.NewPaceTracker(5, time.Minute),
	}
}

// connect waits for the shim's socket to appear, then dials it.  It returns
// a ctx error when asked to stop while still waiting.
func (d *driverConn) connect(ctx context.Context) error {
	laddr := net.UnixAddr{Name: d.localName, Net: "unixgram"}
	raddr := net.UnixAddr{Name: d.remoteName, Net: "unixgram"}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !aputil.FileExists(d.remoteName) {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		os.Remove(d.localName)
		conn, err := net.DialUnix("unixgram", &laddr, &raddr)
		if err == nil {
			d.conn = conn
			d.faulted = false
			d.badPace.Reset()
			return nil
		}
		slog.Debugf("dialing %s: %v", d.remoteName, err)
		time.Sleep(100 * time.Millisecond)
	}
}

// eventLoop drives the channel for the life of the daemon, redialing
// whenever the shim goes away.
func (d *driverConn) eventLoop(ctx context.Context) error {
	for {
		if err := d.connect(ctx); err != nil {
			return nil
		}
		slog.Infof("connected to driver at %s", d.remoteName)
		d.readLoop(ctx)

		d.conn.Close()
		d.conn = nil
		if ctx.Err() != nil {
			return nil
		}
		slog.Warnf("driver channel lost, reconnecting")
	}
}

// readLoop pulls datagrams until the socket fails or the daemon stops.  The
// short read deadline is only there to notice cancellation.
func (d *driverConn) readLoop(ctx context.Context) {
	buf := make([]byte, 65536)

	for ctx.Err() == nil {
		d.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := d.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		d.handleEvent(buf[:n])
	}
}

func (d *driverConn) handleEvent(raw []byte) {
	var ev driverEvent

	if err := json.Unmarshal(raw, &ev); err != nil {
		driverBadEvents.Inc()
		d.badTick(err)
		return
	}
	driverEvents.WithLabelValues(ev.Type).Inc()
	now := time.Now()

	if ev.Type == evRadio {
		d.handleRadio(&ev)
		return
	}

	mac, err := canonicalMac(ev.Mac)
	if err != nil {
		driverBadEvents.Inc()
		slog.Warnf("%s event: %v", ev.Type, err)
		return
	}

	switch ev.Type {
	case evAssoc, evReconfig:
		d.handleConfig(mac, &ev, now)
	case evDisassoc:
		slog.Infof("%s disassociated", mac)
		dropStation(mac)
	case evTxStatus:
		d.handleTxStatus(mac, &ev, now)
	default:
		driverBadEvents.Inc()
		d.badTick(errors.Errorf("unknown driver event %q", ev.Type))
	}
}

// badTick accounts one malformed shim event.  Occasional garbage gets a
// warning; a sustained flood suggests the driver side has wedged, which is
// worth a fault report the first time it happens on a connection.
func (d *driverConn) badTick(reason error) {
	if err := d.badPace.Tick(); err == nil {
		slog.Warnf("bad driver event: %v", reason)
	} else if !d.faulted {
		d.faulted = true
		aputil.ReportHardware(d.remoteName,
			fmt.Sprintf("driver event flood (%v), last: %v",
				err, reason))
	}
}

func (d *driverConn) handleRadio(ev *driverEvent) {
	if ev.AntennaMask != nil {
		rad.SetAntennaMask(*ev.AntennaMask)
		slog.Infof("antenna mask now %#x", rad.AntennaMask())
	}
	if ev.CoexOwned != nil {
		rad.SetCoexAntenna(*ev.CoexOwned)
		slog.Infof("coex antenna ownership now %v", *ev.CoexOwned)
	}
	if ev.SleepAllowed != nil {
		rad.SetSleepAllowed(*ev.SleepAllowed)
	}
}

// handleConfig covers both fresh associations and capability updates; the
// engine itself treats them identically.
func (d *driverConn) handleConfig(mac string, ev *driverEvent, now time.Time) {
	if ev.Caps == nil {
		driverBadEvents.Inc()
		slog.Warnf("%s event for %s without capabilities", ev.Type, mac)
		return
	}

	s := getStation(mac)
	s.Lock()
	err := s.st.Configure(ev.Caps, now)
	s.Unlock()
	if err != nil {
		slog.Warnf("configuring %s: %v", mac, err)
		return
	}
	slog.Infof("%s configured: %v", mac, ev.Caps)
	d.pushCommands(s)
}

func (d *driverConn) handleTxStatus(mac string, ev *driverEvent, now time.Time) {
	if ev.Stats == nil {
		driverBadEvents.Inc()
		if d.badPace.Tick() == nil {
			slog.Warnf("txstatus event for %s without stats", mac)
		}
		return
	}

	s := lookupStation(mac)
	if s == nil {
		// Statistics can race a disassociation; not worth a warning.
		slog.Debugf("txstatus for unknown station %s", mac)
		return
	}
	s.Lock()
	s.st.HandleTxStatistics(*ev.Stats, now)
	recordCounters(s)
	s.Unlock()

	d.pushCommands(s)
}

// pushCommands drains the engine's pending outputs to the shim.
func (d *driverConn) pushCommands(s *stationState) {
	s.Lock()
	table, amsdu := s.st.Commands()
	s.Unlock()
	if table == nil && amsdu == nil {
		return
	}

	raw, err := json.Marshal(&driverCommand{
		Mac:   s.mac,
		Table: table,
		Amsdu: amsdu,
	})
	if err != nil {
		slog.Errorf("marshaling command for %s: %v", s.mac, err)
		return
	}

	conn := d.conn
	if conn == nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err = conn.Write(raw); err != nil {
		slog.Warnf("writing command for %s: %v", s.mac, err)
		return
	}
	driverCommands.Inc()
}
