/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


// ap-linkctl inspects and adjusts ap.linkd's per-station transmit state.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bglink/ap_common/comms"
	"bglink/ap_common/ratescale"
	"bglink/common/wifi"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tatsushid/go-prettytable"
	"github.com/tomazk/envcfg"
)

const pname = "ap-linkctl"

var environ struct {
	ControlURL string `envcfg:"BGLINK_CONTROL_URL"`
}

var controlURL string

func connect() (*comms.APComm, error) {
	c, err := comms.NewAPClient(pname, controlURL)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", controlURL)
	}
	c.SetOpenTimeout(5 * time.Second)
	return c, nil
}

func call(req *comms.Request) (*comms.Response, error) {
	c, err := connect()
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return comms.Call(c, req)
}

func stateString(state string) string {
	switch state {
	case "stay-in-column":
		return color.GreenString(state)
	case "search-cycle", "tpc-search":
		return color.YellowString(state)
	}
	return state
}

func doStatus(cmd *cobra.Command, args []string) error {
	resp, err := call(&comms.Request{Op: comms.OpStatus})
	if err != nil {
		return err
	}

	d := resp.Daemon
	fmt.Printf("chip:     %s\n", d.Chip)
	fmt.Printf("uptime:   %v\n", time.Since(d.Started).Round(time.Second))
	fmt.Printf("stations: %d\n", d.Stations)
	return nil
}

func doStations(cmd *cobra.Command, args []string) error {
	resp, err := call(&comms.Request{Op: comms.OpStations})
	if err != nil {
		return err
	}

	table, _ := prettytable.NewTable(
		prettytable.Column{Header: "MAC"},
		prettytable.Column{Header: "State"},
		prettytable.Column{Header: "Rate"},
		prettytable.Column{Header: "Success"},
		prettytable.Column{Header: "Tpt(Mbps)"},
		prettytable.Column{Header: "Pwr(dB)"},
		prettytable.Column{Header: "AMSDU"},
	)
	table.Separator = "  "

	for _, si := range resp.Stations {
		st := si.Status
		if !st.Enabled {
			table.AddRow(si.Mac, color.RedString("disabled"),
				"-", "-", "-", "-", "-")
			continue
		}
		rate := st.Rate.String()
		if st.FixedRate != nil {
			rate = color.YellowString("%v (fixed)", *st.FixedRate)
		}
		table.AddRow(si.Mac, stateString(st.State), rate,
			fmt.Sprintf("%d%%", st.SuccessPct),
			fmt.Sprintf("%d.%d", st.MeasuredTpt/10, st.MeasuredTpt%10),
			strconv.Itoa(st.PowerReduction),
			strconv.Itoa(st.AmsduSize))
	}
	table.Print()
	return nil
}

func doShow(cmd *cobra.Command, args []string) error {
	resp, err := call(&comms.Request{Op: comms.OpStation, Mac: args[0]})
	if err != nil {
		return err
	}

	si := resp.Stations[0]
	st := si.Status
	fmt.Printf("station:  %s\n", si.Mac)
	if !st.Enabled {
		fmt.Printf("state:    %s\n", color.RedString("disabled"))
		return nil
	}
	fmt.Printf("state:    %s\n", stateString(st.State))
	fmt.Printf("column:   %s\n", st.Column)
	fmt.Printf("rate:     %v\n", st.Rate)
	if st.FixedRate != nil {
		fmt.Printf("fixed:    %v\n", *st.FixedRate)
	}
	fmt.Printf("success:  %d%%\n", st.SuccessPct)
	fmt.Printf("tpt:      measured %d.%d Mbps, expected %d.%d Mbps\n",
		st.MeasuredTpt/10, st.MeasuredTpt%10,
		st.ExpectedTpt/10, st.ExpectedTpt%10)
	fmt.Printf("power:    -%d dB\n", st.PowerReduction)
	fmt.Printf("amsdu:    size %d, tids %#x, blacklist %v\n",
		st.AmsduSize, st.AmsduTids, st.AmsduBlacklist)

	c := st.Counters
	fmt.Printf("counters: %d evals, %d cycles, %d up, %d down\n",
		c.Evaluations, c.SearchCycles, c.Upscales, c.Downscales)
	fmt.Printf("          %d committed, %d reverted, %d bw probes\n",
		c.ProbesCommitted, c.ProbesReverted, c.BwProbes)
	fmt.Printf("          %d tpc moves, amsdu %d/%d/%d on/off/blacklist\n",
		c.TpcMoves, c.AmsduEnables, c.AmsduDisables, c.AmsduBlacklists)
	return nil
}

func doTable(cmd *cobra.Command, args []string) error {
	resp, err := call(&comms.Request{Op: comms.OpTable, Mac: args[0]})
	if err != nil {
		return err
	}

	t := resp.Table
	table, _ := prettytable.NewTable(
		prettytable.Column{Header: "#"},
		prettytable.Column{Header: "Rate"},
		prettytable.Column{Header: "Tries"},
		prettytable.Column{Header: "RTS"},
	)
	table.Separator = "  "

	for i, row := range t.Rows {
		rts := ""
		if row.Rts {
			rts = "yes"
		}
		table.AddRow(strconv.Itoa(i), row.Rate.String(),
			strconv.Itoa(row.Tries), rts)
	}
	table.Print()

	fmt.Printf("power reduction: %d dB\n", t.PowerReduction)
	fmt.Printf("aggregation:     %v / %d frames\n",
		t.AggDuration, t.AggFrameLimit)
	return nil
}

func doAmsdu(cmd *cobra.Command, args []string) error {
	resp, err := call(&comms.Request{Op: comms.OpAmsdu, Mac: args[0]})
	if err != nil {
		return err
	}

	st := resp.Stations[0].Status
	if st.AmsduSize > 0 {
		fmt.Printf("amsdu:     %s, size %d\n",
			color.GreenString("enabled"), st.AmsduSize)
	} else {
		fmt.Printf("amsdu:     disabled\n")
	}
	fmt.Printf("tids:      %#x\n", st.AmsduTids)
	fmt.Printf("blacklist: %v\n", st.AmsduBlacklist)
	return nil
}

var rateModes = map[string]wifi.Mode{
	"legacy": wifi.ModeLegacy,
	"ht":     wifi.ModeHT,
	"vht":    wifi.ModeVHT,
	"he":     wifi.ModeHE,
}

var rateBandwidths = map[string]wifi.Bandwidth{
	"20": wifi.BW20, "40": wifi.BW40, "80": wifi.BW80, "160": wifi.BW160,
}

var rateGuards = map[string]wifi.GuardInterval{
	"lgi":  wifi.GILong,
	"sgi":  wifi.GIShort,
	"he32": wifi.GIHe32,
	"he16": wifi.GIHe16,
	"he08": wifi.GIHe08,
}

var rateAntennas = map[string]int{
	"a": wifi.AntennaA, "b": wifi.AntennaB, "ab": wifi.AntennaAB,
}

// parseRateSpec turns "mode:index[:bw[:nss[:guard[:antenna]]]]" into a
// Rate.  Omitted fields default to 20MHz, one stream, a long guard
// interval, and antenna A.
func parseRateSpec(spec string) (*ratescale.Rate, error) {
	fields := strings.Split(strings.ToLower(spec), ":")
	if len(fields) < 2 || len(fields) > 6 {
		return nil, errors.Errorf("bad rate spec %q", spec)
	}

	mode, ok := rateModes[fields[0]]
	if !ok {
		return nil, errors.Errorf("bad mode %q", fields[0])
	}
	index, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, errors.Errorf("bad index %q", fields[1])
	}

	rate := &ratescale.Rate{
		Mode:      mode,
		Index:     index,
		Bandwidth: wifi.BW20,
		Guard:     wifi.GILong,
		Antenna:   wifi.AntennaA,
		Nss:       1,
	}

	if len(fields) > 2 {
		if rate.Bandwidth, ok = rateBandwidths[fields[2]]; !ok {
			return nil, errors.Errorf("bad bandwidth %q", fields[2])
		}
	}
	if len(fields) > 3 {
		if rate.Nss, err = strconv.Atoi(fields[3]); err != nil {
			return nil, errors.Errorf("bad nss %q", fields[3])
		}
		if rate.Nss == wifi.Mimo2 {
			rate.Antenna = wifi.AntennaAB
		}
	}
	if len(fields) > 4 {
		if rate.Guard, ok = rateGuards[fields[4]]; !ok {
			return nil, errors.Errorf("bad guard %q", fields[4])
		}
	}
	if len(fields) > 5 {
		if rate.Antenna, ok = rateAntennas[fields[5]]; !ok {
			return nil, errors.Errorf("bad antenna %q", fields[5])
		}
	}
	return rate, nil
}

func doFixed(cmd *cobra.Command, args []string) error {
	req := &comms.Request{Op: comms.OpFixed, Mac: args[0]}

	if args[1] != "clear" {
		rate, err := parseRateSpec(args[1])
		if err != nil {
			return err
		}
		req.Rate = rate
	}

	resp, err := call(req)
	if err != nil {
		return err
	}

	if req.Rate != nil {
		fmt.Printf("pinned to %v\n", *req.Rate)
	} else {
		fmt.Printf("override cleared\n")
	}
	if resp.Table != nil && len(resp.Table.Rows) > 0 {
		fmt.Printf("active rate now %v\n", resp.Table.Rows[0].Rate)
	}
	return nil
}

func doLogLevel(cmd *cobra.Command, args []string) error {
	_, err := call(&comms.Request{Op: comms.OpLogLevel, Level: args[0]})
	if err != nil {
		return err
	}
	fmt.Printf("log level now %s\n", args[0])
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use: pname,
		// Suppress usage output once argument validation has passed,
		// so transaction failures don't print the help text.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SilenceUsage = true
		},
	}
	rootCmd.PersistentFlags().StringVarP(&controlURL, "url", "u",
		"tcp://127.0.0.1:3205", "ap.linkd control endpoint")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Args:  cobra.NoArgs,
		Short: "Summarize the daemon",
		RunE:  doStatus,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:     "stations",
		Args:    cobra.NoArgs,
		Short:   "List tracked stations",
		Aliases: []string{"ls"},
		RunE:    doStations,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "show <mac>",
		Args:  cobra.ExactArgs(1),
		Short: "Show one station in detail",
		RunE:  doShow,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "table <mac>",
		Args:  cobra.ExactArgs(1),
		Short: "Show a station's retry table",
		RunE:  doTable,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "amsdu <mac>",
		Args:  cobra.ExactArgs(1),
		Short: "Show a station's AMSDU state",
		RunE:  doAmsdu,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "fixed <mac> <mode:index[:bw[:nss[:guard[:antenna]]]] | clear>",
		Args:  cobra.ExactArgs(2),
		Short: "Pin a station to one rate, or clear the pin",
		RunE:  doFixed,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "loglevel <debug|info|warn|error>",
		Args:  cobra.ExactArgs(1),
		Short: "Change the daemon's logging level",
		RunE:  doLogLevel,
	})

	if err := envcfg.Unmarshal(&environ); err != nil {
		fmt.Fprintf(os.Stderr, "environment error: %v\n", err)
		os.Exit(1)
	}
	if environ.ControlURL != "" {
		rootCmd.PersistentFlags().Lookup("url").DefValue = environ.ControlURL
		controlURL = environ.ControlURL
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
