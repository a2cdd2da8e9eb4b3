/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package ratescale

import (
	"fmt"

	"bglink/ap_common/aputil"
	"bglink/common/wifi"
)

// Rate is a fully-specified transmit rate, as it appears in the retry table
// commands sent down to the hardware and in the control protocol.  Index is a
// per-stream MCS for HT/VHT/HE rates, or an index into wifi.LegacyRates.
type Rate struct {
	Mode      wifi.Mode
	Index     int
	Bandwidth wifi.Bandwidth
	Guard     wifi.GuardInterval
	Antenna   int
	Nss       int
	Stbc      bool
	Ldpc      bool
}

func (r Rate) String() string {
	if r.Mode == wifi.ModeLegacy {
		mbps10 := 0
		if r.Index >= 0 && r.Index < wifi.NumLegacyRates {
			mbps10 = wifi.LegacyRates[r.Index].Mbps10
		}
		return fmt.Sprintf("legacy-%d.%dM/%s", mbps10/10, mbps10%10,
			wifi.AntennaName(r.Antenna))
	}
	return fmt.Sprintf("%v-mcs%d/%dss/%v/%v/%s", r.Mode, r.Index, r.Nss,
		r.Bandwidth, r.Guard, wifi.AntennaName(r.Antenna))
}

type rateField uint8

const (
	fieldMode rateField = 1 << iota
	fieldIndex
	fieldBandwidth
	fieldGuard
	fieldAntenna
	fieldNss

	allRateFields = fieldMode | fieldIndex | fieldBandwidth | fieldGuard |
		fieldAntenna | fieldNss
)

var rateFieldNames = map[rateField]string{
	fieldMode:      "mode",
	fieldIndex:     "index",
	fieldBandwidth: "bandwidth",
	fieldGuard:     "guard",
	fieldAntenna:   "antenna",
	fieldNss:       "nss",
}

// rateDesc is a rate under construction.  Every logical field must be
// explicitly written after a mode reset before it may be read back; reading
// an unset field is a programming error and fails loudly.
type rateDesc struct {
	set rateField

	mode      wifi.Mode
	index     int
	bandwidth wifi.Bandwidth
	guard     wifi.GuardInterval
	antenna   int
	nss       int
	stbc      bool
	ldpc      bool
}

func (r *rateDesc) mustHave(f rateField) {
	if r.set&f != f {
		aputil.ReportError("rate field %q read before being set",
			rateFieldNames[f])
		panic(fmt.Sprintf("unset rate field %q", rateFieldNames[f]))
	}
}

// ResetMode discards every field and starts a fresh descriptor in the given
// mode.  STBC and LDPC reset to off; they are optional decorations rather
// than tracked fields.
func (r *rateDesc) ResetMode(mode wifi.Mode) {
	*r = rateDesc{set: fieldMode, mode: mode}
}

func (r *rateDesc) SetIndex(idx int)               { r.index = idx; r.set |= fieldIndex }
func (r *rateDesc) SetBandwidth(bw wifi.Bandwidth) { r.bandwidth = bw; r.set |= fieldBandwidth }
func (r *rateDesc) SetGuard(gi wifi.GuardInterval) { r.guard = gi; r.set |= fieldGuard }
func (r *rateDesc) SetAntenna(mask int)            { r.antenna = mask; r.set |= fieldAntenna }
func (r *rateDesc) SetNss(nss int)                 { r.nss = nss; r.set |= fieldNss }
func (r *rateDesc) SetStbc(on bool)                { r.stbc = on }
func (r *rateDesc) SetLdpc(on bool)                { r.ldpc = on }

func (r *rateDesc) Mode() wifi.Mode {
	r.mustHave(fieldMode)
	return r.mode
}

func (r *rateDesc) Index() int {
	r.mustHave(fieldIndex)
	return r.index
}

func (r *rateDesc) Bandwidth() wifi.Bandwidth {
	r.mustHave(fieldBandwidth)
	return r.bandwidth
}

func (r *rateDesc) Guard() wifi.GuardInterval {
	r.mustHave(fieldGuard)
	return r.guard
}

func (r *rateDesc) Antenna() int {
	r.mustHave(fieldAntenna)
	return r.antenna
}

func (r *rateDesc) Nss() int {
	r.mustHave(fieldNss)
	return r.nss
}

func (r *rateDesc) Stbc() bool { return r.stbc }
func (r *rateDesc) Ldpc() bool { return r.ldpc }

// Complete returns true once every tracked field has been set.
func (r *rateDesc) Complete() bool {
	return r.set == allRateFields
}

// Snapshot freezes a complete descriptor into a Rate.  Each getter asserts
// its own field, so an incomplete descriptor names the missing piece.
func (r *rateDesc) Snapshot() Rate {
	return Rate{
		Mode:      r.Mode(),
		Index:     r.Index(),
		Bandwidth: r.Bandwidth(),
		Guard:     r.Guard(),
		Antenna:   r.Antenna(),
		Nss:       r.Nss(),
		Stbc:      r.stbc,
		Ldpc:      r.ldpc,
	}
}
