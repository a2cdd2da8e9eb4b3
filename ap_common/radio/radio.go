/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package radio

import (
	"os"
	"sync"

	"bglink/common/wifi"

	"github.com/pkg/errors"
)

// Chip encapsulates the differences between the radio chips we drive.  The
// capability fields bound what the rate engine may select for any station
// associated through that chip.
type Chip struct {
	name string

	TxChainMask      int  // antennas wired for transmit
	NonSharedAntenna int  // antenna not shared with bluetooth
	MaxMode          wifi.Mode
	TpcSteps         int  // 3dB power reduction steps; 0 disables TPC
	Block2xLtf       bool // firmware cannot use the 2x LTF HE variants
	ToggleAntenna    bool // per-row antenna control in the retry table

	// Per-band ceilings.
	MaxBandwidth map[string]wifi.Bandwidth
}

var (
	chipLock sync.Mutex
	chip     *Chip

	// mt7603: 2x2 802.11n, 2.4GHz only.  No transmit power loop in
	// firmware.
	mt7603 = Chip{
		name:             "mt7603",
		TxChainMask:      wifi.AntennaAB,
		NonSharedAntenna: wifi.AntennaA,
		MaxMode:          wifi.ModeHT,
		TpcSteps:         0,
		MaxBandwidth: map[string]wifi.Bandwidth{
			wifi.LoBand: wifi.BW40,
		},
	}

	// mt7615: 2x2 802.11ac wave2.
	mt7615 = Chip{
		name:             "mt7615",
		TxChainMask:      wifi.AntennaAB,
		NonSharedAntenna: wifi.AntennaA,
		MaxMode:          wifi.ModeVHT,
		TpcSteps:         5,
		ToggleAntenna:    true,
		MaxBandwidth: map[string]wifi.Bandwidth{
			wifi.LoBand: wifi.BW40,
			wifi.HiBand: wifi.BW80,
		},
	}

	// mt7915: 2x2 802.11ax.  Early firmware drops frames sent with the
	// 2x LTF guard variants, so those stay off the table.
	mt7915 = Chip{
		name:             "mt7915",
		TxChainMask:      wifi.AntennaAB,
		NonSharedAntenna: wifi.AntennaB,
		MaxMode:          wifi.ModeHE,
		TpcSteps:         5,
		ToggleAntenna:    true,
		Block2xLtf:       true,
		MaxBandwidth: map[string]wifi.Bandwidth{
			wifi.LoBand: wifi.BW40,
			wifi.HiBand: wifi.BW160,
		},
	}

	knownChips = []*Chip{&mt7603, &mt7615, &mt7915}
)

// ChipByName returns the named chip's capability structure.
func ChipByName(name string) (*Chip, error) {
	for _, c := range knownChips {
		if c.name == name {
			return c, nil
		}
	}
	return nil, errors.Errorf("unsupported radio chip: %s", name)
}

// GetChip returns a handle to the chip this node carries.  The BGRADIO
// environment variable forces a selection; otherwise the first chip in the
// table is assumed.
func GetChip() (*Chip, error) {
	chipLock.Lock()
	defer chipLock.Unlock()

	if chip != nil {
		return chip, nil
	}

	name := os.Getenv("BGRADIO")
	if name == "" {
		chip = knownChips[0]
		return chip, nil
	}

	c, err := ChipByName(name)
	if err != nil {
		return nil, err
	}
	chip = c
	return chip, nil
}

// GetName returns the chip's name.
func (c *Chip) GetName() string {
	return c.name
}

// SupportsBand returns true if the chip can operate in the named band.
func (c *Chip) SupportsBand(band string) bool {
	_, ok := c.MaxBandwidth[band]
	return ok
}

// Radio carries a chip plus the conditions that change at runtime: which
// antennas the driver currently owns, whether bluetooth coex has claimed
// the shared antenna, and whether the power policy lets the chip sleep.
// The driver updates it; the rate engine reads it.
type Radio struct {
	sync.Mutex

	chip *Chip

	antennaMask  int
	coexAntenna  bool
	sleepAllowed bool
}

// NewRadio returns a Radio for the chip with all wired antennas available
// and sleep disallowed until the driver reports otherwise.
func NewRadio(c *Chip) *Radio {
	return &Radio{
		chip:        c,
		antennaMask: c.TxChainMask,
	}
}

// Chip returns the underlying chip.
func (r *Radio) Chip() *Chip {
	return r.chip
}

// SetAntennaMask replaces the set of antennas available for transmit.  The
// mask is clipped to the chip's wiring.
func (r *Radio) SetAntennaMask(mask int) {
	r.Lock()
	defer r.Unlock()
	r.antennaMask = mask & r.chip.TxChainMask
}

// SetCoexAntenna records whether bluetooth currently owns the shared
// antenna.
func (r *Radio) SetCoexAntenna(owned bool) {
	r.Lock()
	defer r.Unlock()
	r.coexAntenna = owned
}

// SetSleepAllowed records whether the power policy permits chip sleep.
func (r *Radio) SetSleepAllowed(allowed bool) {
	r.Lock()
	defer r.Unlock()
	r.sleepAllowed = allowed
}

// AntennaMask returns the antennas currently available for transmit.  Coex
// claims are reported separately; callers that care apply them on top.
func (r *Radio) AntennaMask() int {
	r.Lock()
	defer r.Unlock()
	return r.antennaMask
}

// CoexAntenna returns true while bluetooth owns the shared antenna.
func (r *Radio) CoexAntenna() bool {
	r.Lock()
	defer r.Unlock()
	return r.coexAntenna
}

// SleepAllowed returns true if the power policy permits chip sleep.
func (r *Radio) SleepAllowed() bool {
	r.Lock()
	defer r.Unlock()
	return r.sleepAllowed
}
