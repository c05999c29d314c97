package combivox

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// The status blob has no fixed schema. Everything hangs off a 3-byte
// FF FF FF sentinel followed by a 00 00 or 01 01 discriminator, whose
// position depends on whether the firmware inserts a 16-byte operator-name
// block after the header.
const (
	markerBase     = 32
	markerExtended = markerBase + operatorBlockLen

	headerLen        = 10
	operatorBlockLen = 16
)

// Offsets relative to the marker. Backward offsets are negative on
// purpose: absolute positions differ between web-interface variants and
// must never be used.
const (
	offState       = -16
	offProgStatus  = -14
	offProgFlag    = -13
	offArmingTimer = -11
	offAreas       = -5

	offZonesOpen     = 5 // marker (3) + padding (2)
	offZonesIncluded = offZonesOpen + zoneMapLen + 2
	offAnomaly       = offZonesIncluded + zoneMapLen + 84

	zoneMapLen = MaxZones / 8
)

// Trailing regions are anchored to the end of the blob, not the marker.
const (
	tailMemory   = zoneMapLen
	tailSwitches = 260
	tailDomotic  = 242
)

type layout struct {
	marker   int
	extended bool
	total    int
}

// Decode turns the raw hex status blob into a Snapshot. It is pure and
// never fails loudly: on any structural anomaly it returns a snapshot
// with Decoded false and only RawHex set, so callers fail closed instead
// of acting on garbage.
func Decode(rawHex string) Snapshot {
	snap := Snapshot{RawHex: rawHex}

	buf, err := hex.DecodeString(strings.TrimSpace(rawHex))
	if err != nil {
		return snap
	}

	lay, ok := locateMarker(buf)
	if !ok {
		return snap
	}
	m := lay.marker

	// Everything below reads relative to the marker. The marker position
	// guarantees the backward reads; the forward reads and the tail
	// bitmap still need the blob to be long enough.
	if m+offAnomaly >= len(buf) || len(buf) < tailMemory {
		return snap
	}

	state := State(buf[m+offState])
	switch state {
	case StateDisarmedNoGSM, StateDisarmed, StateArmedDelay,
		StateArming, StatePending, StateTriggered, StateTriggeredNoGSM:
	default:
		// Fail closed: a state byte we cannot name is a layout we have
		// not characterized.
		return snap
	}

	snap.State = state
	snap.Programming = buf[m+offProgStatus] > 0 && buf[m+offProgFlag] > 0
	snap.ArmingTimer = int(buf[m+offArmingTimer])
	snap.Areas = AreaMask(buf[m+offAreas])

	copy(snap.ZonesOpen[:], buf[m+offZonesOpen:m+offZonesOpen+zoneMapLen])
	copy(snap.ZonesIncluded[:], buf[m+offZonesIncluded:m+offZonesIncluded+zoneMapLen])
	copy(snap.ZonesMemory[:], buf[len(buf)-tailMemory:])
	snap.Anomaly = Anomaly(buf[m+offAnomaly])

	snap.GSM = decodeGSM(buf, lay)

	if len(buf) >= tailSwitches {
		copy(snap.Switches[:], buf[len(buf)-tailSwitches:])
		copy(snap.Domotic[:], buf[len(buf)-tailDomotic:])
		snap.HasSwitchState = true
	}

	snap.Decoded = true
	return snap
}

// locateMarker scans the whole blob for the sentinel and keeps only
// candidates sitting where a known layout puts them: right after the
// base header, or 16 bytes later when the operator-name block is present.
// Anything else (no candidate, or candidates disagreeing on the layout)
// rejects the decode.
func locateMarker(buf []byte) (layout, bool) {
	var plausible []int
	for i := 0; i+5 <= len(buf); i++ {
		if buf[i] != 0xff || buf[i+1] != 0xff || buf[i+2] != 0xff {
			continue
		}
		d1, d2 := buf[i+3], buf[i+4]
		if !(d1 == 0x00 && d2 == 0x00) && !(d1 == 0x01 && d2 == 0x01) {
			continue
		}
		if i == markerBase || i == markerExtended {
			plausible = append(plausible, i)
		}
	}
	if len(plausible) != 1 {
		return layout{}, false
	}
	return layout{
		marker:   plausible[0],
		extended: plausible[0] == markerExtended,
		total:    len(buf),
	}, true
}

// decodeGSM reads the fixed 10-byte header and, when present, the
// operator-name block that follows it.
func decodeGSM(buf []byte, lay layout) GSM {
	gsm := GSM{
		SignalBars: int(buf[2]),
		Operator:   Operator(buf[5]),
		Status:     GSMStatus(buf[6]),
	}
	if buf[2] == 0xff || gsm.SignalBars > 5 {
		gsm.SignalBars = -1
	}

	gsm.SIMExpiry = SIMExpiry{Month: int(buf[7]), Day: int(buf[8])}
	if buf[9] != 0xff {
		gsm.SIMExpiry.Year = 2000 + int(buf[9])
	}

	if lay.extended {
		gsm.OperatorName = cleanName(buf[headerLen : headerLen+operatorBlockLen])
	}
	return gsm
}

// cleanName strips the 0x00/0xff padding the firmware fills name fields
// with and drops anything non-printable.
func cleanName(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 && c < 0x7f {
			sb.WriteByte(c)
		}
	}
	return strings.TrimSpace(sb.String())
}

// ParseClock decodes the 6-byte <cd> field (DD MM YY HH MM SS) into the
// panel's wall clock, in local time.
func ParseClock(cdHex string) (time.Time, error) {
	buf, err := hex.DecodeString(strings.TrimSpace(cdHex))
	if err != nil {
		return time.Time{}, fmt.Errorf("could not parse panel clock: %w", err)
	}
	if len(buf) != 6 {
		return time.Time{}, fmt.Errorf("could not parse panel clock: want 6 bytes, got %d", len(buf))
	}
	day, month, year := int(buf[0]), int(buf[1]), 2000+int(buf[2])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("could not parse panel clock: bad date %02d/%02d", day, month)
	}
	return time.Date(
		year, time.Month(month), day,
		int(buf[3]), int(buf[4]), int(buf[5]),
		0, time.Local,
	), nil
}
