package combivox

import "time"

// MaxZones is the largest zone map any panel variant reports.
const MaxZones = 320

// MaxAreas is fixed across all known firmwares.
const MaxAreas = 8

// State is the panel alarm state byte as reported in the status blob.
type State byte

const (
	StateDisarmedNoGSM  State = 0x08
	StateDisarmed       State = 0x0c
	StateArmedDelay     State = 0x0d
	StateArming         State = 0x0e
	StatePending        State = 0x8d
	StateTriggered      State = 0x8c
	StateTriggeredNoGSM State = 0x88
)

func (s State) String() string {
	switch s {
	case StateDisarmedNoGSM:
		return "Disarmed (GSM excluded)"
	case StateDisarmed:
		return "Disarmed"
	case StateArmedDelay:
		return "Armed (exit delay)"
	case StateArming:
		return "Arming"
	case StatePending:
		return "Pending"
	case StateTriggered:
		return "Triggered"
	case StateTriggeredNoGSM:
		return "Triggered (GSM excluded)"
	default:
		return "Unknown"
	}
}

// Triggered reports whether the panel is firing, with or without GSM.
func (s State) Triggered() bool {
	return s == StateTriggered || s == StateTriggeredNoGSM
}

// Armed reports whether any arming-ish state is active.
func (s State) Armed() bool {
	switch s {
	case StateArmedDelay, StateArming, StatePending,
		StateTriggered, StateTriggeredNoGSM:
		return true
	}
	return false
}

// Anomaly is the panel trouble byte.
type Anomaly byte

const (
	AnomalyNone Anomaly = 0x00
	AnomalyBus  Anomaly = 0x01
	AnomalyGSM  Anomaly = 0x40
)

func (a Anomaly) String() string {
	switch a {
	case AnomalyNone:
		return "OK"
	case AnomalyBus:
		return "Bus trouble"
	case AnomalyGSM:
		return "GSM trouble"
	default:
		return "Unknown"
	}
}

// Known reports whether the anomaly byte maps to a characterized value.
func (a Anomaly) Known() bool {
	switch a {
	case AnomalyNone, AnomalyBus, AnomalyGSM:
		return true
	}
	return false
}

// Operator is the GSM network operator code from the blob header.
type Operator byte

const (
	OperatorOther    Operator = 0x00
	OperatorVodafone Operator = 0x01
	OperatorTIM      Operator = 0x02
	OperatorWind     Operator = 0x03
	OperatorCombivox Operator = 0x04
	OperatorUnknown  Operator = 0xff
)

func (o Operator) String() string {
	switch o {
	case OperatorOther:
		return "Other"
	case OperatorVodafone:
		return "Vodafone"
	case OperatorTIM:
		return "TIM"
	case OperatorWind:
		return "Wind"
	case OperatorCombivox:
		return "Combivox"
	default:
		return "Unknown"
	}
}

// GSMStatus is the GSM module status code from the blob header.
type GSMStatus byte

const (
	GSMStatusOK        GSMStatus = 0x00
	GSMStatusSearching GSMStatus = 0x04
	GSMStatusNoSIM     GSMStatus = 0x05
)

func (g GSMStatus) String() string {
	switch g {
	case GSMStatusOK, 0x08, 0x18:
		return "OK"
	case GSMStatusSearching:
		return "Searching"
	case GSMStatusNoSIM:
		return "No SIM"
	default:
		return "Unknown"
	}
}

// OK folds the several observed "registered" codes into one answer.
func (g GSMStatus) OK() bool {
	switch g {
	case 0x00, 0x08, 0x18:
		return true
	}
	return false
}

// GSM groups everything the header says about the cellular module.
type GSM struct {
	SignalBars   int // 0-5, -1 when the panel reports 0xff
	Operator     Operator
	OperatorName string // decoded from the extended block, empty otherwise
	Status       GSMStatus
	SIMExpiry    SIMExpiry
}

// SIMExpiry is the prepaid SIM expiry date. Year is 0 when unset.
type SIMExpiry struct {
	Month int
	Day   int
	Year  int
}

// Valid reports whether the panel has a plausible expiry date programmed.
func (e SIMExpiry) Valid() bool {
	return e.Month >= 1 && e.Month <= 12 && e.Day >= 1 && e.Day <= 31
}

// ZoneMap is a packed bitmap over zones 1..320, zone k·8+j+1 at bit j of
// byte k.
type ZoneMap [MaxZones / 8]byte

// Zone reports the bit for zone n (1-based). Out of range is false.
func (m ZoneMap) Zone(n int) bool {
	if n < 1 || n > MaxZones {
		return false
	}
	return m[(n-1)/8]&(1<<((n-1)%8)) > 0
}

// Zones returns the 1-based numbers of all set zones.
func (m ZoneMap) Zones() []int {
	var out []int
	for i, octet := range m {
		for j := 0; j < 8; j++ {
			if octet&(1<<j) > 0 {
				out = append(out, i*8+j+1)
			}
		}
	}
	return out
}

// AreaMask is the 8-area armed bitmask, area i+1 at bit i.
type AreaMask byte

// Armed reports whether area n (1-based) is armed.
func (m AreaMask) Armed(n int) bool {
	if n < 1 || n > MaxAreas {
		return false
	}
	return m&(1<<(n-1)) > 0
}

// Areas returns the 1-based ids of all armed areas.
func (m AreaMask) Areas() []int {
	var out []int
	for i := 0; i < MaxAreas; i++ {
		if m&(1<<i) > 0 {
			out = append(out, i+1)
		}
	}
	return out
}

// maskOf builds an AreaMask from 1-based area ids, ignoring out-of-range
// ids.
func maskOf(areas []int) AreaMask {
	var m AreaMask
	for _, a := range areas {
		if a >= 1 && a <= MaxAreas {
			m |= 1 << (a - 1)
		}
	}
	return m
}

// SwitchMap is the latching-command state bitmap, command k·8+j+1 at bit j
// of byte k. Covers commands 1..80.
type SwitchMap [10]byte

// On reports whether command n (1-based, 1..80) is active.
func (m SwitchMap) On(n int) bool {
	if n < 1 || n > 80 {
		return false
	}
	return m[(n-1)/8]&(1<<((n-1)%8)) > 0
}

// DomoticMap is the domotic module channel state region, one byte per
// channel. Channels are addressed by command id 145..208, two channels per
// module.
type DomoticMap [64]byte

const domoticBase = 145

// On reports whether the channel with command id n is on (0x07). Any other
// byte value, including unknown ones, reads as off.
func (m DomoticMap) On(n int) bool {
	if n < domoticBase || n >= domoticBase+len(m) {
		return false
	}
	return m[n-domoticBase] == 0x07
}

// Snapshot is one decoded status blob. When Decoded is false only RawHex
// is meaningful and consumers must not act on any other field.
type Snapshot struct {
	State          State
	Areas          AreaMask
	ZonesOpen      ZoneMap
	ZonesIncluded  ZoneMap
	ZonesMemory    ZoneMap
	Anomaly        Anomaly
	GSM            GSM
	ArmingTimer    int // seconds, raw byte value
	Programming    bool
	Switches       SwitchMap
	Domotic        DomoticMap
	HasSwitchState bool // blob long enough to carry the trailing regions

	// Clock is the panel wall clock reported alongside the blob, zero
	// when the response carried none.
	Clock time.Time

	RawHex  string // always retained for diagnostics
	Decoded bool
}
