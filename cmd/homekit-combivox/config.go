package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/brutella/hap/characteristic"
	client "github.com/ptessarolo/homekit-combivox"
	"golang.org/x/exp/slices"
)

type Config struct {
	Host string `env:"HOST,notEmpty"`
	Port string `env:"PORT"          envDefault:"80"`
	Code string `env:"CODE,notEmpty"`

	MotionZones  []int    `env:"MOTION"`
	ContactZones []int    `env:"CONTACT"`
	BypassZones  []int    `env:"BYPASS"`
	ZoneNames    []string `env:"ZONE_NAMES"`

	AwayAreas  []int  `env:"AWAY,notEmpty"`
	StayAreas  []int  `env:"STAY"`
	NightAreas []int  `env:"NIGHT"`
	AwayMode   string `env:"AWAY_MODE"  envDefault:"normal"`
	StayMode   string `env:"STAY_MODE"  envDefault:"normal"`
	NightMode  string `env:"NIGHT_MODE" envDefault:"normal"`

	// macros to run instead of arming areas directly; configured areas
	// win over a macro for the same mode
	AwayMacro  int `env:"AWAY_MACRO"`
	StayMacro  int `env:"STAY_MACRO"`
	NightMacro int `env:"NIGHT_MACRO"`

	Switches []int `env:"SWITCHES"`
	Macros   []int `env:"MACROS"`

	ClearMemoryAfter time.Duration `env:"CLEAR_MEMORY_AFTER"`
	PollInterval     time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	CacheDir         string        `env:"CACHE_DIR"`
	Address          string        `env:"LISTEN" envDefault:":8080"`
}

// modeConfig is how one HomeKit arm state maps onto the panel.
type modeConfig struct {
	areas []int
	mode  client.ArmMode
	macro int
}

func (c Config) mode(state int) (modeConfig, bool) {
	switch state {
	case characteristic.SecuritySystemTargetStateStayArm:
		return modeConfig{c.StayAreas, parseArmMode(c.StayMode), c.StayMacro}, len(c.StayAreas) > 0 || c.StayMacro > 0
	case characteristic.SecuritySystemTargetStateNightArm:
		return modeConfig{c.NightAreas, parseArmMode(c.NightMode), c.NightMacro}, len(c.NightAreas) > 0 || c.NightMacro > 0
	case characteristic.SecuritySystemTargetStateAwayArm:
		return modeConfig{c.AwayAreas, parseArmMode(c.AwayMode), c.AwayMacro}, true
	default:
		return modeConfig{}, false
	}
}

func parseArmMode(s string) client.ArmMode {
	switch strings.ToLower(s) {
	case "immediate":
		return client.ArmImmediate
	case "forced":
		return client.ArmForced
	default:
		return client.ArmNormal
	}
}

type zoneKind uint8

const (
	kindMotion zoneKind = iota + 1
	kindContact
)

func (z zoneKind) String() string {
	switch z {
	case kindMotion:
		return "motion"
	default:
		return "contact"
	}
}

type zoneConfig struct {
	number      int
	name        string
	kind        zoneKind
	allowBypass bool
}

func (c Config) zoneName(n int, labels client.Labels) string {
	if len(c.ZoneNames) > n-1 && c.ZoneNames[n-1] != "" {
		return c.ZoneNames[n-1]
	}
	if name, ok := labels.Zones[n]; ok {
		return name
	}
	return fmt.Sprintf("Zone %d", n)
}

type allZoneConfigs []zoneConfig

func (a allZoneConfigs) String() string {
	var zones []string
	for _, zone := range a {
		zones = append(
			zones,
			fmt.Sprintf("zone %d: %q (%s)", zone.number, zone.name, zone.kind.String()),
		)
	}
	return strings.Join(zones, "\n")
}

func (c Config) allZones(labels client.Labels) []zoneConfig {
	var zones []zoneConfig
	for _, z := range c.MotionZones {
		zones = append(zones, zoneConfig{
			number:      z,
			name:        c.zoneName(z, labels),
			kind:        kindMotion,
			allowBypass: slices.Contains(c.BypassZones, z),
		})
	}
	for _, z := range c.ContactZones {
		zones = append(zones, zoneConfig{
			number:      z,
			name:        c.zoneName(z, labels),
			kind:        kindContact,
			allowBypass: slices.Contains(c.BypassZones, z),
		})
	}
	slices.SortFunc(zones, func(a, b zoneConfig) int {
		if a.number > b.number {
			return 1
		}
		return -1
	})
	return zones
}

func (c Config) getAlarmState(snap client.Snapshot) int {
	if snap.State.Triggered() {
		return characteristic.SecuritySystemCurrentStateAlarmTriggered
	}

	armed := snap.Areas.Areas()
	if len(armed) == 0 {
		return characteristic.SecuritySystemCurrentStateDisarmed
	}
	if slices.Equal(c.NightAreas, armed) {
		return characteristic.SecuritySystemCurrentStateNightArm
	}
	if slices.Equal(c.StayAreas, armed) {
		return characteristic.SecuritySystemCurrentStateStayArm
	}
	if slices.Equal(c.AwayAreas, armed) {
		return characteristic.SecuritySystemCurrentStateAwayArm
	}

	// armed in a combination no mode describes, away is the closest
	return characteristic.SecuritySystemCurrentStateAwayArm
}
