package main

import (
	"net/http"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/service"
	client "github.com/ptessarolo/homekit-combivox"
)

type AlarmSensors []*AlarmSensor

func (sensors AlarmSensors) Update(snap client.Snapshot) {
	for _, s := range sensors {
		s.Update(snap)
	}
}

// AlarmSensor is one zone: a contact or motion sensor, plus an optional
// bypass switch. The switch is ON while the zone is included, matching
// the panel's own UI.
type AlarmSensor struct {
	*accessory.A
	zone    int
	kind    zoneKind
	Motion  *service.MotionSensor
	Contact *service.ContactSensor
	Bypass  *service.Switch

	execute Executor
}

func newAlarmSensor(info accessory.Info, zc zoneConfig, execute Executor) *AlarmSensor {
	a := &AlarmSensor{
		zone:    zc.number,
		kind:    zc.kind,
		execute: execute,
	}
	a.A = accessory.New(info, accessory.TypeSensor)

	switch zc.kind {
	case kindContact:
		a.Contact = service.NewContactSensor()
		a.AddS(a.Contact.S)
	case kindMotion:
		a.Motion = service.NewMotionSensor()
		a.AddS(a.Motion.S)
	}

	if zc.allowBypass {
		a.Bypass = service.NewSwitch()
		a.Bypass.On.SetValueRequestFunc = a.bypassHandler
		a.AddS(a.Bypass.S)
	}

	return a
}

// bypassHandler flips zone inclusion. The panel only has a toggle, so a
// request that matches the current state is a no-op.
func (a *AlarmSensor) bypassHandler(v interface{}, _ *http.Request) (interface{}, int) {
	want := v.(bool)
	if a.Bypass.On.Value() == want {
		return nil, hap.JsonStatusSuccess
	}
	log.Info("toggle bypass", "zone", a.zone, "include", want)
	if err := a.execute(func(cli *client.Client) error {
		return cli.Bypass(ctx(), a.zone)
	}); err != nil {
		log.Error("could not toggle bypass", "zone", a.zone, "err", err)
		return nil, hap.JsonStatusResourceBusy
	}
	return nil, hap.JsonStatusSuccess
}

func (a *AlarmSensor) Update(snap client.Snapshot) {
	open := snap.ZonesOpen.Zone(a.zone)
	included := snap.ZonesIncluded.Zone(a.zone)

	openGauge.WithLabelValues(a.Name()).Set(boolAs[float64](open))
	bypassedGauge.WithLabelValues(a.Name()).Set(boolAs[float64](!included))
	memoryGauge.WithLabelValues(a.Name()).Set(boolAs[float64](snap.ZonesMemory.Zone(a.zone)))

	if a.Bypass != nil && a.Bypass.On.Value() != included {
		log.Info("bypass", "zone", a.zone, "included", included)
		a.Bypass.On.SetValue(included)
	}

	switch a.kind {
	case kindContact:
		current := boolAs[int](open)
		if a.Contact.ContactSensorState.Value() != current {
			_ = a.Contact.ContactSensorState.SetValue(current)
			log.Info("contact", "zone", a.zone, "open", open)
		}
	case kindMotion:
		if a.Motion.MotionDetected.Value() != open {
			a.Motion.MotionDetected.SetValue(open)
			log.Info("motion", "zone", a.zone, "detected", open)
		}
	}
}

func setupZones(execute Executor, cfg Config, labels client.Labels) AlarmSensors {
	var sensors AlarmSensors
	for i, zc := range cfg.allZones(labels) {
		sensor := newAlarmSensor(accessory.Info{
			Name:         zc.name,
			Manufacturer: manufacturer,
		}, zc, execute)
		sensor.Id = uint64(10 + i)
		sensors = append(sensors, sensor)
	}
	return sensors
}
