package main

import (
	"net/http"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	client "github.com/ptessarolo/homekit-combivox"
)

type SecuritySystem struct {
	*accessory.A
	SecuritySystem *service.SecuritySystem
	Fault          *characteristic.StatusFault

	cfg     Config
	execute Executor
}

func NewSecuritySystem(info accessory.Info, cfg Config, execute Executor) *SecuritySystem {
	a := &SecuritySystem{
		cfg:     cfg,
		execute: execute,
	}
	a.A = accessory.New(info, accessory.TypeSecuritySystem)

	a.SecuritySystem = service.NewSecuritySystem()
	a.AddS(a.SecuritySystem.S)

	a.Fault = characteristic.NewStatusFault()
	a.SecuritySystem.AddC(a.Fault.C)

	a.SecuritySystem.SecuritySystemTargetState.SetValueRequestFunc = a.updateHandler

	return a
}

func (a *SecuritySystem) Update(snap client.Snapshot) {
	state := a.cfg.getAlarmState(snap)
	armStateGauge.Set(float64(state))
	anomalyGauge.Set(float64(snap.Anomaly))
	gsmSignalGauge.Set(float64(snap.GSM.SignalBars))

	if a.SecuritySystem.SecuritySystemCurrentState.Value() != state {
		err := a.SecuritySystem.SecuritySystemCurrentState.SetValue(state)
		log.Info("set current state", "state", state, "err", err)
	}

	if v := boolAs[int](snap.Anomaly != client.AnomalyNone); a.Fault.Value() != v {
		_ = a.Fault.SetValue(v)
		log.Info("alarm status", "anomaly", snap.Anomaly.String())
	}
}

func (a *SecuritySystem) updateHandler(
	v interface{},
	_ *http.Request,
) (response interface{}, code int) {
	target := v.(int)

	if target == characteristic.SecuritySystemTargetStateDisarm {
		log.Info("disarm")
		if err := a.execute(func(cli *client.Client) error {
			return cli.Disarm(ctx(), nil)
		}); err != nil {
			log.Error("could not disarm", "err", err)
			return nil, hap.JsonStatusResourceBusy
		}
		if a.cfg.ClearMemoryAfter > 0 {
			go func() {
				time.Sleep(a.cfg.ClearMemoryAfter)
				log.Info("clearing alarm memory")
				if err := a.execute(func(cli *client.Client) error {
					return cli.ClearMemory(ctx())
				}); err != nil {
					log.Error("could not clear alarm memory", "err", err)
				}
			}()
		}
		return nil, hap.JsonStatusSuccess
	}

	mode, ok := a.cfg.mode(target)
	if !ok {
		return nil, hap.JsonStatusResourceDoesNotExist
	}

	// switching between armed states goes through a disarm first, so the
	// new mask never ORs into the previous one
	if err := a.execute(func(cli *client.Client) error {
		return cli.Disarm(ctx(), nil)
	}); err != nil {
		log.Error("could not disarm before re-arming", "err", err)
		return nil, hap.JsonStatusResourceBusy
	}

	if len(mode.areas) > 0 {
		log.Info("arm", "areas", mode.areas, "mode", mode.mode)
		if err := a.execute(func(cli *client.Client) error {
			return cli.Arm(ctx(), mode.areas, mode.mode)
		}); err != nil {
			log.Error("could not arm", "err", err)
			return nil, hap.JsonStatusResourceBusy
		}
		return nil, hap.JsonStatusSuccess
	}

	log.Info("arm via macro", "macro", mode.macro)
	if err := a.execute(func(cli *client.Client) error {
		return cli.RunMacro(ctx(), mode.macro)
	}); err != nil {
		log.Error("could not run macro", "err", err)
		return nil, hap.JsonStatusResourceBusy
	}
	return nil, hap.JsonStatusSuccess
}
