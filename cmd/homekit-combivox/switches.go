package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	client "github.com/ptessarolo/homekit-combivox"
)

// OutputSwitch is one programmable output. Latching outputs read their
// state back from the status blob; momentary ones flip off again right
// after firing.
type OutputSwitch struct {
	*accessory.Switch
	command  int
	latching bool

	execute Executor
}

func newOutputSwitch(id int, out client.Output, execute Executor) *OutputSwitch {
	s := &OutputSwitch{
		Switch: accessory.NewSwitch(accessory.Info{
			Name:         out.Name,
			Manufacturer: manufacturer,
		}),
		command:  id,
		latching: out.Kind == client.OutputSwitch,
		execute:  execute,
	}
	s.Switch.Switch.On.SetValueRequestFunc = s.handler
	return s
}

func (s *OutputSwitch) handler(v interface{}, _ *http.Request) (interface{}, int) {
	on := v.(bool)
	log.Info("switch", "command", s.command, "on", on)
	if err := s.execute(func(cli *client.Client) error {
		return cli.SetSwitch(ctx(), s.command, on)
	}); err != nil {
		log.Error("could not drive output", "command", s.command, "err", err)
		return nil, hap.JsonStatusResourceBusy
	}
	if !s.latching && on {
		go func() {
			time.Sleep(time.Second)
			s.Switch.Switch.On.SetValue(false)
		}()
	}
	return nil, hap.JsonStatusSuccess
}

func (s *OutputSwitch) Update(snap client.Snapshot) {
	if !s.latching || !snap.HasSwitchState {
		return
	}
	on := snap.Switches.On(s.command)
	if s.command >= 145 {
		on = snap.Domotic.On(s.command)
	}
	switchGauge.WithLabelValues(s.Switch.Name()).Set(boolAs[float64](on))
	if s.Switch.Switch.On.Value() != on {
		s.Switch.Switch.On.SetValue(on)
		log.Info("output changed", "command", s.command, "on", on)
	}
}

type OutputSwitches []*OutputSwitch

func (switches OutputSwitches) Update(snap client.Snapshot) {
	for _, s := range switches {
		s.Update(snap)
	}
}

func setupSwitches(execute Executor, cfg Config, labels client.Labels) OutputSwitches {
	var switches OutputSwitches
	for i, id := range cfg.Switches {
		out, ok := labels.Outputs[id]
		if !ok {
			out = client.Output{Name: fmt.Sprintf("Output %d", id), Kind: client.OutputButton}
		}
		s := newOutputSwitch(id, out, execute)
		s.Id = uint64(400 + i)
		switches = append(switches, s)
	}
	return switches
}

// MacroButton runs a panel scenario when flipped on.
type MacroButton struct {
	*accessory.Switch
	macro   int
	execute Executor
}

func newMacroButton(id int, name string, execute Executor) *MacroButton {
	b := &MacroButton{
		Switch: accessory.NewSwitch(accessory.Info{
			Name:         name,
			Manufacturer: manufacturer,
		}),
		macro:   id,
		execute: execute,
	}
	b.Switch.Switch.On.SetValueRequestFunc = b.handler
	return b
}

func (b *MacroButton) handler(v interface{}, _ *http.Request) (interface{}, int) {
	if !v.(bool) {
		return nil, hap.JsonStatusSuccess
	}
	log.Info("run macro", "macro", b.macro)
	if err := b.execute(func(cli *client.Client) error {
		return cli.RunMacro(ctx(), b.macro)
	}); err != nil {
		log.Error("could not run macro", "macro", b.macro, "err", err)
		return nil, hap.JsonStatusResourceBusy
	}
	go func() {
		time.Sleep(time.Second)
		b.Switch.Switch.On.SetValue(false)
	}()
	return nil, hap.JsonStatusSuccess
}

func setupMacros(execute Executor, cfg Config, labels client.Labels) []*MacroButton {
	var buttons []*MacroButton
	for i, id := range cfg.Macros {
		name, ok := labels.Macros[id]
		if !ok {
			name = fmt.Sprintf("Macro %d", id)
		}
		b := newMacroButton(id, name, execute)
		b.Id = uint64(500 + i)
		buttons = append(buttons, b)
	}
	return buttons
}
