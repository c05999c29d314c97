package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/caarlos0/env/v11"
	"github.com/cenkalti/backoff/v4"
	logp "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	client "github.com/ptessarolo/homekit-combivox"
)

//go:embed index.html
var index []byte

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "homekit",
})

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type Executor = func(func(cli *client.Client) error) error

const manufacturer = "Combivox"

func ctx() context.Context {
	return context.Background()
}

func boolAs[T int | float64](b bool) T {
	if b {
		return 1
	}
	return 0
}

func main() {
	log.Info(
		"homekit-combivox",
		"version", version,
		"commit", commit,
		"date", date,
		"info", "Homekit bridge for Combivox alarm systems with the AmicaWeb interface",
	)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(
			"could not parse env",
			"err",
			strings.TrimPrefix(strings.ReplaceAll(err.Error(), "; ", "\n"), "env: ")+"\n",
		)
	}

	cli, err := client.New(cfg.Host, cfg.Port, cfg.Code)
	if err != nil {
		log.Fatal("could not create panel client", "err", err)
	}
	defer func() {
		if err := cli.Close(); err != nil {
			log.Error("could not close panel client", "err", err)
		}
	}()

	var clientLock sync.Mutex
	execute := func(fn func(cli *client.Client) error) error {
		t := time.Now()
		clientLock.Lock()
		defer clientLock.Unlock()
		log.Debugf("got client lock after %s", time.Since(t))

		bo := backoff.NewExponentialBackOff()
		bo.MaxInterval = time.Second * 5
		bo.MaxElapsedTime = time.Minute

		return backoff.RetryNotify(func() error {
			requestCounter.Inc()
			if err := fn(cli); err != nil {
				requestErrorCounter.Inc()
				if errors.Is(err, client.ErrInvalidCredential) ||
					errors.Is(err, client.ErrNotAuthenticated) ||
					errors.Is(err, client.ErrRejected) {
					return backoff.Permanent(err)
				}
				return err
			}
			return nil
		}, bo, func(err error, _ time.Duration) {
			log.Error("command to panel failed", "err", err)
		})
	}

	labels := loadLabels(cfg, execute)

	var status client.Snapshot
	if err := execute(func(cli *client.Client) (err error) {
		status, err = cli.Status(ctx())
		return
	}); err != nil {
		log.Fatal("could not read the panel status", "err", err)
	}

	macAddr, err := client.MacAddress(cfg.Host)
	if err != nil {
		log.Warn(
			"could not get the mac address, needs 'cap_net_raw+ep' capabilities",
			"err", err,
		)
	}
	log.Info(
		"got alarm system information",
		"manufacturer", manufacturer,
		"state", status.State.String(),
		"gsm", status.GSM.Status.String(),
		"mac", macAddr,
	)
	log.Info(
		"loading accessories",
		"areas",
		strings.Join([]string{
			fmt.Sprintf("stay: %v", cfg.StayAreas),
			fmt.Sprintf("away: %v", cfg.AwayAreas),
			fmt.Sprintf("night: %v", cfg.NightAreas),
		}, "\n"),
		"zones", allZoneConfigs(cfg.allZones(labels)).String(),
	)

	bridge := accessory.NewBridge(accessory.Info{
		Name:         "Alarm Bridge",
		Manufacturer: manufacturer,
		Firmware:     version,
	})

	alarm := NewSecuritySystem(accessory.Info{
		Name:         "Alarm",
		SerialNumber: macAddr,
		Manufacturer: manufacturer,
		Firmware:     version,
	}, cfg, execute)
	alarm.Id = 2

	if state := cfg.getAlarmState(status); state >= 0 {
		err := alarm.SecuritySystem.SecuritySystemTargetState.SetValue(state)
		log.Info("set target state", "state", state, "err", err)
	}

	sensors := setupZones(execute, cfg, labels)
	switches := setupSwitches(execute, cfg, labels)
	macros := setupMacros(execute, cfg, labels)

	alarm.Update(status)
	sensors.Update(status)
	switches.Update(status)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller := client.NewPoller(cli, cfg.PollInterval)
	go func() {
		if err := poller.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("poller stopped", "err", err)
		}
	}()
	go func() {
		for {
			select {
			case <-rootCtx.Done():
				return
			case u := <-poller.Updates():
				availableGauge.Set(boolAs[float64](u.Available))
				if !u.Available {
					log.Warn("panel unavailable, keeping last known state")
					continue
				}
				alarm.Update(u.Snapshot)
				sensors.Update(u.Snapshot)
				switches.Update(u.Snapshot)
			}
		}
	}()

	fs := hap.NewFsStore("./db")
	server, err := hap.NewServer(
		fs, bridge.A,
		securityAccessories(alarm, sensors, switches, macros)...,
	)
	if err != nil {
		log.Fatal("fail to create server", "error", err)
	}
	server.Addr = cfg.Address
	server.ServeMux().Handle("/metrics", promhttp.Handler())
	server.ServeMux().Handle("/", statusPage(alarm, sensors, poller))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)
	go func() {
		<-c
		log.Info("stopping server")
		signal.Stop(c)
		cancel()
	}()

	log.Info("starting server", "addr", server.Addr)
	if err := server.ListenAndServe(rootCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("failed to close server", "err", err)
	}
}

// loadLabels prefers the on-disk cache and falls back to downloading
// from the panel. Labels are cosmetic: failure means numbered names,
// not a dead bridge.
func loadLabels(cfg Config, execute Executor) client.Labels {
	cache := client.NewLabelCache(cfg.CacheDir, cfg.Host+":"+cfg.Port)
	if labels, ok, err := cache.Load(); err == nil && ok {
		log.Info("loaded labels from cache",
			"zones", len(labels.Zones), "macros", len(labels.Macros))
		return labels
	} else if err != nil {
		log.Warn("could not read the label cache", "err", err)
	}

	var labels client.Labels
	if err := execute(func(cli *client.Client) (err error) {
		labels, err = cli.DownloadLabels(ctx())
		return
	}); err != nil {
		log.Warn("could not download labels, using numbered names", "err", err)
		return client.Labels{}
	}
	if err := cache.Save(labels); err != nil {
		log.Warn("could not save the label cache", "err", err)
	}
	return labels
}

func securityAccessories(
	alarm *SecuritySystem,
	sensors AlarmSensors,
	switches OutputSwitches,
	macros []*MacroButton,
) []*accessory.A {
	result := []*accessory.A{alarm.A}
	for _, c := range sensors {
		result = append(result, c.A)
	}
	for _, c := range switches {
		result = append(result, c.A)
	}
	for _, c := range macros {
		result = append(result, c.A)
	}
	return result
}

type PageItem struct {
	Number   int
	Name     string
	Open     bool
	Bypassed bool
	Memory   bool
}

func statusPage(alarm *SecuritySystem, sensors AlarmSensors, poller *client.Poller) http.Handler {
	tpl := template.Must(template.New("index").Parse(string(index)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, available, ok := poller.Latest()

		state := "Unknown"
		if ok {
			state = snap.State.String()
		}

		var zones []PageItem
		for _, sensor := range sensors {
			item := PageItem{
				Number:   sensor.zone,
				Name:     sensor.Name(),
				Open:     snap.ZonesOpen.Zone(sensor.zone),
				Bypassed: !snap.ZonesIncluded.Zone(sensor.zone),
				Memory:   snap.ZonesMemory.Zone(sensor.zone),
			}
			zones = append(zones, item)
		}

		_ = tpl.Execute(w, struct {
			State     string
			Available bool
			Anomaly   string
			GSM       string
			Zones     []PageItem
		}{
			State:     state,
			Available: available,
			Anomaly:   snap.Anomaly.String(),
			GSM:       snap.GSM.Status.String(),
			Zones:     zones,
		})
	})
}
