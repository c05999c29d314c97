package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var armStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "homekit_combivox",
	Subsystem: "alarm",
	Name:      "state",
})

var availableGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "homekit_combivox",
	Subsystem: "alarm",
	Name:      "available",
})

var anomalyGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "homekit_combivox",
	Subsystem: "alarm",
	Name:      "anomaly",
})

var gsmSignalGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "homekit_combivox",
	Subsystem: "gsm",
	Name:      "signal_bars",
})

var openGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "homekit_combivox",
	Subsystem: "alarm",
	Name:      "open",
}, []string{"name"})

var bypassedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "homekit_combivox",
	Subsystem: "alarm",
	Name:      "bypassed",
}, []string{"name"})

var memoryGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "homekit_combivox",
	Subsystem: "alarm",
	Name:      "memory",
}, []string{"name"})

var switchGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "homekit_combivox",
	Subsystem: "alarm",
	Name:      "switch_on",
}, []string{"name"})

var requestCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "homekit_combivox",
	Subsystem: "client",
	Name:      "requests_total",
})

var requestErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "homekit_combivox",
	Subsystem: "client",
	Name:      "request_errors_total",
})
