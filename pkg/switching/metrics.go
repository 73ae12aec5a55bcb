package switching

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	predictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernelswitch_predictions_total",
		Help: "Predictor calls, by whether the result changed the active implementation",
	}, []string{"outcome"})

	switchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernelswitch_switches_total",
		Help: "Activations of an implementation, by kernel name",
	}, []string{"kernel"})
)
