package accel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	kernelLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernelswitch_accel_launches_total",
		Help: "Kernel launches dispatched to the accelerator backend",
	}, []string{"backend"})

	deviceMemory = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kernelswitch_accel_device_memory_bytes",
		Help: "Device memory currently allocated",
	}, []string{"backend"})
)
