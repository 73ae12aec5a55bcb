package harness

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var graphTransferSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "kernelswitch_graph_transfer_seconds",
	Help:    "Time spent transferring graph representations to the device",
	Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
}, []string{"backend"})
