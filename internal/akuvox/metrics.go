package akuvox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "akuvox_device_requests_total",
		Help: "Device HTTP attempts by outcome.",
	}, []string{"outcome"})

	detectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "akuvox_device_detections_total",
		Help: "Endpoint detection runs by result.",
	}, []string{"result"})
)
