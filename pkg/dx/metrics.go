package dx

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/eastgenomics/configci/pkg/metrics"
)

var (
	requestDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "configci",
		Subsystem: "dnanexus",
		Name:      "request_duration_seconds",
		Help:      "DNAnexus API request duration in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{metrics.LabelRoute, metrics.LabelSuccess})

	throttledRequests = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "configci",
		Subsystem: "dnanexus",
		Name:      "throttled_requests_total",
		Help:      "Count of DNAnexus API requests answered with a throttling status.",
	}, []string{})
)
