package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/driverlink/core/factory"
	coremetrics "github.com/kilianp07/driverlink/core/metrics"
)

type influxConf struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

func newInfluxFromConf(conf map[string]any) (coremetrics.MetricsSink, error) {
	var c influxConf
	if err := factory.Decode(conf, &c); err != nil {
		return nil, err
	}
	if c.URL == "" || c.Bucket == "" {
		return nil, fmt.Errorf("influx sink: url and bucket are required")
	}
	return NewInfluxSinkWithFallback(c.URL, c.Token, c.Org, c.Bucket), nil
}

// init registers the nop, prometheus and influx sinks. The prometheus sink
// uses the default registry so StartPromServer can serve it.
func init() {
	_ = coremetrics.RegisterMetricsSink("nop", func(map[string]any) (coremetrics.MetricsSink, error) {
		return coremetrics.NopSink{}, nil
	})

	_ = coremetrics.RegisterMetricsSink("prometheus", func(map[string]any) (coremetrics.MetricsSink, error) {
		return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
	})

	_ = coremetrics.RegisterMetricsSink("influx", newInfluxFromConf)
}
