// Package factory provides a small generic registry used to instantiate modules
// from configuration. A module is selected by a type string and configured by a
// map of raw settings which the factory decodes into its own struct.
//
// The metrics package registers its sinks here; config files pick them by name:
//
//	sinks := factory.NewRegistry[metrics.MetricsSink]()
//	_ = sinks.Register("influx", func(conf map[string]any) (metrics.MetricsSink, error) {
//	    var c struct{ URL string `json:"url"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return newInfluxSink(c.URL), nil
//	})
//	sink, err := sinks.Create(factory.ModuleConfig{Type: "influx", Conf: map[string]any{"url": "http://localhost:8086"}})
//
// The location source variants (watch or poll) are decoded the same way.
package factory
