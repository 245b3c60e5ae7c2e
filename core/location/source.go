// Package location observes the agent's position. A Source produces raw readings
// either continuously (watch) or by polling a Locator; the Sampler sits on top of
// any Source and delivers accepted readings downstream in capture order.
package location

import (
	"context"

	"github.com/kilianp07/driverlink/core/model"
)

// Sink receives readings and errors from a Source.
type Sink interface {
	OnReading(model.PositionSample)
	OnError(error)
}

// Source abstracts the platform geolocation watch. Start must not block; the
// source keeps reporting until Stop is called, whatever errors it hits.
type Source interface {
	Start(ctx context.Context, sink Sink) error
	Stop() error
	// Fix requests a one-shot high-accuracy reading.
	Fix(ctx context.Context) (model.PositionSample, error)
}

// Locator answers a single position request.
type Locator interface {
	Locate(ctx context.Context, highAccuracy bool) (model.PositionSample, error)
}

// LocatorFunc adapts a function to the Locator interface.
type LocatorFunc func(ctx context.Context, highAccuracy bool) (model.PositionSample, error)

func (f LocatorFunc) Locate(ctx context.Context, highAccuracy bool) (model.PositionSample, error) {
	return f(ctx, highAccuracy)
}
