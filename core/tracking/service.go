package tracking

import (
	"context"

	"github.com/kilianp07/driverlink/core/model"
)

// TelemetryService is the remote endpoint receiving position updates. A batch is
// all-or-nothing: a nil error means every sample was accepted.
type TelemetryService interface {
	SendSingle(ctx context.Context, agentID string, s model.PositionSample) error
	SendBatch(ctx context.Context, agentID string, samples []model.PositionSample) error
	SetAvailability(ctx context.Context, agentID string, online bool) error
	Heartbeat(ctx context.Context, agentID string, lat, lng float64) error
}
