package ports

import (
	"context"

	"github.com/hearthaudio/hearth/pkg/hearth"
)

// Broker publishes commands to the controller and reads retained state.
type Broker interface {
	ReplyTopic() string
	PublishCommand(ctx context.Context, cmd hearth.CommandEnvelope) (hearth.ReplyEnvelope, error)
	GetState(ctx context.Context) (hearth.StatusSnapshot, error)
	Watch(ctx context.Context) (<-chan hearth.StatusSnapshot, <-chan hearth.Event, <-chan error)
}

// Clock returns the current unix time in seconds.
type Clock interface {
	NowUnix() int64
}

// IDGen returns unique correlation IDs.
type IDGen interface {
	NewID() string
}
