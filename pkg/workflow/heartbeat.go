package workflow

import "context"

// Heartbeater reports liveness to the scheduler while a long activity runs.
// Activities call it after every completed batch so a stuck worker is
// detected within one batch, not one activity.
type Heartbeater interface {
	Heartbeat(ctx context.Context)
}

// HeartbeatFunc adapts a function to the Heartbeater interface
type HeartbeatFunc func(ctx context.Context)

func (f HeartbeatFunc) Heartbeat(ctx context.Context) {
	f(ctx)
}

// NoopHeartbeater discards heartbeats; used outside scheduler supervision.
type NoopHeartbeater struct{}

func (NoopHeartbeater) Heartbeat(context.Context) {}
