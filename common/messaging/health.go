package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// HealthSubject is the request subject used to measure broker round trips.
// Nothing subscribes to it; the server answering with "no responders" is
// proof enough that the connection works.
const HealthSubject = "_AUDIT.health"

var (
	// ErrNotConnected is reported when the client has lost its connection.
	ErrNotConnected = errors.New("not connected to message broker")

	// ErrNoResponders is returned by Request when no subscriber exists for
	// the subject. Broker adapters translate their native error to it.
	ErrNoResponders = errors.New("no responders for request")
)

// HealthStatus describes a broker connection for readiness probes.
type HealthStatus struct {
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
}

// Err returns the status as an error, nil when healthy.
func (s HealthStatus) Err() error {
	if s.Error == "" {
		return nil
	}
	return errors.New(s.Error)
}

// CheckClientHealth verifies the connection flag and performs one request
// round trip bounded by timeout.
func CheckClientHealth(ctx context.Context, client Client, timeout time.Duration) HealthStatus {
	status := HealthStatus{}
	if client == nil {
		status.Error = "client is nil"
		return status
	}

	status.Connected = client.IsConnected()
	if !status.Connected {
		status.Error = ErrNotConnected.Error()
		return status
	}

	start := time.Now()
	_, err := client.Request(ctx, HealthSubject, []byte("ping"), timeout)
	status.Latency = time.Since(start)

	if err != nil && !errors.Is(err, ErrNoResponders) {
		status.Error = fmt.Sprintf("health check failed: %v", err)
	}
	return status
}
