package nats

import (
	"encoding/json"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DispatchMessage carries one routed (rule, target) instruction to the
// workers of its target type.
type DispatchMessage struct {
	EventID     string `json:"event_id"`
	Rule        string `json:"rule"`
	Target      string `json:"target"`
	TargetIndex int    `json:"target_index"`
	// Envelope is kept as bytes so the log sink receives it verbatim.
	Envelope []byte `json:"envelope"`
}

// ID is the stable instruction id used for bus deduplication.
func (m *DispatchMessage) ID() string {
	return fmt.Sprintf("%s:%s:%d", m.EventID, m.Rule, m.TargetIndex)
}

// EncodeDispatch serializes m.
func EncodeDispatch(m *DispatchMessage) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeDispatch parses a dispatch message and checks the fields workers need.
func DecodeDispatch(data []byte) (*DispatchMessage, error) {
	var m DispatchMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode dispatch message: %w", err)
	}
	if m.EventID == "" || m.Rule == "" || len(m.Envelope) == 0 {
		return nil, fmt.Errorf("decode dispatch message: missing event id, rule or envelope")
	}
	return &m, nil
}

// Msg is the part of jetstream.Msg the consumers use.
type Msg interface {
	Data() []byte
	Headers() natsgo.Header
	Subject() string
	Metadata() (*jetstream.MsgMetadata, error)
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

var _ Msg = jetstream.Msg(nil)

// deliveryAttempt returns the 1-based delivery count of msg.
func deliveryAttempt(msg Msg) int {
	md, err := msg.Metadata()
	if err != nil || md == nil || md.NumDelivered == 0 {
		return 1
	}
	return int(md.NumDelivered)
}
