// Package event defines the audit event envelope exchanged on the bus and the
// decoded Event the pipeline operates on.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DetailTypeStateChange is the detail-type producers use for domain changes.
const DetailTypeStateChange = "Object State Change"

// Common operation values. Operation is open-ended; these are the ones the
// default rules care about.
const (
	OperationInsert = "insert"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// ErrMalformed is returned when an envelope cannot be decoded.
var ErrMalformed = errors.New("malformed event envelope")

// Millis is an epoch-millisecond timestamp. On the wire it is a JSON string
// of digits; a JSON number is accepted as well.
type Millis int64

// MarshalJSON encodes the timestamp in its wire form (a string).
func (m Millis) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(m), 10))
}

// UnmarshalJSON accepts "1603294852000" or 1603294852000.
func (m *Millis) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("ts %q is not epoch millis", s)
	}
	*m = Millis(v)
	return nil
}

// Detail is the domain-specific block of an envelope.
type Detail struct {
	EntityType string          `json:"entity-type,omitempty"`
	EntityID   string          `json:"entity-id,omitempty"`
	Operation  string          `json:"operation,omitempty"`
	Author     string          `json:"author,omitempty"`
	TS         *Millis         `json:"ts,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Envelope is the inbound JSON message including routing metadata.
type Envelope struct {
	ID         string `json:"id"`
	DetailType string `json:"detail-type"`
	Source     string `json:"source"`
	Time       string `json:"time,omitempty"`
	Detail     Detail `json:"detail"`
}

// New builds a state-change envelope. data may be nil for deletions.
func New(source, entityType, entityID, operation, author string, ts time.Time, data any) (*Envelope, error) {
	env := &Envelope{
		DetailType: DetailTypeStateChange,
		Source:     source,
		Detail: Detail{
			EntityType: entityType,
			EntityID:   entityID,
			Operation:  operation,
			Author:     author,
		},
	}
	millis := Millis(ts.UnixMilli())
	env.Detail.TS = &millis

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode data: %w", err)
		}
		env.Detail.Data = raw
	}
	return env, nil
}

// EnsureID assigns a time-ordered UUID when the producer left id empty.
// It reports whether an id was assigned.
func (e *Envelope) EnsureID() bool {
	if e.ID != "" {
		return false
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	e.ID = id.String()
	return true
}

// Encode returns the JSON form of the envelope.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Event is a decoded envelope. It is immutable once parsed.
type Event struct {
	ID           string
	DetailType   string
	SourceSystem string
	EntityType   string
	EntityID     string
	Operation    string
	Author       string
	TS           int64
	Data         json.RawMessage

	// Raw holds the verbatim envelope bytes.
	Raw []byte

	hasTS  bool
	fields map[string]any
}

// wireEnvelope is the lenient decoding of an envelope. Only id, ts and the
// shape of detail are enforced; every other field is coerced by scalarText.
type wireEnvelope struct {
	ID         json.RawMessage `json:"id"`
	DetailType json.RawMessage `json:"detail-type"`
	Source     json.RawMessage `json:"source"`
	Detail     *wireDetail     `json:"detail"`
}

type wireDetail struct {
	EntityType json.RawMessage `json:"entity-type"`
	EntityID   json.RawMessage `json:"entity-id"`
	Operation  json.RawMessage `json:"operation"`
	Author     json.RawMessage `json:"author"`
	TS         *Millis         `json:"ts"`
	Data       json.RawMessage `json:"data"`
}

// Parse decodes raw envelope bytes. Detail fields that are not scalars are
// left empty on the Event but stay in Fields, so routing still sees the
// envelope and templates fail on them at render time.
func Parse(raw []byte) (*Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	var env wireEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	id := scalarText(env.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformed)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	ev := &Event{
		ID:           id,
		DetailType:   scalarText(env.DetailType),
		SourceSystem: scalarText(env.Source),
		Raw:          append([]byte(nil), raw...),
		fields:       fields,
	}
	if d := env.Detail; d != nil {
		ev.EntityType = scalarText(d.EntityType)
		ev.EntityID = scalarText(d.EntityID)
		ev.Operation = scalarText(d.Operation)
		ev.Author = scalarText(d.Author)
		if d.TS != nil {
			ev.TS = int64(*d.TS)
			ev.hasTS = true
		}
		if data := bytes.TrimSpace(d.Data); len(data) > 0 && !bytes.Equal(data, []byte("null")) {
			ev.Data = data
		}
	}
	return ev, nil
}

// scalarText returns the textual form of a JSON string, number or boolean.
// Anything else, null included, is "".
func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case 't', 'f':
		return string(raw)
	case '{', '[', 'n':
		return ""
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return ""
		}
		return n.String()
	}
}

// FromEnvelope encodes env and parses it back, producing an Event with Raw set.
func FromEnvelope(env *Envelope) (*Event, error) {
	raw, err := env.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Parse(raw)
}

// HasData reports whether the event carries a payload.
func (e *Event) HasData() bool {
	return len(e.Data) > 0
}

// HasTimestamp reports whether the producer supplied detail.ts.
func (e *Event) HasTimestamp() bool {
	return e.hasTS
}

// Payload returns the compact JSON serialization of data, or nil when absent.
func (e *Event) Payload() ([]byte, error) {
	if !e.HasData() {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, e.Data); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}
	return buf.Bytes(), nil
}

// Fields returns the generic decoded envelope. Numbers are json.Number.
// Callers must not modify the returned map.
func (e *Event) Fields() map[string]any {
	return e.fields
}

// Time returns ts as a UTC time.
func (e *Event) Time() time.Time {
	return time.UnixMilli(e.TS).UTC()
}
