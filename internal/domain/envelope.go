package domain

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// EnvelopeType is the wire type of a stream event.
type EnvelopeType string

const (
	EnvelopeMeta      EnvelopeType = "meta"
	EnvelopePhrase    EnvelopeType = "phrase"
	EnvelopeDone      EnvelopeType = "done"
	EnvelopeError     EnvelopeType = "error"
	EnvelopeHeartbeat EnvelopeType = "heartbeat"
)

// EventEnvelope is the uniform frame for every streamed event.
//
// Sequence numbers are per-variation, monotonic from 1 with no gaps.
// Heartbeats are transport keepalives: they carry sequence 0 and are
// never recorded in stream history.
type EventEnvelope struct {
	Type        EnvelopeType    `json:"type"`
	VariationID string          `json:"variationId"`
	Sequence    int             `json:"sequence"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
}

// DoneSummary is the payload of the terminal done envelope.
type DoneSummary struct {
	Status          VariationStatus `json:"status"`
	PhraseCount     int             `json:"phraseCount"`
	NoteChangeTotal int             `json:"noteChangeTotal"`
}

// SSE renders the envelope as a Server-Sent Events frame:
//
//	event: <type>\n
//	data: <json>\n\n
//
// The payload is compact JSON and never contains raw newlines, so a
// single data line is always sufficient.
func (e EventEnvelope) SSE() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope seq %d: %w", e.Sequence, err)
	}
	frame := make([]byte, 0, len(data)+len(e.Type)+16)
	frame = append(frame, "event: "...)
	frame = append(frame, e.Type...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

// Terminal reports whether the envelope ends the stream. Only done is
// terminal: a failed run publishes error and then a done whose summary
// carries the failed status, so every stream ends with exactly one done.
func (e EventEnvelope) Terminal() bool {
	return e.Type == EnvelopeDone
}

func newEnvelope(t EnvelopeType, variationID string, seq int, payload interface{}) (EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return EventEnvelope{
		Type:        t,
		VariationID: variationID,
		Sequence:    seq,
		Payload:     raw,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// NewMetaEnvelope builds the opening envelope. Meta is always sequence 1.
func NewMetaEnvelope(variationID string, seq int, meta VariationMeta) (EventEnvelope, error) {
	return newEnvelope(EnvelopeMeta, variationID, seq, meta)
}

// NewPhraseEnvelope builds a phrase envelope.
func NewPhraseEnvelope(variationID string, seq int, phrase Phrase) (EventEnvelope, error) {
	return newEnvelope(EnvelopePhrase, variationID, seq, phrase)
}

// NewDoneEnvelope builds the terminal done envelope.
func NewDoneEnvelope(variationID string, seq int, summary DoneSummary) (EventEnvelope, error) {
	return newEnvelope(EnvelopeDone, variationID, seq, summary)
}

// NewErrorEnvelope builds an error envelope.
func NewErrorEnvelope(variationID string, seq int, verr VariationError) (EventEnvelope, error) {
	return newEnvelope(EnvelopeError, variationID, seq, verr)
}

// NewHeartbeatEnvelope builds a keepalive envelope (sequence 0).
func NewHeartbeatEnvelope(variationID string) EventEnvelope {
	return EventEnvelope{
		Type:        EnvelopeHeartbeat,
		VariationID: variationID,
		Sequence:    0,
		Payload:     json.RawMessage(`{}`),
		Timestamp:   time.Now().UTC(),
	}
}

// SequenceCounter issues per-variation stream sequence numbers.
type SequenceCounter struct {
	mu   sync.Mutex
	next int
}

// NewSequenceCounter starts a counter whose first Next() is 1.
func NewSequenceCounter() *SequenceCounter {
	return &SequenceCounter{next: 1}
}

// Next returns the next sequence number.
func (c *SequenceCounter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.next
	c.next++
	return n
}

// Current returns the last issued sequence number, 0 before any issue.
func (c *SequenceCounter) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next - 1
}
