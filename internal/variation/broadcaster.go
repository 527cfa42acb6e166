package variation

import (
	"sync"

	"go.uber.org/zap"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/pkg/logger"
)

// Broadcaster fans variation envelopes out to SSE subscribers and keeps
// per-variation history for replay. Publish never blocks: a subscriber
// whose buffer is full loses the envelope and recovers by polling or
// resubscribing with fromSequence.
//
// Heartbeats (sequence 0) are fanned out but never recorded, so replay
// stays gap-free in the real sequence space.
type Broadcaster struct {
	mu      sync.Mutex
	buffer  int
	streams map[string]*stream
}

type stream struct {
	history []domain.EventEnvelope
	subs    map[int]chan domain.EventEnvelope
	nextSub int
	closed  bool
}

// NewBroadcaster creates a broadcaster with the given per-subscriber
// channel buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 256
	}
	return &Broadcaster{
		buffer:  buffer,
		streams: make(map[string]*stream),
	}
}

func (b *Broadcaster) stream(variationID string) *stream {
	st, ok := b.streams[variationID]
	if !ok {
		st = &stream{subs: make(map[int]chan domain.EventEnvelope)}
		b.streams[variationID] = st
	}
	return st
}

// Subscribe returns a channel that first replays history strictly
// after fromSequence, then receives live envelopes. A resuming client
// passes the last sequence it saw and never re-receives it; 0 replays
// everything. The returned func unsubscribes; it is safe to call more
// than once. Subscribing to an already closed stream yields the replay
// and then a closed channel.
func (b *Broadcaster) Subscribe(variationID string, fromSequence int) (<-chan domain.EventEnvelope, func()) {
	b.mu.Lock()
	st := b.stream(variationID)

	var replay []domain.EventEnvelope
	for _, env := range st.history {
		if env.Sequence > fromSequence {
			replay = append(replay, env)
		}
	}
	ch := make(chan domain.EventEnvelope, b.buffer+len(replay))
	for _, env := range replay {
		ch <- env
	}

	if st.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}

	id := st.nextSub
	st.nextSub++
	st.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			cur, ok := b.streams[variationID]
			if !ok {
				return
			}
			if sub, live := cur.subs[id]; live {
				delete(cur.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish records the envelope (heartbeats excepted) and fans it out.
func (b *Broadcaster) Publish(env domain.EventEnvelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stream(env.VariationID)
	if st.closed {
		logger.Warn("publish on closed variation stream",
			zap.String("variation_id", env.VariationID),
			zap.String("event_type", string(env.Type)),
		)
		return
	}
	if env.Type != domain.EnvelopeHeartbeat {
		st.history = append(st.history, env)
	}
	for id, sub := range st.subs {
		select {
		case sub <- env:
		default:
			logger.Warn("variation subscriber buffer full, dropping envelope",
				zap.String("variation_id", env.VariationID),
				zap.Int("subscriber", id),
				zap.Int("sequence", env.Sequence),
			)
		}
	}
}

// CloseStream marks the stream finished and closes all subscriber
// channels. History stays available for replay until DropHistory.
func (b *Broadcaster) CloseStream(variationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[variationID]
	if !ok {
		st = &stream{subs: make(map[int]chan domain.EventEnvelope), closed: true}
		b.streams[variationID] = st
		return
	}
	if st.closed {
		return
	}
	st.closed = true
	for id, sub := range st.subs {
		delete(st.subs, id)
		close(sub)
	}
}

// Drain publishes a final error envelope on every live stream, then
// closes them all. Called once at shutdown so connected clients see an
// explicit end instead of a dropped socket. Returns the number of
// streams drained.
func (b *Broadcaster) Drain(code, message string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	drained := 0
	for id, st := range b.streams {
		if st.closed {
			continue
		}
		seq := 1
		if n := len(st.history); n > 0 {
			seq = st.history[n-1].Sequence + 1
		}
		env, err := domain.NewErrorEnvelope(id, seq, domain.VariationError{
			Code:    code,
			Message: message,
		})
		if err == nil {
			st.history = append(st.history, env)
		} else {
			logger.Warn("build drain envelope failed",
				zap.String("variation_id", id),
				zap.Error(err),
			)
		}
		for subID, sub := range st.subs {
			if err == nil {
				select {
				case sub <- env:
				default:
				}
			}
			delete(st.subs, subID)
			close(sub)
		}
		st.closed = true
		drained++
	}
	return drained
}

// DropHistory forgets a variation's stream entirely. The expiry sweep
// calls this when it drops the record, so stream memory does not
// outlive the record it replays.
func (b *Broadcaster) DropHistory(variationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[variationID]
	if !ok {
		return
	}
	for id, sub := range st.subs {
		delete(st.subs, id)
		close(sub)
	}
	delete(b.streams, variationID)
}

// History returns recorded envelopes strictly after fromSequence.
func (b *Broadcaster) History(variationID string, fromSequence int) []domain.EventEnvelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[variationID]
	if !ok {
		return nil
	}
	var out []domain.EventEnvelope
	for _, env := range st.history {
		if env.Sequence > fromSequence {
			out = append(out, env)
		}
	}
	return out
}

// LastSequence returns the highest recorded sequence, 0 when nothing
// has been published.
func (b *Broadcaster) LastSequence(variationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[variationID]
	if !ok || len(st.history) == 0 {
		return 0
	}
	return st.history[len(st.history)-1].Sequence
}
