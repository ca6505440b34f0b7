package deliberation

import (
	"time"

	"quorum/internal/types"
)

// ChannelSink delivers events to a buffered channel consumed by a
// presentation layer. Emit drops on a full buffer so a slow or absent
// consumer never blocks deliberation.
type ChannelSink struct {
	ch chan types.Event
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan types.Event, buffer)}
}

// Events returns the consumer side of the stream.
func (s *ChannelSink) Events() <-chan types.Event { return s.ch }

// Emit implements types.EventSink.
func (s *ChannelSink) Emit(ev types.Event) {
	select {
	case s.ch <- ev:
	default:
	}
}

// Close ends the stream. Callers must not Emit after Close.
func (s *ChannelSink) Close() { close(s.ch) }

// nopSink swallows events when no sink is configured.
type nopSink struct{}

func (nopSink) Emit(types.Event) {}

func event(t types.EventType, st *types.DeliberationState, msg string) types.Event {
	ev := types.Event{
		Type:      t,
		SessionID: st.SessionID,
		Phase:     st.Phase,
		Round:     st.Round,
		Message:   msg,
		At:        time.Now(),
	}
	if sp := st.Current(); sp != nil {
		ev.SubProblemID = sp.ID
	}
	return ev
}
