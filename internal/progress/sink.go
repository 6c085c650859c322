package progress

import "context"

// Sink consumes batches of events. Implementations must honor ctx deadlines
// and tolerate repeated Consume calls after a failure.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies it so stages stay
// agnostic about buffering.
type Emitter interface {
	Emit(evt Event)
}

// NopEmitter discards events.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(Event) {}
