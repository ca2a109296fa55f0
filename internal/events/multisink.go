package events

import "context"

// MultiSink fans a single Publish out to every wrapped Sink in turn, so an optional collaborator (e.g. store.Mirror) can observe the same
// stream a transport sink publishes without the matching engine knowing
// about more than one Sink.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink wraps sinks for fan-out publication.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Publish dispatches to every wrapped sink and returns the first error
// encountered, if any, after all have been attempted.
func (m *MultiSink) Publish(ctx context.Context, evt Event) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, evt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every wrapped sink, returning the first error encountered.
func (m *MultiSink) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
