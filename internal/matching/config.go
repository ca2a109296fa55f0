package matching

// Config carries the matching engine's tunables.
type Config struct {
	// QueueDepth bounds each category's writer channel. A submission that
	// finds the channel full waits at most SubmitTimeoutMs for room and
	// then fails with Timeout.
	QueueDepth int

	// SubmitTimeoutMs bounds how long Submit/Cancel wait for their
	// writer's result before giving up.
	SubmitTimeoutMs int
}

// DefaultConfig returns the engine's defaults.
func DefaultConfig() Config {
	return Config{
		QueueDepth:      1024,
		SubmitTimeoutMs: 2000,
	}
}
