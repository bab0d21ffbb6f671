package ports

// Metrics records authentication outcomes
type Metrics interface {
	RecordAuthEvent(operation, outcome string)
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RecordAuthEvent(string, string) {}
