package rules

// TraceEntry is one step of a decision audit trail. Scoring traces carry a
// signed Delta; routing traces carry Delta zero and explain rule matching.
type TraceEntry struct {
	Source string `json:"source"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

// Trace is an ordered audit trail sufficient to reconstruct a decision.
type Trace []TraceEntry

// Add appends an entry and returns the extended trace.
func (t Trace) Add(source string, delta int, reason string) Trace {
	return append(t, TraceEntry{Source: source, Delta: delta, Reason: reason})
}
