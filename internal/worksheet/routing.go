package worksheet

// NeedsVision reports whether p must go through visual interpretation before
// reasoning: it carries at least one diagram payload, or extraction flagged
// a diagram. Pure and deterministic.
func NeedsVision(p ProblemRecord) bool {
	return len(p.Diagrams) > 0 || p.DiagramDetected
}
