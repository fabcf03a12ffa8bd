package domain

// TokenCandidate represents a token address detected in a monitored channel,
// not yet acted upon. Candidates are immutable in-flight events.
type TokenCandidate struct {
	Address       string // token mint address (base58)
	SourceChannel string // channel the address was seen in
	DetectedAt    int64  // Unix timestamp in milliseconds
}
