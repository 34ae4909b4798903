package types

// Event is the wire form of a typed event emitted during state transitions.
// Attribute values are rendered as decimal strings so consumers never parse
// fixed-point amounts ambiguously.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
