package types

// Event represents a typed event emitted during state transitions. Attributes
// carry only cleartext, audit-safe values; encrypted material is never placed
// in an event payload.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
