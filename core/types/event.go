package types

// Event is the flattened form of an engine event: a type tag and string
// attributes, suitable for logs and external sinks.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
