package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-namespaced by the publishing component:
//
//	conn.*     transport connection lifecycle
//	state.*    reconciliation store refresh signals
//	presence.* online/typing changes
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
