package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-separated, coarsest segment first: "channel.frame",
// "channel.status_changed", "channel.down", "chat.message_upserted",
// "chat.message_failed", "notify.changed".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
