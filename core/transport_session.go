package core

// transport_session.go -- transport-level events distinct from the
// engine's Effect/NodeEvent system (effects.go). NodeEvent reports on
// conversation-graph state the engine decided; SessionEvent reports on the
// reliable-transport session itself (a message that could not be
// delivered within its deadline) and is surfaced directly by Transport,
// never routed through the deterministic engine loop (§4.3, §5, §7).

// SessionEventKind tags the variant of a SessionEvent.
type SessionEventKind uint8

const (
	// SessionMessageFailed reports that an outbound message exceeded its
	// send deadline without being fully acknowledged and has been dropped.
	SessionMessageFailed SessionEventKind = iota
)

// SessionEvent is a transport-session-scoped notification.
type SessionEvent struct {
	Kind      SessionEventKind
	Peer      PhysicalDevicePk
	MessageID uint64
}
