package chat

// State is the stage of a single send.
type State int

const (
	// StateIdle means no send is in flight.
	StateIdle State = iota
	// StateAwaitingResponse covers the request until response headers arrive.
	StateAwaitingResponse
	// StateStreaming covers reading and decoding body chunks.
	StateStreaming
	// StateFlushing covers decoding the unterminated tail of the body.
	StateFlushing
	// StatePersisting covers handing the final reply to the Persister.
	StatePersisting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateStreaming:
		return "streaming"
	case StateFlushing:
		return "flushing"
	case StatePersisting:
		return "persisting"
	default:
		return "unknown"
	}
}
