package stream

// State is the lifecycle of one reconnecting stream.
type State string

const (
	StateConnecting   State = "connecting"
	StateStreaming    State = "streaming"
	StateReconnecting State = "reconnecting"
	StateTerminated   State = "terminated"
)

func (s State) String() string { return string(s) }
