package orchestration

// State is the conversation's turn state. It is owned exclusively by the
// conversation; other stages only ever read it.
type State int32

const (
	// StateIdle is the state before Start.
	StateIdle State = iota
	// StateListening means the caller has the floor.
	StateListening
	// StateAgentThinking means a completed utterance is with the agent.
	StateAgentThinking
	// StateBotSpeaking means response audio is being delivered.
	StateBotSpeaking
	// StateTerminated is terminal.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateAgentThinking:
		return "agent_thinking"
	case StateBotSpeaking:
		return "bot_speaking"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
