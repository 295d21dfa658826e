package events

// Event type identifiers for kelindar/event.
const (
	TypeSessionCreated uint32 = iota + 1
	TypeSessionStateChanged
	TypeSessionClosed
	TypeResultAppended
	TypeDuplicateSuppressed
	TypeIngestStateChanged
	TypeProfilesReloaded
	TypeLogEntry
	TypeContextUpdated
)

// Event is the constraint kelindar/event places on published values.
type Event interface {
	Type() uint32
}

// SessionEvent is implemented by events scoped to one session.
type SessionEvent interface {
	Event
	Session() string
}

// SessionCreatedEvent is published when a client session is opened.
type SessionCreatedEvent struct {
	SessionID string `json:"session_id" example:"5b0c6c1e-9d5e-4f0a-8a53-2f1f7e3c1b7a" doc:"Session identifier"`
	Mode      string `json:"mode" example:"snapshot" doc:"Capture mode"`
	Prompt    string `json:"prompt" doc:"Analysis prompt"`
	Profile   string `json:"profile,omitempty" example:"default" doc:"Profile the session was created from"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

func (e SessionCreatedEvent) Type() uint32    { return TypeSessionCreated }
func (e SessionCreatedEvent) Session() string { return e.SessionID }

// SessionStateChangedEvent reports idle/recording/closed transitions.
type SessionStateChangedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	State     string `json:"state" example:"recording" enum:"idle,recording,closed" doc:"New state"`
	Previous  string `json:"previous" example:"idle" doc:"Previous state"`
	Mode      string `json:"mode" example:"clip" doc:"Capture mode in effect"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

func (e SessionStateChangedEvent) Type() uint32    { return TypeSessionStateChanged }
func (e SessionStateChangedEvent) Session() string { return e.SessionID }

// ContextUpdatedEvent carries the session context after an update.
type ContextUpdatedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	Mode      string `json:"mode" example:"clip" doc:"Capture mode in effect"`
	Prompt    string `json:"prompt" doc:"Analysis prompt in effect"`
	Window    string `json:"window" example:"2s" doc:"Capture window length"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

func (e ContextUpdatedEvent) Type() uint32    { return TypeContextUpdated }
func (e ContextUpdatedEvent) Session() string { return e.SessionID }

// SessionClosedEvent is published once per session.
type SessionClosedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	RawCount  int    `json:"raw_count" example:"12" doc:"Entries in the raw feed at close"`
	Processed int    `json:"processed_count" example:"5" doc:"Entries in the processed feed at close"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

func (e SessionClosedEvent) Type() uint32    { return TypeSessionClosed }
func (e SessionClosedEvent) Session() string { return e.SessionID }

// ResultAppendedEvent carries one entry appended to a result feed.
type ResultAppendedEvent struct {
	SessionID  string `json:"session_id" doc:"Session identifier"`
	Stream     string `json:"stream" example:"processed" enum:"raw,processed" doc:"Feed the entry was appended to"`
	Seq        int    `json:"seq" example:"3" doc:"Position of the entry in its feed"`
	Role       string `json:"role" example:"assistant" doc:"Display role"`
	Content    string `json:"content" doc:"Analysis text"`
	Mode       string `json:"mode" example:"snapshot" doc:"Capture mode of the analyzed window"`
	Window     uint64 `json:"window" example:"7" doc:"Window sequence number"`
	Failed     bool   `json:"failed" doc:"True when content is a failure marker"`
	ProducedAt string `json:"produced_at" example:"2025-01-27T10:30:02Z" doc:"When the analysis completed"`
}

func (e ResultAppendedEvent) Type() uint32    { return TypeResultAppended }
func (e ResultAppendedEvent) Session() string { return e.SessionID }

// DuplicateSuppressedEvent reports a result that reached the raw feed only.
type DuplicateSuppressedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	Window    uint64 `json:"window" example:"8" doc:"Window sequence number"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:04Z" doc:"Event timestamp"`
}

func (e DuplicateSuppressedEvent) Type() uint32    { return TypeDuplicateSuppressed }
func (e DuplicateSuppressedEvent) Session() string { return e.SessionID }

// IngestStateChangedEvent reports WebRTC ingest connection state.
type IngestStateChangedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	State     string `json:"state" example:"connected" doc:"Peer connection state"`
	Codec     string `json:"codec,omitempty" example:"video/VP8" doc:"Negotiated video codec"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

func (e IngestStateChangedEvent) Type() uint32    { return TypeIngestStateChanged }
func (e IngestStateChangedEvent) Session() string { return e.SessionID }

// ProfilesReloadedEvent is published after the profiles file changes.
type ProfilesReloadedEvent struct {
	Names     []string `json:"names" doc:"Profile names now available"`
	Timestamp string   `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

func (e ProfilesReloadedEvent) Type() uint32 { return TypeProfilesReloaded }

// LogEntryEvent mirrors a log record for the log stream.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"session" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}

func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
