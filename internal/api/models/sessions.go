package models

import (
	"time"

	"github.com/smazurov/screenscribe/internal/results"
)

type SessionCreateData struct {
	Profile   string `json:"profile,omitempty" example:"terminal" doc:"Profile to start from"`
	Mode      string `json:"mode,omitempty" enum:"snapshot,clip" doc:"Capture mode"`
	Prompt    string `json:"prompt,omitempty" doc:"Analysis prompt"`
	Window    string `json:"window,omitempty" example:"2s" doc:"Window length as a Go duration"`
	Recording *bool  `json:"recording,omitempty" doc:"Start in the recording state"`
}

type SessionCreateRequest struct {
	Body SessionCreateData
}

type SessionData struct {
	ID             string    `json:"id" example:"5b0c6c1e-9d5e-4f0a-8a53-2f1f7e3c1b7a" doc:"Session identifier"`
	Profile        string    `json:"profile,omitempty" doc:"Profile the session was created from"`
	State          string    `json:"state" enum:"idle,recording,closed" doc:"Lifecycle state"`
	Mode           string    `json:"mode" enum:"snapshot,clip" doc:"Capture mode"`
	Prompt         string    `json:"prompt" doc:"Analysis prompt; empty means the mode default"`
	Window         string    `json:"window" example:"2s" doc:"Window length"`
	Buffered       int       `json:"buffered" doc:"Frames in the current window"`
	Windows        uint64    `json:"windows" doc:"Windows flushed so far"`
	InFlight       int       `json:"in_flight" doc:"Analyses running"`
	RawCount       int       `json:"raw_count" doc:"Entries in the raw feed"`
	ProcessedCount int       `json:"processed_count" doc:"Entries in the processed feed"`
	Publisher      bool      `json:"publisher" doc:"A WebRTC screen share is connected"`
	CreatedAt      time.Time `json:"created_at" doc:"Creation time"`
}

type SessionResponse struct {
	Body SessionData
}

type SessionListData struct {
	Sessions []SessionData `json:"sessions" doc:"Open sessions, oldest first"`
	Count    int           `json:"count" example:"1" doc:"Number of sessions"`
}

type SessionListResponse struct {
	Body SessionListData
}

type SessionPath struct {
	ID string `path:"id" doc:"Session identifier"`
}

type ContextUpdateData struct {
	Mode   string  `json:"mode,omitempty" enum:"snapshot,clip" doc:"New capture mode"`
	Prompt *string `json:"prompt,omitempty" doc:"New prompt; empty restores the mode default"`
	Window string  `json:"window,omitempty" example:"3s" doc:"New window length"`
}

type ContextUpdateRequest struct {
	ID   string `path:"id" doc:"Session identifier"`
	Body ContextUpdateData
}

type FrameData struct {
	Image     string    `json:"image" doc:"Base64 JPEG or PNG, optionally as a data URL"`
	Timestamp time.Time `json:"timestamp,omitempty" doc:"Capture time; arrival time when omitted"`
}

type FrameRequest struct {
	ID   string `path:"id" doc:"Session identifier"`
	Body FrameData
}

type FrameAckData struct {
	Seq      uint64 `json:"seq" doc:"Sequence number assigned to the frame"`
	State    string `json:"state" enum:"idle,recording,closed" doc:"Session state after intake"`
	Buffered int    `json:"buffered" doc:"Frames in the current window"`
}

type FrameResponse struct {
	Body FrameAckData
}

type MessagesRequest struct {
	ID    string `path:"id" doc:"Session identifier"`
	View  string `query:"view" enum:"processed,raw" default:"processed" doc:"Feed to read"`
	Since int    `query:"since" minimum:"0" doc:"Return entries with a sequence number above this"`
}

type MessagesData struct {
	View           string          `json:"view" enum:"processed,raw" doc:"Feed that was read"`
	Messages       []results.Entry `json:"messages" doc:"Feed entries in order"`
	Last           int             `json:"last" doc:"Highest sequence number in the feed"`
	PollIntervalMs int             `json:"poll_interval_ms" example:"2000" doc:"Suggested polling interval"`
}

type MessagesResponse struct {
	Body MessagesData
}

type PreviewResponse struct {
	Status      int
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type WebRTCOffer struct {
	Type string `json:"type" enum:"offer" doc:"SDP type"`
	SDP  string `json:"sdp" doc:"Session description"`
}

type WebRTCRequest struct {
	ID   string `path:"id" doc:"Session identifier"`
	Body WebRTCOffer
}

type WebRTCResponse struct {
	Body WebRTCOffer
}
