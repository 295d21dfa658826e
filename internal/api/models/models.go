package models

import (
	"github.com/smazurov/screenscribe/internal/ffmpeg"
	"github.com/smazurov/screenscribe/internal/version"
)

// Health check models
type HealthData struct {
	Status   string `json:"status" example:"ok" doc:"Service status"`
	Message  string `json:"message" example:"API is healthy" doc:"Status message"`
	Sessions int    `json:"sessions" example:"2" doc:"Open sessions"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionResponse struct {
	Body version.Info
}

// ICEServer is one STUN or TURN entry for RTCPeerConnection.
type ICEServer struct {
	URLs       []string `json:"urls" example:"[\"stun:stun.l.google.com:19302\"]" doc:"Server URLs"`
	Username   string   `json:"username,omitempty" doc:"TURN username"`
	Credential string   `json:"credential,omitempty" doc:"TURN credential"`
}

type RTCConfigData struct {
	ICEServers []ICEServer `json:"iceServers" doc:"ICE servers for the browser peer connection"`
}

type RTCConfigResponse struct {
	Body RTCConfigData
}

// Decoder options
type OptionsData struct {
	Options []ffmpeg.Option `json:"options" doc:"Available ingest decoder flags"`
	Active  []string        `json:"active" doc:"Flags in effect"`
}

type OptionsResponse struct {
	Body OptionsData
}

// One-shot analysis
type AnalyzeRequestData struct {
	Image  string `json:"image" doc:"Base64 JPEG or PNG, optionally as a data URL"`
	Prompt string `json:"prompt,omitempty" doc:"Prompt; the snapshot default when empty"`
}

type AnalyzeRequest struct {
	Body AnalyzeRequestData
}

type AnalyzeData struct {
	Description string `json:"description" doc:"Model output"`
	Model       string `json:"model,omitempty" example:"gemini-2.0-flash" doc:"Model that produced the description"`
}

type AnalyzeResponse struct {
	Body AnalyzeData
}
