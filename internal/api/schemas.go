package api

import (
	"time"

	"github.com/cutline/cutline/internal/artifacts"
	"github.com/cutline/cutline/internal/history"
	"github.com/cutline/cutline/internal/media"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	CommandsProcessed int64               `json:"commands_processed"`
	CommandsFailed    int64               `json:"commands_failed"`
	LastResponse      string              `json:"last_response,omitempty"`
	Tools             *media.Capabilities `json:"tools,omitempty"`
}

type RegisterRequest struct {
	Username string `json:"username"`
}

type RegisterResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

type DashboardResponse struct {
	Username  string          `json:"username"`
	VideoPath string          `json:"video_path,omitempty"`
	Artifacts artifacts.Flags `json:"artifacts"`
	Response  string          `json:"response,omitempty"`
	History   []HistoryEntry  `json:"history"`
}

type UploadResponse struct {
	VideoPath string `json:"video_path"`
}

type CommandRequest struct {
	Command string `json:"command"`
}

type TrimRequest struct {
	Start *int `json:"start"`
	End   *int `json:"end"`
}

type VoiceRequest struct {
	Text string `json:"text"`
}

type CommandResponse struct {
	Response  string          `json:"response"`
	Outcome   string          `json:"outcome,omitempty"`
	Artifacts artifacts.Flags `json:"artifacts"`
}

type ClearEditsResponse struct {
	Response  string                     `json:"response"`
	Removed   []string                   `json:"removed"`
	Failed    []artifacts.RemovalFailure `json:"failed,omitempty"`
	Artifacts artifacts.Flags            `json:"artifacts"`
}

type ClearHistoryResponse struct {
	Response string `json:"response"`
	Removed  int64  `json:"removed"`
}

type HistoryEntry struct {
	ID        string `json:"id"`
	Command   string `json:"command"`
	Response  string `json:"response"`
	CreatedAt string `json:"created_at"`
}

type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func EntryToResponse(e *history.Entry) HistoryEntry {
	return HistoryEntry{
		ID:        e.ID,
		Command:   e.Command,
		Response:  e.Response,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

func EntriesToResponse(entries []*history.Entry) []HistoryEntry {
	out := make([]HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = EntryToResponse(e)
	}
	return out
}
