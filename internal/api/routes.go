package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cutline/cutline/internal/catalog"
	"github.com/cutline/cutline/internal/dispatch"
	"github.com/cutline/cutline/internal/intent"
	"github.com/cutline/cutline/internal/playback"
)

const (
	msgMusicAdded  = "Background music added successfully!"
	msgMusicFailed = "Music upload failed: "

	// multipart framing allowance on top of the file itself
	multipartOverhead = 1 << 20
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))
	r.With(LoopbackOnly()).Post("/users", registerHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Catalog, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/dashboard", dashboardHandler(cfg))
		r.Post("/uploads/video", uploadVideoHandler(cfg))
		r.Post("/music", musicHandler(cfg))
		r.Post("/trim", trimHandler(cfg))
		r.Post("/voice", voiceHandler(cfg))
		r.Post("/commands", commandHandler(cfg))
		r.Post("/edits/clear", clearEditsHandler(cfg))
		r.Get("/history", historyHandler(cfg))
		r.Post("/history/clear", clearHistoryHandler(cfg))
		r.Get("/previews/{name}", previewHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := cfg.Dispatcher.Stats()
		resp := StatusResponse{
			CommandsProcessed: stats.Processed,
			CommandsFailed:    stats.Failed,
			LastResponse:      stats.LastResponse,
		}

		if cfg.Doctor != nil {
			caps, err := cfg.Doctor.Get(r.Context())
			if err == nil && caps != nil {
				resp.Tools = caps
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func registerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		user, err := cfg.Catalog.RegisterUser(r.Context(), req.Username)
		switch {
		case errors.Is(err, catalog.ErrInvalidUsername):
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		case errors.Is(err, catalog.ErrUserExists):
			WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
			return
		case err != nil:
			cfg.Logger.Error("failed to register user", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to register user", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusCreated, RegisterResponse{
			ID:       user.ID,
			Username: user.Username,
			Token:    user.Token,
		})
	}
}

func dashboardHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		user := UserFromContext(ctx)

		video, err := cfg.Catalog.ActiveVideo(ctx, user.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load session", "INTERNAL_ERROR")
			return
		}

		entries, err := cfg.History.List(ctx, user.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load history", "INTERNAL_ERROR")
			return
		}

		response, _ := cfg.Flash.Pop(user.ID)

		WriteJSON(w, http.StatusOK, DashboardResponse{
			Username:  user.Username,
			VideoPath: video,
			Artifacts: cfg.Dispatcher.Snapshot(ctx, user.ID),
			Response:  response,
			History:   EntriesToResponse(entries),
		})
	}
}

func uploadVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())

		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+multipartOverhead)
		file, header, err := r.FormFile("video")
		if err != nil {
			writeFormError(w, err, "video")
			return
		}
		defer file.Close()

		path, err := cfg.Catalog.SaveVideoUpload(r.Context(), user.ID, header.Filename, file)
		if err != nil {
			writeUploadError(cfg, w, err)
			return
		}

		WriteJSON(w, http.StatusCreated, UploadResponse{VideoPath: path})
	}
}

// musicHandler stores the background track and immediately mixes it onto the
// active video. The outcome is left as the next dashboard message.
func musicHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		user := UserFromContext(ctx)

		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+multipartOverhead)
		file, header, err := r.FormFile("music")
		if err != nil {
			writeFormError(w, err, "music")
			return
		}
		defer file.Close()

		if _, err := cfg.Catalog.SaveMusicUpload(ctx, user.ID, header.Filename, file); err != nil {
			msg := msgMusicFailed + err.Error()
			cfg.Flash.Set(user.ID, msg)
			WriteJSON(w, uploadStatus(err), CommandResponse{
				Response:  msg,
				Artifacts: cfg.Dispatcher.Snapshot(ctx, user.ID),
			})
			return
		}

		reply := cfg.Dispatcher.Apply(ctx, user.ID, intent.MixMusic())
		msg := msgMusicAdded
		if reply.Outcome != dispatch.OutcomeApplied {
			msg = msgMusicFailed + reply.Response
		}
		cfg.Flash.Set(user.ID, msg)

		WriteJSON(w, http.StatusOK, CommandResponse{
			Response:  msg,
			Outcome:   string(reply.Outcome),
			Artifacts: reply.Artifacts,
		})
	}
}

func trimHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TrimRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Start == nil || req.End == nil {
			WriteError(w, http.StatusBadRequest, "start and end are required", "BAD_REQUEST")
			return
		}
		if *req.Start < 0 || *req.End < 0 {
			WriteError(w, http.StatusBadRequest, "start and end must not be negative", "BAD_REQUEST")
			return
		}

		user := UserFromContext(r.Context())
		reply := cfg.Dispatcher.Apply(r.Context(), user.ID, intent.Trim(*req.Start, *req.End))
		writeReply(w, reply)
	}
}

func voiceHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VoiceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		user := UserFromContext(r.Context())
		reply := cfg.Dispatcher.Apply(r.Context(), user.ID, intent.Narration(req.Text))
		writeReply(w, reply)
	}
}

func commandHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		user := UserFromContext(r.Context())
		reply := cfg.Dispatcher.Submit(r.Context(), user.ID, req.Command)
		writeReply(w, reply)
	}
}

func clearEditsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		user := UserFromContext(ctx)

		msg, report, err := cfg.Dispatcher.ClearEdits(ctx, user.ID)
		if err != nil {
			cfg.Logger.Error("failed to clear edits", "user_id", user.ID, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to clear edits", "INTERNAL_ERROR")
			return
		}
		cfg.Flash.Set(user.ID, msg)

		removed := report.Removed
		if removed == nil {
			removed = []string{}
		}
		WriteJSON(w, http.StatusOK, ClearEditsResponse{
			Response:  msg,
			Removed:   removed,
			Failed:    report.Failed,
			Artifacts: cfg.Dispatcher.Snapshot(ctx, user.ID),
		})
	}
}

func historyHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())

		entries, err := cfg.History.List(r.Context(), user.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list history", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, HistoryResponse{Entries: EntriesToResponse(entries)})
	}
}

func clearHistoryHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())

		msg, n, err := cfg.Dispatcher.ClearHistory(r.Context(), user.ID)
		if err != nil {
			cfg.Logger.Error("failed to clear history", "user_id", user.ID, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to clear history", "INTERNAL_ERROR")
			return
		}
		cfg.Flash.Set(user.ID, msg)

		WriteJSON(w, http.StatusOK, ClearHistoryResponse{Response: msg, Removed: n})
	}
}

func previewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		name := chi.URLParam(r, "name")

		err := cfg.PlaybackServer.ServeArtifact(w, r, user.ID, name)
		switch {
		case errors.Is(err, playback.ErrUnknownArtifact):
			WriteError(w, http.StatusNotFound, "unknown artifact", "NOT_FOUND")
		case errors.Is(err, playback.ErrNotReady):
			WriteError(w, http.StatusNotFound, "artifact not available", "NOT_FOUND")
		case err != nil:
			cfg.Logger.Error("playback error", "error", err, "name", name)
			WriteError(w, http.StatusInternalServerError, "failed to serve artifact", "INTERNAL_ERROR")
		}
	}
}

// writeReply returns a dispatch reply. Outcomes other than internal failures
// are ordinary answers to the user and use 200.
func writeReply(w http.ResponseWriter, reply dispatch.Reply) {
	status := http.StatusOK
	if reply.Outcome == dispatch.OutcomeInternal {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, CommandResponse{
		Response:  reply.Response,
		Outcome:   string(reply.Outcome),
		Artifacts: reply.Artifacts,
	})
}

func writeFormError(w http.ResponseWriter, err error, field string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteError(w, http.StatusRequestEntityTooLarge, catalog.ErrUploadTooLarge.Error(), "TOO_LARGE")
		return
	}
	WriteError(w, http.StatusBadRequest, "multipart field '"+field+"' is required", "BAD_REQUEST")
}

func writeUploadError(cfg ServerConfig, w http.ResponseWriter, err error) {
	status := uploadStatus(err)
	if status == http.StatusInternalServerError {
		cfg.Logger.Error("failed to store upload", "error", err)
		WriteError(w, status, "failed to store upload", "INTERNAL_ERROR")
		return
	}
	code := "BAD_REQUEST"
	if status == http.StatusRequestEntityTooLarge {
		code = "TOO_LARGE"
	}
	WriteError(w, status, err.Error(), code)
}

func uploadStatus(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, catalog.ErrUploadTooLarge), errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, catalog.ErrUnsupportedFile):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
