package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cutline/cutline/internal/artifacts"
	"github.com/cutline/cutline/internal/catalog"
	"github.com/cutline/cutline/internal/db"
	"github.com/cutline/cutline/internal/dispatch"
	"github.com/cutline/cutline/internal/history"
	"github.com/cutline/cutline/internal/media"
	"github.com/cutline/cutline/internal/playback"
)

// stubEngine writes a placeholder file for every output.
type stubEngine struct{}

func (stubEngine) Probe(ctx context.Context, path string) (*media.ProbeResult, error) {
	return &media.ProbeResult{Duration: 30, HasVideo: true}, nil
}

func (stubEngine) Trim(ctx context.Context, src string, start, end float64, dst string) error {
	if err := media.ValidateTrimRange(start, end, 30); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte("trimmed"), 0644)
}

func (stubEngine) Split(ctx context.Context, src string, at float64, dstDir string) error {
	os.WriteFile(filepath.Join(dstDir, media.SplitPart1File), []byte("a"), 0644)
	return os.WriteFile(filepath.Join(dstDir, media.SplitPart2File), []byte("b"), 0644)
}

func (stubEngine) Mute(ctx context.Context, src, dst string) error {
	return os.WriteFile(dst, []byte("muted"), 0644)
}

func (stubEngine) Caption(ctx context.Context, src, text, dst string) error {
	return os.WriteFile(dst, []byte("captioned"), 0644)
}

func (stubEngine) MixAudio(ctx context.Context, src, music, dst string) error {
	return os.WriteFile(dst, []byte("mixed"), 0644)
}

func (stubEngine) Synthesize(ctx context.Context, text, dst string) error {
	return os.WriteFile(dst, []byte("voice"), 0644)
}

type testEnv struct {
	router http.Handler
	token  string
	userID int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()

	database, err := db.New(filepath.Join(root, "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := discardLogger()
	svc := catalog.NewService(catalog.NewRepository(database.Conn()), catalog.ServiceConfig{
		UploadsDir:     filepath.Join(root, "uploads"),
		AudioDir:       filepath.Join(root, "audio"),
		MaxUploadBytes: 1 << 20,
	}, logger)
	tracker := artifacts.NewTracker(filepath.Join(root, "previews"), artifacts.NewSQLiteStore(database.Conn()), logger)
	log := history.NewSQLiteLog(database.Conn())

	d := dispatch.New(dispatch.Config{
		Engine:  stubEngine{},
		Tracker: tracker,
		History: log,
		Sources: svc,
		Music:   svc,
		Logger:  logger,
	})

	user, err := svc.RegisterUser(context.Background(), "tester")
	if err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}

	router := NewRouter(ServerConfig{
		Catalog:        svc,
		Dispatcher:     d,
		History:        log,
		Flash:          catalog.NewFlashStore(),
		PlaybackServer: playback.NewServer(tracker, logger),
		MaxUploadBytes: 1 << 20,
		Version:        "test",
		Logger:         logger,
		StartTime:      time.Now(),
	})

	return &testEnv{router: router, token: user.Token, userID: user.ID}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+e.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) postJSON(t *testing.T, path string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(v)
	return e.do(t, http.MethodPost, path, bytes.NewReader(body), "application/json")
}

func (e *testEnv) upload(t *testing.T, path, field, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(part, content)
	mw.Close()
	return e.do(t, http.MethodPost, path, &buf, mw.FormDataContentType())
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rr.Body.String(), err)
	}
	return body
}

func decodeCommand(t *testing.T, rr *httptest.ResponseRecorder) CommandResponse {
	t.Helper()
	var resp CommandResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rr.Body.String(), err)
	}
	return resp
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestRegisterHandler(t *testing.T) {
	env := newTestEnv(t)

	register := func(remote, name string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{"username":"`+name+`"}`))
		req.RemoteAddr = remote
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, req)
		return rr
	}

	rr := register("127.0.0.1:5000", "newuser")
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rr.Code, rr.Body.String())
	}
	body := decodeJSONBody(t, rr)
	if tok, _ := body["token"].(string); len(tok) != 64 {
		t.Errorf("token = %v", body["token"])
	}

	if rr := register("127.0.0.1:5000", "newuser"); rr.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rr.Code)
	}
	if rr := register("127.0.0.1:5000", "x"); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid name status = %d, want 400", rr.Code)
	}
	if rr := register("203.0.113.9:5000", "remoteuser"); rr.Code != http.StatusForbidden {
		t.Errorf("remote status = %d, want 403", rr.Code)
	}
}

func TestRoutes_RequireAuth(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/dashboard", "/history", "/status", "/previews/trimmed.mp4"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", path, rr.Code)
		}
	}
}

func TestCommandHandler_NoVideo(t *testing.T) {
	env := newTestEnv(t)

	rr := env.postJSON(t, "/commands", CommandRequest{Command: "mute"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	resp := decodeCommand(t, rr)
	if resp.Response != dispatch.MsgNoSource {
		t.Errorf("response = %q, want %q", resp.Response, dispatch.MsgNoSource)
	}
	if resp.Artifacts[artifacts.KindMute] {
		t.Error("mute flagged present without an upload")
	}
}

func TestEditFlow(t *testing.T) {
	env := newTestEnv(t)

	rr := env.upload(t, "/uploads/video", "video", "clip.mp4", "fake video")
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.postJSON(t, "/commands", CommandRequest{Command: "Trim from 5 to 10 seconds"})
	resp := decodeCommand(t, rr)
	if resp.Response != "Trimmed video from 5 to 10 seconds." {
		t.Errorf("response = %q", resp.Response)
	}
	if !resp.Artifacts[artifacts.KindTrim] {
		t.Error("trim not flagged present")
	}

	rr = env.do(t, http.MethodGet, "/previews/trimmed.mp4", nil, "")
	if rr.Code != http.StatusOK || rr.Body.String() != "trimmed" {
		t.Errorf("preview = %d %q", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodGet, "/previews/muted.mp4", nil, ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing preview status = %d, want 404", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/previews/secret.db", nil, ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown preview status = %d, want 404", rr.Code)
	}

	rr = env.postJSON(t, "/trim", map[string]int{"start": 1, "end": 2})
	if resp := decodeCommand(t, rr); resp.Response != "Trimmed video from 1 to 2 seconds." {
		t.Errorf("trim form response = %q", resp.Response)
	}

	rr = env.postJSON(t, "/voice", VoiceRequest{Text: "hello there"})
	if resp := decodeCommand(t, rr); !resp.Artifacts[artifacts.KindVoice] {
		t.Errorf("voice not flagged present: %+v", resp)
	}

	rr = env.do(t, http.MethodGet, "/history", nil, "")
	var hist HistoryResponse
	json.Unmarshal(rr.Body.Bytes(), &hist)
	if len(hist.Entries) != 3 {
		t.Fatalf("history entries = %d, want 3", len(hist.Entries))
	}
	if hist.Entries[0].Command != "Trim from 5 to 10 seconds" {
		t.Errorf("first command = %q", hist.Entries[0].Command)
	}

	rr = env.do(t, http.MethodGet, "/status", nil, "")
	if body := decodeJSONBody(t, rr); body["commands_processed"] != float64(3) {
		t.Errorf("commands_processed = %v, want 3", body["commands_processed"])
	}
}

func TestTrimHandler_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		body string
		want int
	}{
		{`{`, http.StatusBadRequest},
		{`{"start":1}`, http.StatusBadRequest},
		{`{"start":-1,"end":4}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		rr := env.do(t, http.MethodPost, "/trim", strings.NewReader(tt.body), "application/json")
		if rr.Code != tt.want {
			t.Errorf("POST /trim %s status = %d, want %d", tt.body, rr.Code, tt.want)
		}
	}
}

func TestUploadHandler_Rejects(t *testing.T) {
	env := newTestEnv(t)

	if rr := env.upload(t, "/uploads/video", "video", "notes.txt", "x"); rr.Code != http.StatusBadRequest {
		t.Errorf("txt upload status = %d, want 400", rr.Code)
	}
	if rr := env.upload(t, "/uploads/video", "wrong", "clip.mp4", "x"); rr.Code != http.StatusBadRequest {
		t.Errorf("missing field status = %d, want 400", rr.Code)
	}
	big := strings.Repeat("a", 1<<20+1)
	if rr := env.upload(t, "/uploads/video", "video", "clip.mp4", big); rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized upload status = %d, want 413", rr.Code)
	}
}

func TestMusicHandler(t *testing.T) {
	env := newTestEnv(t)

	// No video yet: the track is stored but mixing fails.
	rr := env.upload(t, "/music", "music", "song.mp3", "tune")
	resp := decodeCommand(t, rr)
	if resp.Response != msgMusicFailed+dispatch.MsgNoSource {
		t.Errorf("response = %q", resp.Response)
	}

	env.upload(t, "/uploads/video", "video", "clip.mp4", "fake video")
	rr = env.upload(t, "/music", "music", "song.mp3", "tune")
	resp = decodeCommand(t, rr)
	if resp.Response != msgMusicAdded {
		t.Errorf("response = %q, want %q", resp.Response, msgMusicAdded)
	}
	if !resp.Artifacts[artifacts.KindMusic] {
		t.Error("music not flagged present")
	}

	rr = env.do(t, http.MethodGet, "/dashboard", nil, "")
	var dash DashboardResponse
	json.Unmarshal(rr.Body.Bytes(), &dash)
	if dash.Response != msgMusicAdded {
		t.Errorf("dashboard response = %q, want flash %q", dash.Response, msgMusicAdded)
	}

	if rr := env.upload(t, "/music", "music", "song.exe", "x"); rr.Code != http.StatusBadRequest {
		t.Errorf("bad music status = %d, want 400", rr.Code)
	}
}

func TestClearHandlers_Flash(t *testing.T) {
	env := newTestEnv(t)

	env.upload(t, "/uploads/video", "video", "clip.mp4", "fake video")
	env.postJSON(t, "/commands", CommandRequest{Command: "mute"})

	rr := env.do(t, http.MethodPost, "/edits/clear", nil, "")
	var cleared ClearEditsResponse
	json.Unmarshal(rr.Body.Bytes(), &cleared)
	if cleared.Response != dispatch.MsgEditsCleared {
		t.Errorf("clear edits response = %q", cleared.Response)
	}
	if len(cleared.Removed) != 1 || len(cleared.Artifacts.Present()) != 0 {
		t.Errorf("clear edits = %+v", cleared)
	}

	rr = env.do(t, http.MethodGet, "/dashboard", nil, "")
	var dash DashboardResponse
	json.Unmarshal(rr.Body.Bytes(), &dash)
	if dash.Response != dispatch.MsgEditsCleared {
		t.Errorf("dashboard response = %q", dash.Response)
	}
	if len(dash.History) != 1 {
		t.Errorf("history = %d entries, want 1", len(dash.History))
	}

	rr = env.do(t, http.MethodGet, "/dashboard", nil, "")
	dash = DashboardResponse{}
	json.Unmarshal(rr.Body.Bytes(), &dash)
	if dash.Response != "" {
		t.Errorf("flash shown twice: %q", dash.Response)
	}

	rr = env.do(t, http.MethodPost, "/history/clear", nil, "")
	var hc ClearHistoryResponse
	json.Unmarshal(rr.Body.Bytes(), &hc)
	if hc.Response != dispatch.MsgHistoryCleared || hc.Removed != 1 {
		t.Errorf("clear history = %+v", hc)
	}
}
