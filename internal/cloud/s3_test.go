package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cutline/cutline/internal/artifacts"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeS3 is a minimal path-style S3 endpoint keeping objects in memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	puts    int
	status  int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/media/")
	switch {
	case r.Method == http.MethodPut:
		f.puts++
		if f.status != 0 {
			w.WriteHeader(f.status)
			fmt.Fprintf(w, `<Error><Code>Fail</Code><Message>status %d</Message></Error>`, f.status)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = string(body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><Name>media</Name>`)
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>1</Size></Contents>", k)
			}
		}
		b.WriteString("<IsTruncated>false</IsTruncated></ListBucketResult>")
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, b.String())

	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newTestMirror(t *testing.T, fake *fakeS3) *S3Mirror {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	m, err := NewS3Mirror(context.Background(), S3Config{
		Bucket:          "media",
		Region:          "us-east-1",
		Endpoint:        server.URL,
		Prefix:          "/previews/",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewS3Mirror() error = %v", err)
	}
	return m
}

func writeArtifacts(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte("content of "+n), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "user_7/trimmed.mp4"},
		{"previews", "previews/user_7/trimmed.mp4"},
	}
	for _, tt := range tests {
		if got := ObjectKey(tt.prefix, 7, "/data/previews/user_7/trimmed.mp4"); got != tt.want {
			t.Errorf("ObjectKey(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestS3Mirror_PublishAndClear(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}}
	m := newTestMirror(t, fake)
	ctx := context.Background()

	paths := writeArtifacts(t, "split_part1.mp4", "split_part2.mp4")
	if err := m.Publish(ctx, 3, artifacts.KindSplit, paths); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	for _, name := range []string{"split_part1.mp4", "split_part2.mp4"} {
		body, ok := fake.objects["previews/user_3/"+name]
		if !ok {
			t.Fatalf("object %s not uploaded; have %v", name, fake.objects)
		}
		if !strings.Contains(body, "content of "+name) {
			t.Errorf("object %s body = %q", name, body)
		}
	}

	fake.objects["previews/user_4/muted.mp4"] = "other user"

	if err := m.Clear(ctx, 3); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if len(fake.objects) != 1 {
		t.Errorf("objects after Clear() = %v, want only user_4", fake.objects)
	}
}

func TestS3Mirror_PermanentError(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}, status: http.StatusForbidden}
	m := newTestMirror(t, fake)

	err := m.Publish(context.Background(), 1, artifacts.KindMute, writeArtifacts(t, "muted.mp4"))

	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("Publish() error = %v, want *UploadError", err)
	}
	if ue.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", ue.StatusCode)
	}
	if ue.IsRetryable() {
		t.Error("403 should not be retryable")
	}
	if fake.puts != 1 {
		t.Errorf("puts = %d, want 1", fake.puts)
	}
}

func TestS3Mirror_RetriesServerErrors(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}, status: http.StatusServiceUnavailable}
	m := newTestMirror(t, fake)

	err := m.Publish(context.Background(), 1, artifacts.KindMute, writeArtifacts(t, "muted.mp4"))
	if err == nil {
		t.Fatal("Publish() should fail")
	}
	if fake.puts != maxUploadAttempts {
		t.Errorf("puts = %d, want %d", fake.puts, maxUploadAttempts)
	}
}

func TestS3Mirror_MissingFile(t *testing.T) {
	m := newTestMirror(t, &fakeS3{objects: map[string]string{}})

	err := m.Publish(context.Background(), 1, artifacts.KindTrim, []string{filepath.Join(t.TempDir(), "trimmed.mp4")})
	if err == nil {
		t.Fatal("Publish() of a missing file should fail")
	}
	var ue *UploadError
	if errors.As(err, &ue) {
		t.Errorf("missing file reported as upload error: %v", err)
	}
}

func TestNewS3Mirror_RequiresBucket(t *testing.T) {
	if _, err := NewS3Mirror(context.Background(), S3Config{}, testLogger()); err == nil {
		t.Error("NewS3Mirror() without bucket should fail")
	}
}

func TestUploadError_IsRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{0, true},
		{500, true},
		{503, true},
		{400, false},
		{404, false},
	}
	for _, tt := range tests {
		e := &UploadError{Key: "k", StatusCode: tt.status, Err: errors.New("x")}
		if got := e.IsRetryable(); got != tt.want {
			t.Errorf("IsRetryable(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStubMirror(t *testing.T) {
	m := NewStubMirror(testLogger())
	if err := m.Publish(context.Background(), 1, artifacts.KindTrim, []string{"x"}); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
	if err := m.Clear(context.Background(), 1); err != nil {
		t.Errorf("Clear() error = %v", err)
	}
}
