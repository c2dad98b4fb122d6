package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/interfaces"
)

func newTestClient(streamTimeout time.Duration) *Client {
	cfg := config.Default()
	c := NewClient(cfg)
	c.streamTimeout = streamTimeout
	return c
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/worker_get_status" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"model_names":["tiny"],"speed":1,"queue_length":3}`))
	}))
	defer srv.Close()

	status, err := newTestClient(time.Second).Status(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.ModelNames) != 1 || status.ModelNames[0] != "tiny" || status.QueueLength != 3 {
		t.Fatalf("status = %+v", status)
	}
}

func TestStatusNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := newTestClient(time.Second).Status(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error for 500 status")
	}
}

func TestGenerateSendsParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/worker_generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var params interfaces.GenerateParams
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Errorf("decode: %v", err)
		}
		if params.Stream || params.Prompt != "User: hi\nAssistant:" || params.MaxNewTokens != 16 {
			t.Errorf("params = %+v", params)
		}
		_, _ = w.Write([]byte(`{"text":"hello","error_code":0}`))
	}))
	defer srv.Close()

	body, err := newTestClient(time.Second).Generate(context.Background(), srv.URL, interfaces.GenerateParams{
		Model:        "tiny",
		Prompt:       "User: hi\nAssistant:",
		MaxNewTokens: 16,
		Stream:       true,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(string(body), `"hello"`) {
		t.Fatalf("body = %s", body)
	}
}

func TestGenerateTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	if _, err := newTestClient(time.Second).Generate(context.Background(), endpoint, interfaces.GenerateParams{}); err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestGenerateStreamSplitsFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte(`{"text":"Hi","error_code":0}` + "\x00"))
		flusher.Flush()
		_, _ = w.Write([]byte("\x00\n" + `{"text":"Hi there","error_code":0}` + "\n"))
		_, _ = w.Write([]byte(`{"text":"Hi there","error_code":0,"finish_reason":"stop"}`))
	}))
	defer srv.Close()

	stream, err := newTestClient(time.Second).GenerateStream(context.Background(), srv.URL, interfaces.GenerateParams{Model: "tiny"})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer func() { _ = stream.Close() }()

	var frames []string
	for {
		frame, errNext := stream.Next()
		if errors.Is(errNext, io.EOF) {
			break
		}
		if errNext != nil {
			t.Fatalf("next: %v", errNext)
		}
		frames = append(frames, string(frame))
	}
	if len(frames) != 3 {
		t.Fatalf("frames = %q, want 3", frames)
	}
	if !strings.Contains(frames[2], `"finish_reason":"stop"`) {
		t.Fatalf("last frame = %s", frames[2])
	}
}

func TestGenerateStreamOpenFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := newTestClient(time.Second).GenerateStream(context.Background(), srv.URL, interfaces.GenerateParams{}); err == nil {
		t.Fatalf("expected error for non-200 stream open")
	}
}

func TestGenerateStreamIdleTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"Hi","error_code":0}` + "\x00"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	stream, err := newTestClient(50*time.Millisecond).GenerateStream(context.Background(), srv.URL, interfaces.GenerateParams{})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer func() { _ = stream.Close() }()

	if _, err = stream.Next(); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	_, err = stream.Next()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
}

func TestStreamCloseReleasesConnection(t *testing.T) {
	disconnected := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"Hi","error_code":0}` + "\x00"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(disconnected)
	}))
	defer srv.Close()

	stream, err := newTestClient(time.Second).GenerateStream(context.Background(), srv.URL, interfaces.GenerateParams{})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if _, err = stream.Next(); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	_ = stream.Close()
	_ = stream.Close()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker connection was not released after Close")
	}
}
