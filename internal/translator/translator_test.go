package translator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

type sliceSource struct {
	mu     sync.Mutex
	frames []string
	err    error
	closed bool
}

func (s *sliceSource) Next() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("source closed")
	}
	if len(s.frames) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	frame := s.frames[0]
	s.frames = s.frames[1:]
	return []byte(frame), nil
}

func (s *sliceSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *sliceSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type blockingSource struct {
	once   sync.Once
	closed chan struct{}
}

func newBlockingSource() *blockingSource {
	return &blockingSource{closed: make(chan struct{})}
}

func (s *blockingSource) Next() ([]byte, error) {
	<-s.closed
	return nil, errors.New("use of closed connection")
}

func (s *blockingSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func collectSSE(t *testing.T, src FrameSource) ([]string, Result) {
	t.Helper()
	var events []string
	chunks := &CompletionChunks{ID: "chatcmpl-test", Model: "tiny", Created: 1700000000}
	res := StreamSSE(context.Background(), src, NewAccumulator(Cumulative), chunks, func(data []byte) error {
		events = append(events, string(data))
		return nil
	})
	return events, res
}

func TestParseChunk(t *testing.T) {
	chunk, err := ParseChunk([]byte(`{"text":"Hi","error_code":0,"finish_reason":"length"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !chunk.HasText || chunk.Text != "Hi" || chunk.ErrorCode != 0 || chunk.FinishReason != "length" {
		t.Fatalf("chunk = %+v", chunk)
	}

	chunk, err = ParseChunk([]byte(`{"error_code":0,"finish_reason":null}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if chunk.HasText || chunk.FinishReason != "" {
		t.Fatalf("chunk = %+v", chunk)
	}

	for _, raw := range []string{`not json`, `["Hi"]`, `{"text":"x","error_code":"bad"}`} {
		if _, err = ParseChunk([]byte(raw)); !errors.Is(err, ErrMalformedChunk) {
			t.Fatalf("ParseChunk(%s) error = %v, want ErrMalformedChunk", raw, err)
		}
	}
}

func TestAccumulatorCumulative(t *testing.T) {
	acc := NewAccumulator(Cumulative)
	if d := acc.Apply(Chunk{Text: "Hi", HasText: true}); d != "Hi" {
		t.Fatalf("delta = %q, want Hi", d)
	}
	if d := acc.Apply(Chunk{Text: "Hi there", HasText: true}); d != " there" {
		t.Fatalf("delta = %q, want ' there'", d)
	}
	if d := acc.Apply(Chunk{}); d != "" || acc.Text() != "Hi there" {
		t.Fatalf("textless chunk changed state: delta %q text %q", d, acc.Text())
	}
	if d := acc.Apply(Chunk{Text: "Hi there caf�", HasText: true}); d != "" {
		t.Fatalf("partial rune delta = %q, want empty", d)
	}
	if d := acc.Apply(Chunk{Text: "Hi there café", HasText: true}); d != " café" {
		t.Fatalf("delta = %q, want ' café'", d)
	}
}

func TestAccumulatorIncremental(t *testing.T) {
	acc := NewAccumulator(ParseTextMode("incremental"))
	acc.Apply(Chunk{Text: "Hi", HasText: true})
	if d := acc.Apply(Chunk{Text: " there", HasText: true}); d != " there" {
		t.Fatalf("delta = %q", d)
	}
	if acc.Text() != "Hi there" {
		t.Fatalf("text = %q", acc.Text())
	}
}

func TestStreamSSEEventOrder(t *testing.T) {
	src := &sliceSource{frames: []string{
		`{"text":"Hi","error_code":0}`,
		`{"text":"Hi there","error_code":0}`,
		`{"error_code":0,"finish_reason":"stop"}`,
	}}
	events, res := collectSSE(t, src)

	if res.Failed() || res.Err != nil || res.Text != "Hi there" {
		t.Fatalf("result = %+v", res)
	}
	if len(events) != 5 {
		t.Fatalf("events = %d, want 5: %q", len(events), events)
	}
	if gjson.Get(events[0], "choices.0.delta.role").String() != "assistant" || gjson.Get(events[0], "choices.0.delta.content").String() != "" {
		t.Fatalf("role event = %s", events[0])
	}
	if got := gjson.Get(events[1], "choices.0.delta.content").String(); got != "Hi" {
		t.Fatalf("first delta = %q", got)
	}
	if got := gjson.Get(events[2], "choices.0.delta.content").String(); got != " there" {
		t.Fatalf("second delta = %q", got)
	}
	if got := gjson.Get(events[3], "choices.0.finish_reason").String(); got != "stop" {
		t.Fatalf("finish reason = %q", got)
	}
	if delta := gjson.Get(events[3], "choices.0.delta"); delta.Raw != "{}" {
		t.Fatalf("terminal delta = %s, want {}", delta.Raw)
	}
	if events[4] != DoneMarker {
		t.Fatalf("last event = %q, want [DONE]", events[4])
	}
	for _, event := range events[:4] {
		if gjson.Get(event, "id").String() != "chatcmpl-test" || gjson.Get(event, "object").String() != "chat.completion.chunk" {
			t.Fatalf("event header mismatch: %s", event)
		}
	}
	if !src.Closed() {
		t.Fatalf("source must be closed after the stream")
	}
}

func TestStreamSSEPassesWorkerFinishReason(t *testing.T) {
	src := &sliceSource{frames: []string{`{"text":"Hi","error_code":0,"finish_reason":"length"}`}}
	events, _ := collectSSE(t, src)
	if got := gjson.Get(events[len(events)-2], "choices.0.finish_reason").String(); got != "length" {
		t.Fatalf("finish reason = %q, want length", got)
	}
}

func TestStreamSSETransportBreak(t *testing.T) {
	src := &sliceSource{
		frames: []string{`{"text":"Hi","error_code":0}`},
		err:    errors.New("connection reset by peer"),
	}
	events, res := collectSSE(t, src)

	if res.ErrorCode != ErrorCodeConnection {
		t.Fatalf("error code = %d, want %d", res.ErrorCode, ErrorCodeConnection)
	}
	if len(events) != 5 {
		t.Fatalf("events = %q", events)
	}
	if got := gjson.Get(events[1], "choices.0.delta.content").String(); got != "Hi" {
		t.Fatalf("partial delta lost: %q", got)
	}
	if gjson.Get(events[2], "error").Exists() || gjson.Get(events[2], "object").String() != "chat.completion.chunk" {
		t.Fatalf("failure must be framed as a chunk: %s", events[2])
	}
	if !strings.Contains(gjson.Get(events[2], "choices.0.delta.content").String(), "connection reset by peer") {
		t.Fatalf("error delta = %s", events[2])
	}
	if got := gjson.Get(events[3], "choices.0.finish_reason").String(); got != "stop" {
		t.Fatalf("finish reason = %q, want stop", got)
	}
	if events[4] != DoneMarker {
		t.Fatalf("last event = %q", events[4])
	}
}

func TestStreamSSEWorkerErrorStopsImmediately(t *testing.T) {
	src := &sliceSource{frames: []string{
		`{"text":"Hi","error_code":0}`,
		`{"text":"CUDA out of memory","error_code":50002}`,
		`{"text":"Hi again","error_code":0}`,
	}}
	events, res := collectSSE(t, src)
	if res.ErrorCode != 50002 || res.ErrorText != "CUDA out of memory" {
		t.Fatalf("result = %+v", res)
	}
	for _, event := range events {
		if strings.Contains(event, "again") {
			t.Fatalf("pump continued after worker error: %q", events)
		}
	}
	if got := gjson.Get(events[len(events)-2], "choices.0.finish_reason").String(); got != "stop" {
		t.Fatalf("finish reason = %q", got)
	}
}

func TestStreamSSEWriteFailureClosesSource(t *testing.T) {
	src := &sliceSource{frames: []string{`{"text":"Hi","error_code":0}`, `{"text":"Hi there","error_code":0}`}}
	writes := 0
	res := StreamSSE(context.Background(), src, NewAccumulator(Cumulative), NewCompletionChunks("tiny", time.Now()), func([]byte) error {
		writes++
		if writes == 2 {
			return errors.New("broken pipe")
		}
		return nil
	})
	if res.Err == nil {
		t.Fatalf("expected write error in result")
	}
	if writes != 2 {
		t.Fatalf("writes = %d, want 2", writes)
	}
	if !src.Closed() {
		t.Fatalf("source must be closed after write failure")
	}
}

func TestPumpCancellationClosesSource(t *testing.T) {
	src := newBlockingSource()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Result, 1)
	go func() {
		done <- Pump(ctx, src, NewAccumulator(Cumulative), nil)
	}()
	cancel()

	select {
	case res := <-done:
		if !errors.Is(res.Err, context.Canceled) {
			t.Fatalf("result error = %v, want context.Canceled", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pump did not stop after cancellation")
	}
	select {
	case <-src.closed:
	default:
		t.Fatalf("source not closed")
	}
}

func TestChatRelaySuccess(t *testing.T) {
	src := &sliceSource{frames: []string{
		`{"text":"Hi","error_code":0}`,
		`{"text":"Hi there","error_code":0}`,
		`{"error_code":0,"finish_reason":"stop"}`,
	}}
	var frames []ChatFrame
	relay := NewChatRelay(func(f ChatFrame) { frames = append(frames, f) })
	relay.Begin()
	relay.Run(context.Background(), src, NewAccumulator(Cumulative))

	want := []ChatFrame{
		{Text: InProgressMarker},
		{Text: "Hi" + InProgressMarker},
		{Text: "Hi there" + InProgressMarker},
		{Text: "Hi there", Final: true},
	}
	if len(frames) != len(want) {
		t.Fatalf("frames = %+v", frames)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Fatalf("frame %d = %+v, want %+v", i, frames[i], want[i])
		}
	}
}

func TestChatRelayTransportBreakFinalIsErrorText(t *testing.T) {
	src := &sliceSource{
		frames: []string{`{"text":"Hi","error_code":0}`},
		err:    errors.New("EOF while reading"),
	}
	var frames []ChatFrame
	relay := NewChatRelay(func(f ChatFrame) { frames = append(frames, f) })
	relay.Run(context.Background(), src, NewAccumulator(Cumulative))
	relay.Fail(ErrorCodeInternal, "late failure")

	finals := 0
	for _, f := range frames {
		if f.Final {
			finals++
		}
	}
	if finals != 1 {
		t.Fatalf("final frames = %d, want 1", finals)
	}
	last := frames[len(frames)-1]
	if !last.Final || !last.Failed {
		t.Fatalf("last frame = %+v", last)
	}
	if !strings.HasPrefix(last.Text, ServerErrorMessage) || !strings.Contains(last.Text, "EOF while reading") {
		t.Fatalf("final text = %q", last.Text)
	}
	if strings.Contains(last.Text, InProgressMarker) {
		t.Fatalf("final text still carries the marker")
	}
}

func TestChatRelayWorkerError(t *testing.T) {
	src := &sliceSource{frames: []string{`{"text":"model overloaded","error_code":50001}`}}
	var last ChatFrame
	relay := NewChatRelay(func(f ChatFrame) { last = f })
	relay.Run(context.Background(), src, NewAccumulator(Cumulative))
	if !last.Final || !last.Failed || last.Text != "model overloaded" || last.Code != ErrorCodeInternal {
		t.Fatalf("last frame = %+v", last)
	}
}

func TestChatRelayShorterCumulativeFrameReplacesText(t *testing.T) {
	src := &sliceSource{frames: []string{
		`{"text":"Hi User","error_code":0}`,
		`{"text":"Hi","error_code":0,"finish_reason":"stop"}`,
	}}
	var frames []ChatFrame
	relay := NewChatRelay(func(f ChatFrame) { frames = append(frames, f) })
	res := relay.Run(context.Background(), src, NewAccumulator(Cumulative))

	if res.Text != "Hi" {
		t.Fatalf("result text = %q, want Hi", res.Text)
	}
	last := frames[len(frames)-1]
	if !last.Final || last.Failed || last.Text != "Hi" {
		t.Fatalf("final frame = %+v, want Hi", last)
	}
}

func TestStreamSSEShorterCumulativeFrameKeepsSentDeltas(t *testing.T) {
	src := &sliceSource{frames: []string{
		`{"text":"Hi User","error_code":0}`,
		`{"text":"Hi","error_code":0}`,
		`{"text":"Hi User!","error_code":0,"finish_reason":"stop"}`,
	}}
	events, res := collectSSE(t, src)

	var content strings.Builder
	for _, event := range events {
		content.WriteString(gjson.Get(event, "choices.0.delta.content").String())
	}
	if content.String() != "Hi User!" {
		t.Fatalf("streamed content = %q, want %q", content.String(), "Hi User!")
	}
	if res.Text != "Hi User!" {
		t.Fatalf("result text = %q", res.Text)
	}
}

func TestPumpTimeoutErrorCode(t *testing.T) {
	src := &sliceSource{err: fmt.Errorf("%w: no data for 1s", ErrWorkerTimeout)}
	res := Pump(context.Background(), src, NewAccumulator(Cumulative), nil)
	if res.ErrorCode != ErrorCodeWorkerTimeout {
		t.Fatalf("error code = %d, want %d", res.ErrorCode, ErrorCodeWorkerTimeout)
	}
	if TransportErrorCode(errors.New("connection refused")) != ErrorCodeConnection {
		t.Fatalf("plain transport errors must map to the connection code")
	}
}

func TestWorkerErrorTextFallback(t *testing.T) {
	if got := WorkerErrorText(ErrorCodeOutOfMemory, "CUDA out of memory"); got != "CUDA out of memory" {
		t.Fatalf("worker text replaced: %q", got)
	}
	for _, code := range []int{ErrorCodeInternal, ErrorCodeOutOfMemory, ErrorCodeStreamUnknown, 59999} {
		if got := WorkerErrorText(code, ""); !strings.HasPrefix(got, ServerErrorMessage) {
			t.Fatalf("WorkerErrorText(%d) = %q", code, got)
		}
	}
	if WorkerErrorText(ErrorCodeOutOfMemory, "") == WorkerErrorText(ErrorCodeStreamUnknown, "") {
		t.Fatalf("fallback texts must describe the code")
	}
}

func TestBuildCompletion(t *testing.T) {
	body := []byte(`{"text":"Hello!","error_code":0,"finish_reason":"length","usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":999}}`)
	out, err := BuildCompletion("chatcmpl-1", "tiny", 1700000000, body)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	root := gjson.ParseBytes(out)
	if root.Get("object").String() != "chat.completion" || root.Get("model").String() != "tiny" {
		t.Fatalf("completion = %s", out)
	}
	if root.Get("choices.0.message.content").String() != "Hello!" || root.Get("choices.0.finish_reason").String() != "length" {
		t.Fatalf("choice = %s", root.Get("choices.0").Raw)
	}
	if root.Get("usage.total_tokens").Int() != 999 {
		t.Fatalf("usage must be passed through untouched: %s", root.Get("usage").Raw)
	}
}

func TestBuildCompletionWorkerError(t *testing.T) {
	_, err := BuildCompletion("chatcmpl-1", "tiny", 0, []byte(`{"text":"out of memory","error_code":50002}`))
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("error = %v, want GenerationError", err)
	}
	if genErr.Code != 50002 || genErr.Message != "out of memory" {
		t.Fatalf("generation error = %+v", genErr)
	}
}
