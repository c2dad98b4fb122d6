package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/conversation"
	"github.com/modelrelay/modelrelay/internal/interfaces"
	"github.com/modelrelay/modelrelay/internal/registry"
	"github.com/modelrelay/modelrelay/internal/router"
	"github.com/modelrelay/modelrelay/internal/translator"
)

type frameSource struct {
	mu     sync.Mutex
	frames []string
	err    error
}

func (s *frameSource) Next() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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

func (s *frameSource) Close() error { return nil }

type fakeOpener struct {
	src     translator.FrameSource
	err     error
	params  interfaces.GenerateParams
	opened  int
	address string
}

func (o *fakeOpener) OpenStream(_ context.Context, endpoint string, params interfaces.GenerateParams) (translator.FrameSource, error) {
	o.opened++
	o.address = endpoint
	o.params = params
	if o.err != nil {
		return nil, o.err
	}
	return o.src, nil
}

type noProbe struct{}

func (noProbe) Status(context.Context, string) (*interfaces.WorkerStatus, error) {
	return nil, errors.New("unreachable")
}

func newService(t *testing.T, opener *fakeOpener, withWorker bool) *Service {
	t.Helper()
	reg := registry.New(noProbe{})
	if withWorker {
		status := &interfaces.WorkerStatus{ModelNames: []string{"tiny"}}
		if err := reg.Register(context.Background(), "http://w:21002", true, status, false); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return NewService(router.New(router.LocalResolver{Registry: reg}), opener, config.Default())
}

func collect(frames *[]translator.ChatFrame) func(translator.ChatFrame) {
	return func(f translator.ChatFrame) { *frames = append(*frames, f) }
}

func TestAddText(t *testing.T) {
	state := NewState("tiny", "")
	if err := state.AddText("   ", 10); err != nil {
		t.Fatalf("add blank: %v", err)
	}
	if !state.SkipNext || len(state.Turns()) != 0 {
		t.Fatalf("blank input must only set SkipNext")
	}
	if err := state.AddText("héllo wörld", 5); err != nil {
		t.Fatalf("add: %v", err)
	}
	turns := state.Turns()
	if len(turns) != 2 || turns[0].Content != "héllo" || !turns[1].Pending {
		t.Fatalf("turns = %+v", turns)
	}
	if state.SkipNext {
		t.Fatalf("SkipNext must be cleared by real input")
	}
	if err := state.AddText("again", 5); !errors.Is(err, ErrGenerationActive) {
		t.Fatalf("error = %v, want ErrGenerationActive", err)
	}
}

func TestRespondStreamsIntoPendingTurn(t *testing.T) {
	opener := &fakeOpener{src: &frameSource{frames: []string{
		`{"text":"Hel","error_code":0}`,
		`{"text":"Hello","error_code":0}`,
		`{"text":"Hello","error_code":0,"finish_reason":"stop"}`,
	}}}
	svc := newService(t, opener, true)
	state := NewState("tiny", "Be brief.")
	_ = state.AddText("hi", 100)

	var frames []translator.ChatFrame
	if err := svc.Respond(context.Background(), state, collect(&frames)); err != nil {
		t.Fatalf("respond: %v", err)
	}

	want := []string{"▌", "Hel▌", "Hello▌", "Hello"}
	if len(frames) != len(want) {
		t.Fatalf("frames = %+v", frames)
	}
	for i, text := range want {
		if frames[i].Text != text {
			t.Fatalf("frame %d = %q, want %q", i, frames[i].Text, text)
		}
	}
	if !frames[3].Final || frames[3].Failed {
		t.Fatalf("last frame = %+v", frames[3])
	}
	turns := state.Turns()
	if turns[1].Pending || turns[1].Content != "Hello" {
		t.Fatalf("assistant turn = %+v", turns[1])
	}
	if opener.address != "http://w:21002" || opener.params.Prompt != "System: Be brief.\nUser: hi\nAssistant:" {
		t.Fatalf("opener got %q %+v", opener.address, opener.params)
	}
	if opener.params.Temperature != 0.7 || opener.params.MaxNewTokens != 512 {
		t.Fatalf("sampling = %+v", opener.params)
	}
}

func TestRespondWithoutWorker(t *testing.T) {
	opener := &fakeOpener{}
	svc := newService(t, opener, false)
	state := NewState("tiny", "")
	_ = state.AddText("hi", 100)

	var frames []translator.ChatFrame
	if err := svc.Respond(context.Background(), state, collect(&frames)); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if opener.opened != 0 {
		t.Fatalf("worker must not be contacted without a registration")
	}
	if len(frames) != 2 || frames[0].Text != translator.InProgressMarker || !frames[1].Final {
		t.Fatalf("frames = %+v", frames)
	}
	if frames[1].Text != translator.NoWorkerText("tiny") || frames[1].Code != translator.ErrorCodeNoWorker {
		t.Fatalf("final text = %q", frames[1].Text)
	}
	if turns := state.Turns(); turns[1].Content != translator.NoWorkerText("tiny") {
		t.Fatalf("assistant turn = %+v", turns[1])
	}
}

func TestRespondConnectionBreak(t *testing.T) {
	opener := &fakeOpener{src: &frameSource{
		frames: []string{`{"text":"Par","error_code":0}`},
		err:    errors.New("connection reset"),
	}}
	svc := newService(t, opener, true)
	state := NewState("tiny", "")
	_ = state.AddText("hi", 100)

	var frames []translator.ChatFrame
	_ = svc.Respond(context.Background(), state, collect(&frames))

	finals := 0
	for _, f := range frames {
		if f.Final {
			finals++
		}
	}
	last := frames[len(frames)-1]
	if finals != 1 || !last.Failed {
		t.Fatalf("frames = %+v", frames)
	}
	if !strings.HasPrefix(last.Text, translator.ServerErrorMessage) || !strings.Contains(last.Text, "connection reset") {
		t.Fatalf("final text = %q", last.Text)
	}
}

func TestRespondOpenFailure(t *testing.T) {
	svc := newService(t, &fakeOpener{err: errors.New("dial tcp: refused")}, true)
	state := NewState("tiny", "")
	_ = state.AddText("hi", 100)

	var frames []translator.ChatFrame
	_ = svc.Respond(context.Background(), state, collect(&frames))
	if len(frames) != 2 || !frames[1].Failed || !strings.Contains(frames[1].Text, "Worker Connection Error") {
		t.Fatalf("frames = %+v", frames)
	}
	if state.Pending() {
		t.Fatalf("assistant turn must be finalized")
	}
}

func TestRespondHonoursSkipNext(t *testing.T) {
	opener := &fakeOpener{}
	svc := newService(t, opener, true)
	state := NewState("tiny", "")
	_ = state.AddText("", 100)

	var frames []translator.ChatFrame
	if err := svc.Respond(context.Background(), state, collect(&frames)); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if len(frames) != 0 || opener.opened != 0 || state.SkipNext {
		t.Fatalf("skip not honoured: frames=%d opened=%d skip=%v", len(frames), opener.opened, state.SkipNext)
	}
	if err := svc.Respond(context.Background(), state, nil); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("error = %v, want ErrNothingPending", err)
	}
}

func TestRegenerateAndClear(t *testing.T) {
	opener := &fakeOpener{src: &frameSource{frames: []string{`{"text":"one","error_code":0}`}}}
	svc := newService(t, opener, true)
	state := NewState("tiny", "")

	if ok, _ := state.Regenerate(); ok {
		t.Fatalf("regenerate on empty session must report false")
	}
	_ = state.AddText("hi", 100)
	_ = svc.Respond(context.Background(), state, nil)

	ok, err := state.Regenerate()
	if err != nil || !ok {
		t.Fatalf("regenerate = %v, %v", ok, err)
	}
	turns := state.Turns()
	if len(turns) != 2 || !turns[1].Pending || turns[1].Role != conversation.RoleAssistant {
		t.Fatalf("turns = %+v", turns)
	}

	opener.src = &frameSource{frames: []string{`{"text":"two","error_code":0}`}}
	_ = svc.Respond(context.Background(), state, nil)
	if turns = state.Turns(); turns[1].Content != "two" {
		t.Fatalf("regenerated turn = %+v", turns[1])
	}

	before := state.Session()
	if err = state.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if state.Session() == before || len(state.Turns()) != 0 {
		t.Fatalf("clear must reset messages and session id")
	}
}
