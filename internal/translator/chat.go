package translator

import "context"

// InProgressMarker trails the assistant text while a generation is running.
const InProgressMarker = "▌"

// ChatFrame is one display update of the in-flight assistant message.
type ChatFrame struct {
	Text   string
	Final  bool
	Failed bool
	// Code is the error code of a failed final frame.
	Code int
}

// ChatRelay drives the chat-session framing: a placeholder, progress updates
// carrying the in-progress marker, then exactly one final frame.
type ChatRelay struct {
	emit     func(ChatFrame)
	begun    bool
	finished bool
}

// NewChatRelay returns a relay that delivers frames to emit.
func NewChatRelay(emit func(ChatFrame)) *ChatRelay {
	if emit == nil {
		emit = func(ChatFrame) {}
	}
	return &ChatRelay{emit: emit}
}

// Begin emits the placeholder frame. Only the first call has an effect.
func (r *ChatRelay) Begin() {
	if r.begun || r.finished {
		return
	}
	r.begun = true
	r.emit(ChatFrame{Text: InProgressMarker})
}

// Run pumps src, emitting a progress frame per new piece of text and the final
// frame when the stream ends. On failure the final text is the error text.
func (r *ChatRelay) Run(ctx context.Context, src FrameSource, acc *Accumulator) Result {
	r.Begin()
	res := Pump(ctx, src, acc, func(text, _ string) error {
		if !r.finished {
			r.emit(ChatFrame{Text: text + InProgressMarker})
		}
		return nil
	})
	if res.Failed() {
		r.finish(res.ErrorText, res.ErrorCode)
	} else {
		r.finish(res.Text, 0)
	}
	return res
}

// Fail finalizes the message with an error text and code without running a stream.
func (r *ChatRelay) Fail(code int, text string) {
	if code == 0 {
		code = ErrorCodeInternal
	}
	r.finish(text, code)
}

func (r *ChatRelay) finish(text string, code int) {
	if r.finished {
		return
	}
	r.finished = true
	r.emit(ChatFrame{Text: text, Final: true, Failed: code != 0, Code: code})
}
