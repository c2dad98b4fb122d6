package translator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

// DoneMarker is the data payload of the last SSE event.
const DoneMarker = "[DONE]"

const chunkTemplate = `{"id":"","object":"chat.completion.chunk","created":0,"model":"","choices":[{"index":0,"delta":{},"finish_reason":null}]}`

// NewCompletionID returns an identifier for one chat completion.
func NewCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CompletionChunks builds the chat.completion.chunk events of one stream.
// Every event shares the same id, created timestamp and model.
type CompletionChunks struct {
	ID      string
	Model   string
	Created int64
}

// NewCompletionChunks starts a chunk sequence for model.
func NewCompletionChunks(model string, now time.Time) *CompletionChunks {
	return &CompletionChunks{ID: NewCompletionID(), Model: model, Created: now.Unix()}
}

func (b *CompletionChunks) base() string {
	out, _ := sjson.Set(chunkTemplate, "id", b.ID)
	out, _ = sjson.Set(out, "created", b.Created)
	out, _ = sjson.Set(out, "model", b.Model)
	return out
}

// Role announces the assistant role with empty content.
func (b *CompletionChunks) Role() []byte {
	out, _ := sjson.Set(b.base(), "choices.0.delta.role", "assistant")
	out, _ = sjson.Set(out, "choices.0.delta.content", "")
	return []byte(out)
}

// Delta carries one increment of generated text.
func (b *CompletionChunks) Delta(text string) []byte {
	out, _ := sjson.Set(b.base(), "choices.0.delta.content", text)
	return []byte(out)
}

// Finish is the terminal event with an empty delta.
func (b *CompletionChunks) Finish(reason string) []byte {
	out, _ := sjson.Set(b.base(), "choices.0.finish_reason", reason)
	return []byte(out)
}

// EventWriter writes one SSE data payload.
type EventWriter func(data []byte) error

// StreamSSE drives the gateway framing: a role event, one event per text
// increment, the terminal event and the done marker. A failed generation adds
// its error text as a last content delta and finishes with "stop", so clients
// only ever see chat.completion.chunk objects. Text already written is never
// retracted.
func StreamSSE(ctx context.Context, src FrameSource, acc *Accumulator, chunks *CompletionChunks, write EventWriter) Result {
	if errWrite := write(chunks.Role()); errWrite != nil {
		_ = src.Close()
		return Result{Err: errWrite}
	}
	res := Pump(ctx, src, acc, func(_, delta string) error {
		return write(chunks.Delta(delta))
	})
	if res.Err != nil {
		return res
	}

	reason := res.FinishReason
	if res.Failed() {
		if errWrite := write(chunks.Delta(res.ErrorText)); errWrite != nil {
			res.Err = errWrite
			return res
		}
		reason = "stop"
	}
	if reason == "" {
		reason = "stop"
	}
	if errWrite := write(chunks.Finish(reason)); errWrite != nil {
		res.Err = errWrite
		return res
	}
	if errWrite := write([]byte(DoneMarker)); errWrite != nil {
		res.Err = errWrite
	}
	return res
}
