// Package translator converts a worker's generation stream into the framings
// served to clients: the chat-session display updates, OpenAI-style
// Server-Sent-Events, and the non-streaming chat.completion object.
// All streaming framings share one pull loop (Pump).
package translator

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Worker error codes. Zero means success.
const (
	ErrorCodeInternal         = 50001
	ErrorCodeOutOfMemory      = 50002
	ErrorCodeStreamUnknown    = 50004
	ErrorCodeNoWorker         = 50005
	ErrorCodeWorkerTimeout    = 50006
	ErrorCodeConnection       = 50007
	ErrorCodeMalformedPayload = 50008
)

// ServerErrorMessage prefixes every failure shown to chat users.
const ServerErrorMessage = "**NETWORK ERROR DUE TO HIGH TRAFFIC. PLEASE REGENERATE OR REFRESH THIS PAGE.**"

// ErrMalformedChunk is returned for frames that are not JSON objects.
var ErrMalformedChunk = errors.New("translator: malformed worker chunk")

// ErrWorkerTimeout marks a worker call that exceeded its time budget.
var ErrWorkerTimeout = errors.New("worker: timed out")

// Chunk is one validated frame of a worker stream.
type Chunk struct {
	Text         string
	HasText      bool
	ErrorCode    int
	FinishReason string
}

// ParseChunk validates a raw worker frame.
func ParseChunk(frame []byte) (Chunk, error) {
	if !gjson.ValidBytes(frame) {
		return Chunk{}, ErrMalformedChunk
	}
	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return Chunk{}, ErrMalformedChunk
	}
	var chunk Chunk
	if text := root.Get("text"); text.Type == gjson.String {
		chunk.Text = text.String()
		chunk.HasText = true
	}
	if code := root.Get("error_code"); code.Exists() {
		if code.Type != gjson.Number {
			return Chunk{}, fmt.Errorf("%w: error_code is %s", ErrMalformedChunk, code.Type)
		}
		chunk.ErrorCode = int(code.Int())
	}
	if reason := root.Get("finish_reason"); reason.Type == gjson.String {
		chunk.FinishReason = reason.String()
	}
	return chunk, nil
}

// TransportErrorCode classifies a failure reaching or reading from a worker.
func TransportErrorCode(err error) int {
	if errors.Is(err, ErrWorkerTimeout) {
		return ErrorCodeWorkerTimeout
	}
	return ErrorCodeConnection
}

// WorkerErrorText returns text, or a description of code when the worker sent none.
func WorkerErrorText(code int, text string) string {
	if text != "" {
		return text
	}
	switch code {
	case ErrorCodeInternal:
		return ServerErrorMessage + "\n\n(Internal worker error)"
	case ErrorCodeOutOfMemory:
		return ServerErrorMessage + "\n\n(Worker out of memory)"
	case ErrorCodeStreamUnknown:
		return ServerErrorMessage + "\n\n(Unknown stream error)"
	}
	return ServerErrorMessage
}

// ConnectionErrorText is the message shown when the worker connection breaks.
func ConnectionErrorText(err error) string {
	return fmt.Sprintf("%s\n\n(Worker Connection Error: %v)", ServerErrorMessage, err)
}

// NoWorkerText is the message shown when no worker serves model.
func NoWorkerText(model string) string {
	return fmt.Sprintf("%s\n\n(No worker for %s)", ServerErrorMessage, model)
}
