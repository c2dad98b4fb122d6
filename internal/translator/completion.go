package translator

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const completionTemplate = `{"id":"","object":"chat.completion","created":0,"model":"","choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"stop"}],"usage":{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}}`

// GenerationError is a failure reported by the worker itself, as opposed to a
// failure reaching it.
type GenerationError struct {
	Code    int
	Message string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("worker error %d: %s", e.Code, e.Message)
}

// BuildCompletion converts a worker generate body into a chat.completion object.
// Usage counts are copied as-is.
func BuildCompletion(id, model string, created int64, body []byte) ([]byte, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformedChunk
	}
	root := gjson.ParseBytes(body)
	if code := root.Get("error_code").Int(); code != 0 {
		return nil, &GenerationError{Code: int(code), Message: WorkerErrorText(int(code), root.Get("text").String())}
	}

	out, _ := sjson.Set(completionTemplate, "id", id)
	out, _ = sjson.Set(out, "created", created)
	out, _ = sjson.Set(out, "model", model)
	out, _ = sjson.Set(out, "choices.0.message.content", root.Get("text").String())
	if reason := root.Get("finish_reason"); reason.Type == gjson.String && reason.String() != "" {
		out, _ = sjson.Set(out, "choices.0.finish_reason", reason.String())
	}
	if usage := root.Get("usage"); usage.IsObject() {
		out, _ = sjson.SetRaw(out, "usage", usage.Raw)
	}
	return []byte(out), nil
}
