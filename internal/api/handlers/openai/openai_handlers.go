// Package openai serves the OpenAI-compatible gateway: model listing and chat
// completions relayed to the registered worker.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/modelrelay/modelrelay/internal/api/handlers"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/conversation"
	"github.com/modelrelay/modelrelay/internal/interfaces"
	"github.com/modelrelay/modelrelay/internal/logging"
	"github.com/modelrelay/modelrelay/internal/translator"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

var errServiceUnavailable = errors.New("Service temporarily unavailable")

// Resolver maps model names to worker endpoints. *router.Router implements it.
type Resolver interface {
	Resolve(ctx context.Context, model string) (string, error)
	Models(ctx context.Context) ([]string, error)
}

// Workers runs generations. *worker.Client implements it.
type Workers interface {
	translator.Opener
	Generate(ctx context.Context, endpoint string, params interfaces.GenerateParams) ([]byte, error)
}

// OpenAIAPIHandler serves /v1/models and /v1/chat/completions.
type OpenAIAPIHandler struct {
	*handlers.BaseAPIHandler

	router   Resolver
	workers  Workers
	template conversation.Template
	mode     translator.TextMode
	defaults config.ChatConfig
	ownedBy  string
	now      func() time.Time
}

// NewOpenAIAPIHandler builds the gateway handler.
func NewOpenAIAPIHandler(base *handlers.BaseAPIHandler, router Resolver, workers Workers, cfg *config.Config) *OpenAIAPIHandler {
	if cfg == nil {
		cfg = config.Default()
	}
	return &OpenAIAPIHandler{
		BaseAPIHandler: base,
		router:         router,
		workers:        workers,
		template:       conversation.Default(),
		mode:           translator.ParseTextMode(cfg.Worker.TextMode),
		defaults:       cfg.Chat,
		ownedBy:        cfg.Gateway.OwnedBy,
		now:            time.Now,
	}
}

// OpenAIModels handles GET /v1/models.
func (h *OpenAIAPIHandler) OpenAIModels(c *gin.Context) {
	models, err := h.router.Models(c.Request.Context())
	if err != nil {
		h.WriteErrorResponse(c, &interfaces.ErrorMessage{StatusCode: http.StatusServiceUnavailable, Error: err})
		return
	}
	created := h.now().Unix()
	data := make([]gin.H, 0, len(models))
	for _, model := range models {
		data = append(data, gin.H{
			"id":       model,
			"object":   "model",
			"created":  created,
			"owned_by": h.ownedBy,
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// Health handles GET /health.
func (h *OpenAIAPIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": h.now().Unix()})
}

// ChatCompletions handles POST /v1/chat/completions. The worker is resolved
// before anything is written so routing failures get a proper status code.
func (h *OpenAIAPIHandler) ChatCompletions(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		h.badRequest(c, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if !gjson.ValidBytes(rawJSON) {
		h.badRequest(c, "invalid request: body must be a JSON object")
		return
	}
	model := strings.TrimSpace(gjson.GetBytes(rawJSON, "model").String())
	if model == "" {
		h.badRequest(c, "model is required")
		return
	}
	// messages is either a chat message array or a ready-made prompt string.
	messages := gjson.GetBytes(rawJSON, "messages")
	switch {
	case messages.Type == gjson.String && messages.String() != "":
	case messages.IsArray() && len(messages.Array()) > 0:
	default:
		h.badRequest(c, "messages must be a non-empty array or string")
		return
	}

	endpoint, errResolve := h.router.Resolve(c.Request.Context(), model)
	if errResolve != nil {
		logging.FromContext(c.Request.Context()).WithField("model", model).WithError(errResolve).Warn("cannot route chat completion")
		h.WriteErrorResponse(c, &interfaces.ErrorMessage{StatusCode: http.StatusServiceUnavailable, Error: errResolve})
		return
	}

	params := h.buildParams(model, rawJSON, messages)
	if gjson.GetBytes(rawJSON, "stream").Bool() {
		h.handleStreamingResponse(c, endpoint, params)
		return
	}
	h.handleNonStreamingResponse(c, endpoint, params)
}

func (h *OpenAIAPIHandler) buildParams(model string, rawJSON []byte, messages gjson.Result) interfaces.GenerateParams {
	var prompt string
	if messages.Type == gjson.String {
		prompt = messages.String()
	} else {
		prompt = h.template.Prompt(conversation.FromOpenAIMessages(messages))
	}
	params := interfaces.GenerateParams{
		Model:             model,
		Prompt:            prompt,
		Temperature:       h.defaults.Temperature,
		TopP:              h.defaults.TopP,
		RepetitionPenalty: h.defaults.RepetitionPenalty,
		MaxNewTokens:      h.defaults.MaxNewTokens,
		Stop:              h.template.StopSequences(),
	}
	if v := gjson.GetBytes(rawJSON, "temperature"); v.Type == gjson.Number {
		params.Temperature = v.Float()
	}
	if v := gjson.GetBytes(rawJSON, "top_p"); v.Type == gjson.Number {
		params.TopP = v.Float()
	}
	for _, key := range []string{"max_tokens", "max_completion_tokens"} {
		if v := gjson.GetBytes(rawJSON, key); v.Type == gjson.Number && v.Int() > 0 {
			params.MaxNewTokens = int(v.Int())
			break
		}
	}
	stop := gjson.GetBytes(rawJSON, "stop")
	if stop.Type == gjson.String && stop.String() != "" {
		params.Stop = append(params.Stop, stop.String())
	} else if stop.IsArray() {
		stop.ForEach(func(_, value gjson.Result) bool {
			if s := value.String(); s != "" {
				params.Stop = append(params.Stop, s)
			}
			return true
		})
	}
	return params
}

func (h *OpenAIAPIHandler) handleNonStreamingResponse(c *gin.Context, endpoint string, params interfaces.GenerateParams) {
	entry := logging.FromContext(c.Request.Context()).WithFields(log.Fields{"worker": endpoint, "model": params.Model})
	body, err := h.workers.Generate(c.Request.Context(), endpoint, params)
	if err != nil {
		entry.WithError(err).Error("worker generate failed")
		h.WriteErrorResponse(c, &interfaces.ErrorMessage{StatusCode: http.StatusServiceUnavailable, Error: errServiceUnavailable})
		return
	}

	out, err := translator.BuildCompletion(translator.NewCompletionID(), params.Model, h.now().Unix(), body)
	if err != nil {
		var genErr *translator.GenerationError
		if errors.As(err, &genErr) {
			entry.Warnf("worker reported error code %d", genErr.Code)
			h.WriteErrorResponse(c, &interfaces.ErrorMessage{StatusCode: http.StatusInternalServerError, Error: errors.New(genErr.Message)})
			return
		}
		entry.WithError(err).Error("worker returned an unreadable body")
		h.WriteErrorResponse(c, &interfaces.ErrorMessage{StatusCode: http.StatusBadGateway, Error: err})
		return
	}
	c.Data(http.StatusOK, "application/json", out)
}

func (h *OpenAIAPIHandler) handleStreamingResponse(c *gin.Context, endpoint string, params interfaces.GenerateParams) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		h.WriteErrorResponse(c, &interfaces.ErrorMessage{StatusCode: http.StatusInternalServerError, Error: errors.New("Streaming not supported")})
		return
	}
	entry := logging.FromContext(c.Request.Context()).WithFields(log.Fields{"worker": endpoint, "model": params.Model})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	src, err := h.workers.OpenStream(ctx, endpoint, params)
	if err != nil {
		entry.WithError(err).Error("failed to open worker stream")
		h.WriteErrorResponse(c, &interfaces.ErrorMessage{StatusCode: http.StatusServiceUnavailable, Error: errServiceUnavailable})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Status(http.StatusOK)

	data := make(chan []byte)
	done := make(chan struct{})
	chunks := translator.NewCompletionChunks(params.Model, h.now())
	go func() {
		defer close(done)
		defer close(data)
		res := translator.StreamSSE(ctx, src, translator.NewAccumulator(h.mode), chunks, func(event []byte) error {
			select {
			case data <- event:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		switch {
		case res.Err != nil:
			entry.WithError(res.Err).Info("chat completion stream abandoned by client")
		case res.Failed():
			entry.Warnf("chat completion stream ended with error code %d", res.ErrorCode)
		}
	}()

	h.ForwardStream(c, flusher, func(error) { cancel() }, data, handlers.StreamForwardOptions{
		WriteChunk: func(chunk []byte) {
			_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", chunk)
		},
	})
	<-done
}

func (h *OpenAIAPIHandler) badRequest(c *gin.Context, message string) {
	h.WriteErrorResponse(c, &interfaces.ErrorMessage{StatusCode: http.StatusBadRequest, Error: errors.New(message)})
}
