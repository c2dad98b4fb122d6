package chat

import (
	"context"
	"errors"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/conversation"
	"github.com/modelrelay/modelrelay/internal/interfaces"
	"github.com/modelrelay/modelrelay/internal/router"
	"github.com/modelrelay/modelrelay/internal/translator"
	log "github.com/sirupsen/logrus"
)

// ErrNothingPending is returned by Respond when the last turn is not a
// pending assistant turn.
var ErrNothingPending = errors.New("chat: no pending assistant turn")

// Sampling holds the generation parameters sent with every chat turn.
type Sampling struct {
	Temperature       float64
	TopP              float64
	RepetitionPenalty float64
	MaxNewTokens      int
}

// Service streams assistant turns from the worker serving a session's model.
type Service struct {
	router   *router.Router
	streams  translator.Opener
	template conversation.Template
	mode     translator.TextMode
	sampling Sampling
}

// NewService wires a service from cfg.
func NewService(r *router.Router, streams translator.Opener, cfg *config.Config) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Service{
		router:   r,
		streams:  streams,
		template: conversation.Default(),
		mode:     translator.ParseTextMode(cfg.Worker.TextMode),
		sampling: Sampling{
			Temperature:       cfg.Chat.Temperature,
			TopP:              cfg.Chat.TopP,
			RepetitionPenalty: cfg.Chat.RepetitionPenalty,
			MaxNewTokens:      cfg.Chat.MaxNewTokens,
		},
	}
}

// Respond generates the pending assistant turn of state. Frames go to emit as
// they arrive; the last one is final and its text is stored in state. Worker
// and routing failures end up as the final text and are not returned. The
// returned error is the cancellation of ctx or a misuse of the state.
func (s *Service) Respond(ctx context.Context, state *State, emit func(translator.ChatFrame)) error {
	if state.takeSkip() {
		return nil
	}
	if !state.Pending() {
		return ErrNothingPending
	}
	fields := log.Fields{"session": state.Session(), "model": state.ModelName}

	relay := translator.NewChatRelay(func(frame translator.ChatFrame) {
		if frame.Final {
			state.finalize(frame.Text)
		}
		if emit != nil {
			emit(frame)
		}
	})
	relay.Begin()

	endpoint, errResolve := s.router.Resolve(ctx, state.ModelName)
	if errResolve != nil {
		if errors.Is(errResolve, router.ErrNoWorker) {
			log.WithFields(fields).Warn("no worker for chat model")
			relay.Fail(translator.ErrorCodeNoWorker, translator.NoWorkerText(state.ModelName))
		} else {
			log.WithFields(fields).WithError(errResolve).Error("worker lookup failed")
			relay.Fail(translator.ErrorCodeConnection, translator.ConnectionErrorText(errResolve))
		}
		return nil
	}
	fields["worker"] = endpoint

	params := interfaces.GenerateParams{
		Model:             state.ModelName,
		Prompt:            state.prompt(s.template),
		Temperature:       s.sampling.Temperature,
		TopP:              s.sampling.TopP,
		RepetitionPenalty: s.sampling.RepetitionPenalty,
		MaxNewTokens:      s.sampling.MaxNewTokens,
		Stop:              s.template.StopSequences(),
	}
	log.WithFields(fields).Debug("chat generation started")

	src, errOpen := s.streams.OpenStream(ctx, endpoint, params)
	if errOpen != nil {
		log.WithFields(fields).WithError(errOpen).Error("failed to open worker stream")
		relay.Fail(translator.TransportErrorCode(errOpen), translator.ConnectionErrorText(errOpen))
		return nil
	}
	res := relay.Run(ctx, src, translator.NewAccumulator(s.mode))
	if res.Failed() {
		log.WithFields(fields).WithField("error_code", res.ErrorCode).Warn("chat generation failed")
	}
	return res.Err
}
