package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/modelrelay/modelrelay/internal/chat"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/logging"
	"github.com/modelrelay/modelrelay/internal/router"
	"github.com/modelrelay/modelrelay/internal/tui"
	"github.com/modelrelay/modelrelay/internal/worker"
	log "github.com/sirupsen/logrus"
)

// ErrNoModel is returned when no chat model is configured and the controller
// reports none.
var ErrNoModel = errors.New("cmd: no model available for chat")

// DoChat runs the terminal chat client against the controller at
// cfg.ControllerURL(). Console logging moves into the chat's log pane
// while it runs.
func DoChat(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		cfg = config.Default()
	}
	controller := router.NewControllerClient(cfg)

	model, errModel := chatModel(ctx, cfg, controller)
	if errModel != nil {
		return errModel
	}

	hook := tui.NewLogHook(2000)
	hook.SetFormatter(&logging.LogFormatter{})
	log.AddHook(hook)
	logging.SetConsoleOutput(io.Discard)
	defer logging.SetConsoleOutput(os.Stdout)

	svc := chat.NewService(router.New(controller), worker.NewClient(cfg), cfg)
	log.WithField("model", model).Info("chat session started")
	return tui.Run(ctx, svc, tui.Options{
		Model:          model,
		SystemPrompt:   cfg.Chat.SystemPrompt,
		InputCharLimit: cfg.Chat.InputCharLimit,
		Hook:           hook,
	}, os.Stdout)
}

// chatModel returns the configured model, or the first one the controller
// lists after asking it to refresh its worker.
func chatModel(ctx context.Context, cfg *config.Config, controller *router.ControllerClient) (string, error) {
	if cfg.Chat.Model != "" {
		return cfg.Chat.Model, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*cfg.ControllerQueryTimeout()+time.Second)
	defer cancel()

	if errRefresh := controller.RefreshAll(ctx); errRefresh != nil {
		log.Warnf("failed to refresh workers: %v", errRefresh)
	}
	models, errList := controller.ListModels(ctx)
	if errList != nil {
		return "", fmt.Errorf("cmd: list models: %w", errList)
	}
	if len(models) == 0 {
		return "", ErrNoModel
	}
	log.Debugf("models: %v", models)
	return models[0], nil
}
