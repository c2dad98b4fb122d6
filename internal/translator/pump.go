package translator

import (
	"context"
	"errors"
	"io"

	"github.com/modelrelay/modelrelay/internal/interfaces"
	log "github.com/sirupsen/logrus"
)

// FrameSource yields raw worker frames. Next returns io.EOF at the end of the
// stream. Close must be safe to call concurrently with a blocked Next.
type FrameSource interface {
	Next() ([]byte, error)
	Close() error
}

// Opener starts a streaming generation on a worker.
type Opener interface {
	OpenStream(ctx context.Context, endpoint string, params interfaces.GenerateParams) (FrameSource, error)
}

// DeltaFunc receives the accumulated text and the newly generated piece.
// Returning an error stops the pump.
type DeltaFunc func(text, delta string) error

// Result is the outcome of one pumped generation.
type Result struct {
	// Text is the accumulated text at the point the pump stopped.
	Text string
	// FinishReason is the worker's finish reason, empty if it sent none.
	FinishReason string
	// ErrorCode is nonzero when the worker reported a failure or the connection broke.
	ErrorCode int
	// ErrorText describes the failure for display.
	ErrorText string
	// Err is set when the consumer side stopped the pump: cancellation or a failed write.
	Err error
}

// Failed reports whether the generation ended with a worker or transport failure.
func (r Result) Failed() bool {
	return r.ErrorCode != 0
}

// Pump pulls frames from src until the worker finishes, fails or the consumer
// goes away, calling onDelta for every new piece of text. src is closed on
// every exit path, and cancelling ctx closes it immediately so a blocked read
// returns.
func Pump(ctx context.Context, src FrameSource, acc *Accumulator, onDelta DeltaFunc) Result {
	defer func() {
		_ = src.Close()
	}()
	stop := context.AfterFunc(ctx, func() {
		_ = src.Close()
	})
	defer stop()

	for {
		frame, errNext := src.Next()
		if errCtx := ctx.Err(); errCtx != nil {
			return Result{Text: acc.Text(), Err: errCtx}
		}
		if errNext != nil {
			if errors.Is(errNext, io.EOF) {
				return Result{Text: acc.Text()}
			}
			log.WithError(errNext).Warn("worker stream broke before completion")
			return Result{Text: acc.Text(), ErrorCode: TransportErrorCode(errNext), ErrorText: ConnectionErrorText(errNext)}
		}

		chunk, errParse := ParseChunk(frame)
		if errParse != nil {
			log.WithError(errParse).Warnf("dropping stream after malformed frame: %.120s", frame)
			return Result{Text: acc.Text(), ErrorCode: ErrorCodeMalformedPayload, ErrorText: ConnectionErrorText(errParse)}
		}
		if chunk.ErrorCode != 0 {
			return Result{Text: acc.Text(), ErrorCode: chunk.ErrorCode, ErrorText: WorkerErrorText(chunk.ErrorCode, chunk.Text)}
		}

		if delta := acc.Apply(chunk); delta != "" && onDelta != nil {
			if errSink := onDelta(acc.Text(), delta); errSink != nil {
				return Result{Text: acc.Text(), Err: errSink}
			}
		}
		if chunk.FinishReason != "" {
			return Result{Text: acc.Text(), FinishReason: chunk.FinishReason}
		}
	}
}
