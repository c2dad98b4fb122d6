package translator

import (
	"strings"
	"unicode/utf8"
)

// TextMode says how a worker reports text in its frames.
type TextMode int

const (
	// Cumulative frames carry the whole text generated so far.
	Cumulative TextMode = iota
	// Incremental frames carry only the newly generated piece.
	Incremental
)

// ParseTextMode maps the configuration value to a TextMode.
func ParseTextMode(value string) TextMode {
	if strings.EqualFold(strings.TrimSpace(value), "incremental") {
		return Incremental
	}
	return Cumulative
}

// Accumulator tracks the text of one generation and derives per-frame deltas.
type Accumulator struct {
	mode    TextMode
	text    string
	emitted int
}

// NewAccumulator returns an empty accumulator for mode.
func NewAccumulator(mode TextMode) *Accumulator {
	return &Accumulator{mode: mode}
}

// Text returns the text accumulated so far.
func (a *Accumulator) Text() string {
	return a.text
}

// Apply folds a chunk in and returns the part of the text not yet emitted.
// Frames without text leave the state unchanged.
func (a *Accumulator) Apply(chunk Chunk) string {
	if !chunk.HasText || chunk.Text == "" {
		return ""
	}
	if a.mode == Incremental {
		a.text += chunk.Text
		a.emitted = len(a.text)
		return chunk.Text
	}

	// A trailing replacement rune is a partially decoded character; wait for the next frame.
	if strings.HasSuffix(chunk.Text, string(utf8.RuneError)) {
		return ""
	}
	// A shorter frame replaces the text but never retracts deltas already sent.
	if len(chunk.Text) <= a.emitted {
		a.text = chunk.Text
		return ""
	}
	start := a.emitted
	for start < len(chunk.Text) && !utf8.RuneStart(chunk.Text[start]) {
		start++
	}
	a.text = chunk.Text
	a.emitted = len(chunk.Text)
	return chunk.Text[start:]
}
