package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/modelrelay/modelrelay/internal/chat"
	"github.com/modelrelay/modelrelay/internal/conversation"
	"github.com/modelrelay/modelrelay/internal/translator"
	log "github.com/sirupsen/logrus"
)

const (
	maxLogLines   = 2000
	logPaneHeight = 8
	frameBuffer   = 64
)

// Responder generates the pending assistant turn of a chat state.
// *chat.Service implements it.
type Responder interface {
	Respond(ctx context.Context, state *chat.State, emit func(translator.ChatFrame)) error
}

// Options configures the chat front end.
type Options struct {
	Model          string
	SystemPrompt   string
	InputCharLimit int
	// Hook, when set, feeds the log pane.
	Hook *LogHook
}

type frameMsg translator.ChatFrame

type respondDoneMsg struct {
	err error
}

type logLineMsg string

// App is the root bubbletea model: transcript, input line and log pane.
type App struct {
	ctx       context.Context
	responder Responder
	state     *chat.State
	limit     int
	hook      *LogHook

	transcript viewport.Model
	logs       viewport.Model
	input      textinput.Model

	logLines []string
	showLogs bool

	busy   bool
	live   *translator.ChatFrame
	frames chan tea.Msg
	cancel context.CancelFunc
	status string

	width  int
	height int
	ready  bool
}

// NewApp creates the chat model. ctx bounds every generation it starts.
func NewApp(ctx context.Context, responder Responder, opts Options) App {
	if ctx == nil {
		ctx = context.Background()
	}
	ti := textinput.New()
	ti.Placeholder = "Send a message"
	ti.Prompt = "> "
	if opts.InputCharLimit > 0 {
		ti.CharLimit = opts.InputCharLimit
	}
	ti.Focus()

	return App{
		ctx:        ctx,
		responder:  responder,
		state:      chat.NewState(opts.Model, opts.SystemPrompt),
		limit:      opts.InputCharLimit,
		hook:       opts.Hook,
		transcript: viewport.New(80, 20),
		logs:       viewport.New(80, logPaneHeight),
		input:      ti,
	}
}

func (a App) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if a.hook != nil {
		cmds = append(cmds, a.waitForLog)
	}
	return tea.Batch(cmds...)
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		a.layout()
		return a, nil

	case frameMsg:
		frame := translator.ChatFrame(msg)
		a.live = &frame
		a.refreshTranscript()
		return a, waitForFrame(a.frames)

	case respondDoneMsg:
		failure := ""
		if a.live != nil && a.live.Failed {
			failure = fmt.Sprintf("generation failed (error %d)", a.live.Code)
		}
		a.busy = false
		a.live = nil
		a.frames = nil
		if a.cancel != nil {
			a.cancel()
			a.cancel = nil
		}
		a.status = failure
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			a.status = msg.err.Error()
		}
		a.refreshTranscript()
		return a, nil

	case logLineMsg:
		a.logLines = append(a.logLines, string(msg))
		if len(a.logLines) > maxLogLines {
			a.logLines = a.logLines[len(a.logLines)-maxLogLines:]
		}
		a.refreshLogs()
		return a, a.waitForLog

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			if a.cancel != nil {
				a.cancel()
			}
			return a, tea.Quit
		case "enter":
			if a.busy {
				return a, nil
			}
			text := a.input.Value()
			a.input.Reset()
			if err := a.state.AddText(text, a.limit); err != nil {
				a.status = err.Error()
				return a, nil
			}
			return a.startRespond()
		case "ctrl+r":
			if a.busy {
				return a, nil
			}
			ok, err := a.state.Regenerate()
			if err != nil || !ok {
				a.status = "nothing to regenerate"
				return a, nil
			}
			return a.startRespond()
		case "ctrl+n":
			if a.busy {
				return a, nil
			}
			if err := a.state.Clear(); err != nil {
				a.status = err.Error()
				return a, nil
			}
			a.status = "new session " + a.state.Session()
			a.refreshTranscript()
			return a, nil
		case "ctrl+l":
			a.showLogs = !a.showLogs
			a.layout()
			return a, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			a.transcript, cmd = a.transcript.Update(msg)
			return a, cmd
		}
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

// startRespond runs Respond in the background. Frames and the final result
// come back one message at a time through a.frames.
func (a App) startRespond() (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(a.ctx)
	frames := make(chan tea.Msg, frameBuffer)
	responder, state := a.responder, a.state

	go func() {
		defer close(frames)
		err := responder.Respond(ctx, state, func(frame translator.ChatFrame) {
			select {
			case frames <- frameMsg(frame):
			case <-ctx.Done():
			}
		})
		if errors.Is(err, chat.ErrNothingPending) {
			err = nil
		}
		frames <- respondDoneMsg{err: err}
	}()

	a.busy = true
	a.live = nil
	a.status = ""
	a.frames = frames
	a.cancel = cancel
	a.refreshTranscript()
	return a, waitForFrame(frames)
}

func waitForFrame(frames <-chan tea.Msg) tea.Cmd {
	if frames == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-frames
		if !ok {
			return nil
		}
		return msg
	}
}

func (a App) waitForLog() tea.Msg {
	if a.hook == nil {
		return nil
	}
	line, ok := <-a.hook.Chan()
	if !ok {
		return nil
	}
	return logLineMsg(line)
}

func (a *App) layout() {
	if !a.ready {
		return
	}
	// title, input and status bar
	height := a.height - 3
	if a.showLogs {
		height -= logPaneHeight + 1
	}
	if height < 1 {
		height = 1
	}
	a.transcript.Width = a.width
	a.transcript.Height = height
	a.logs.Width = a.width
	a.logs.Height = logPaneHeight
	if a.width > 4 {
		a.input.Width = a.width - 4
	}
	a.refreshTranscript()
	a.refreshLogs()
}

func (a *App) refreshTranscript() {
	a.transcript.SetContent(a.renderTranscript())
	a.transcript.GotoBottom()
}

func (a *App) refreshLogs() {
	var sb strings.Builder
	for _, line := range a.logLines {
		sb.WriteString(styleLogLine(line))
		sb.WriteString("\n")
	}
	a.logs.SetContent(sb.String())
	a.logs.GotoBottom()
}

func (a App) renderTranscript() string {
	turns := a.state.Turns()
	if len(turns) == 0 {
		return subtitleStyle.Render("No messages yet.")
	}
	width := a.transcript.Width - 2
	if width < 10 {
		width = 10
	}
	var sb strings.Builder
	for _, turn := range turns {
		switch turn.Role {
		case conversation.RoleUser:
			sb.WriteString(userLabelStyle.Render("You"))
			sb.WriteString("\n")
			sb.WriteString(messageStyle.Width(width).Render(turn.Content))
		case conversation.RoleAssistant:
			sb.WriteString(assistantLabelStyle.Render(a.state.ModelName))
			sb.WriteString("\n")
			text, style := turn.Content, messageStyle
			if turn.Pending {
				text = ""
				if a.live != nil {
					text = a.live.Text
					if a.live.Failed {
						style = failedMessageStyle
					}
				}
			}
			sb.WriteString(style.Width(width).Render(text))
		}
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (a App) View() string {
	if !a.ready {
		return "Initializing..."
	}
	title := titleStyle.Render(fmt.Sprintf("modelrelay chat · %s", a.state.ModelName))

	sections := []string{title, a.transcript.View()}
	if a.showLogs {
		sections = append(sections, logPaneStyle.Width(a.width).Render(a.logs.View()))
	}
	sections = append(sections, a.input.View(), a.renderStatusBar())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (a App) renderStatusBar() string {
	left := helpStyle.Render("enter send · ctrl+r regenerate · ctrl+n clear · ctrl+l logs · esc quit")
	right := a.status
	if a.busy {
		right = "generating..."
	}
	gap := a.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return statusBarStyle.Width(a.width).Render(left + strings.Repeat(" ", gap) + right)
}

// Run starts the chat program and blocks until the user quits or ctx ends.
func Run(ctx context.Context, responder Responder, opts Options, output io.Writer) error {
	if output == nil {
		output = os.Stdout
	}
	app := NewApp(ctx, responder, opts)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithOutput(output), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		log.Debug("chat closed by shutdown signal")
		return nil
	}
	return err
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
