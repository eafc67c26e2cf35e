// Package tui provides a Bubble Tea terminal user interface for bundle-fetch.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"github.com/handiism/bundle-fetcher/internal/bundle"
	"github.com/handiism/bundle-fetcher/internal/download"
	"github.com/handiism/bundle-fetcher/internal/model"
)

// Styles for the TUI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8DADC"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)

	bundleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8B500"))
)

// errCancelled is shown when the user aborts a fetch.
var errCancelled = errors.New("cancelled by user")

// maxLogs is the number of event lines kept on screen.
const maxLogs = 10

// State represents the current UI state.
type State int

const (
	StateInput State = iota
	StateInitializing
	StateDownloading
	StateComplete
	StateError
)

// Level ranks a log line for styling and filtering.
type Level int

const (
	LevelVerbose Level = iota
	LevelInfo
	LevelSuccess
	LevelWarning
	LevelError
)

// LogEntry represents a log message in the UI.
type LogEntry struct {
	Message string
	Level   Level
}

// Options are the collaborators of the TUI.
type Options struct {
	Loader *bundle.Loader

	// Events carries scheduler events, typically fed from
	// download.Options.OnEvent. Optional.
	Events <-chan download.Event

	// Paths lays out saved bundles. Bundles are not written when
	// OutputPath is empty.
	Paths model.PathConfig
}

// Model is the Bubble Tea model for the TUI.
type Model struct {
	state     State
	textInput textinput.Model
	spinner   spinner.Model
	progress  progress.Model
	loader    *bundle.Loader
	scheduler *download.Scheduler
	events    <-chan download.Event
	paths     model.PathConfig
	logs      []LogEntry
	bundles   []string
	wrappers  []*download.Wrapper
	saved     []string
	err       error

	// Fetch context
	ctx    context.Context
	cancel context.CancelFunc

	// Fetch progress
	stats    download.Stats
	finished int
	failed   int

	// Options
	dependencies bool
	verbose      bool

	width  int
	height int
}

// NewModel creates a new TUI model.
func NewModel(opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "bundle names, blank for all"
	ti.Focus()
	ti.CharLimit = 500
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	ctx, cancel := context.WithCancel(context.Background())

	return Model{
		state:        StateInput,
		textInput:    ti,
		spinner:      sp,
		progress:     prog,
		loader:       opts.Loader,
		scheduler:    opts.Loader.Scheduler(),
		events:       opts.Events,
		paths:        opts.Paths,
		logs:         make([]LogEntry, 0),
		ctx:          ctx,
		cancel:       cancel,
		dependencies: true,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForEvent())
}

// Message types
type (
	// EventMsg carries one scheduler event.
	EventMsg struct {
		Event download.Event
	}

	// InitDoneMsg is sent when the manifest is loaded and bundles are queued.
	InitDoneMsg struct {
		Bundles  []string
		Wrappers []*download.Wrapper
		Err      error
	}

	// DownloadDoneMsg is sent when every queued bundle has an outcome.
	DownloadDoneMsg struct {
		Saved []string
		Err   error
	}

	// TickMsg is for periodic progress updates.
	TickMsg struct{}
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 20
		if m.progress.Width > 80 {
			m.progress.Width = 80
		}
		if m.progress.Width < 20 {
			m.progress.Width = 20
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancel()
			return m, tea.Quit

		case "esc":
			if m.state == StateInput {
				return m, tea.Quit
			}
			if m.state == StateDownloading || m.state == StateInitializing {
				m.cancel()
				for _, w := range m.wrappers {
					m.scheduler.CancelWrapper(w)
				}
				m.state = StateError
				m.err = errCancelled
			}

		case "enter":
			if m.state == StateInput {
				m.state = StateInitializing
				m.bundles = parseBundleNames(m.textInput.Value())
				return m, tea.Batch(m.initializeFetch(), m.spinner.Tick)
			}

		case "ctrl+d":
			if m.state == StateInput {
				m.dependencies = !m.dependencies
			}

		case "ctrl+v":
			if m.state == StateInput {
				m.verbose = !m.verbose
			}

		case "q":
			if m.state == StateComplete || m.state == StateError {
				return m, tea.Quit
			}

		case "r":
			if m.state == StateComplete || m.state == StateError {
				// Reset for a new fetch
				m.scheduler.ClearFinished()
				m.state = StateInput
				m.logs = nil
				m.bundles = nil
				m.wrappers = nil
				m.saved = nil
				m.err = nil
				m.finished = 0
				m.failed = 0
				m.ctx, m.cancel = context.WithCancel(context.Background())
				m.textInput.SetValue("")
				m.textInput.Focus()
				return m, nil
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case EventMsg:
		if entry, ok := eventLog(msg.Event); ok && (entry.Level != LevelVerbose || m.verbose) {
			m.logs = append(m.logs, entry)
			// Keep only the last lines
			if len(m.logs) > maxLogs {
				m.logs = m.logs[len(m.logs)-maxLogs:]
			}
		}
		cmds = append(cmds, m.waitForEvent())

	case InitDoneMsg:
		if m.state != StateInitializing {
			// Cancelled while the manifest was loading.
			for _, w := range msg.Wrappers {
				m.scheduler.CancelWrapper(w)
			}
			return m, nil
		}
		if msg.Err != nil {
			m.state = StateError
			m.err = msg.Err
		} else {
			m.bundles = msg.Bundles
			m.wrappers = msg.Wrappers
			m.state = StateDownloading
			cmds = append(cmds, m.startFetch(), m.tickProgress())
		}

	case DownloadDoneMsg:
		if m.state != StateDownloading {
			return m, nil
		}
		m.saved = msg.Saved
		m.finished, m.failed = countOutcomes(m.wrappers)
		switch {
		case m.ctx.Err() != nil:
			m.state = StateError
			m.err = errCancelled
		case msg.Err != nil:
			m.state = StateError
			m.err = msg.Err
		default:
			m.state = StateComplete
		}

	case TickMsg:
		if m.state == StateDownloading {
			m.stats = m.scheduler.Stats()
			m.finished, m.failed = countOutcomes(m.wrappers)

			var percent float64
			if len(m.wrappers) > 0 {
				percent = float64(m.finished) / float64(len(m.wrappers))
			}
			progressCmd := m.progress.SetPercent(percent)
			cmds = append(cmds, progressCmd, m.tickProgress())
		}

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	// Update text input
	if m.state == StateInput {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// tickProgress returns a command to tick progress updates.
func (m Model) tickProgress() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// waitForEvent returns a command that delivers the next scheduler event.
func (m Model) waitForEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return EventMsg{Event: ev}
	}
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	// Header
	b.WriteString(titleStyle.Render("📦 Bundle Fetcher"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.loader.ManifestURL()))
	b.WriteString("\n\n")

	switch m.state {
	case StateInput:
		b.WriteString(m.viewInput())
	case StateInitializing:
		b.WriteString(m.viewInitializing())
	case StateDownloading:
		b.WriteString(m.viewDownloading())
	case StateComplete:
		b.WriteString(m.viewComplete())
	case StateError:
		b.WriteString(m.viewError())
	}

	// Footer
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.getHelpText()))

	return b.String()
}

func (m Model) viewInput() string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Bundles to fetch:"))
	b.WriteString("\n\n")
	b.WriteString(m.textInput.View())
	b.WriteString("\n\n")

	depsCheck := "[ ]"
	if m.dependencies {
		depsCheck = "[×]"
	}
	verboseCheck := "[ ]"
	if m.verbose {
		verboseCheck = "[×]"
	}

	b.WriteString(infoStyle.Render("Options:"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %s Include dependencies (ctrl+d)\n", depsCheck))
	b.WriteString(fmt.Sprintf("  %s Verbose events (ctrl+v)\n", verboseCheck))
	b.WriteString("\n")
	if m.paths.OutputPath != "" {
		b.WriteString(dimStyle.Render("Output path: " + m.paths.Dir(m.loader.Placeholders())))
	} else {
		b.WriteString(dimStyle.Render("Output path: none, bundles are not written"))
	}
	b.WriteString("\n")

	return b.String()
}

func (m Model) viewInitializing() string {
	var b strings.Builder

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(subtitleStyle.Render("Fetching manifest..."))
	b.WriteString("\n\n")

	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewDownloading() string {
	var b strings.Builder

	if len(m.bundles) > 0 {
		b.WriteString(successStyle.Render(fmt.Sprintf("Fetching %d bundle(s):", len(m.bundles))))
		b.WriteString("\n")
		for _, name := range m.bundles {
			b.WriteString(bundleStyle.Render("  • " + name))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	var percent float64
	if len(m.wrappers) > 0 {
		percent = float64(m.finished) / float64(len(m.wrappers))
	}
	b.WriteString(m.progress.ViewAs(percent))
	b.WriteString("\n")

	b.WriteString(infoStyle.Render(fmt.Sprintf(
		"Requests: %d/%d | Waiting: %d | Active: %d | Failed: %d",
		m.finished,
		len(m.wrappers),
		m.stats.Waiting,
		m.stats.Active,
		m.failed,
	)))
	b.WriteString("\n\n")

	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewComplete() string {
	var b strings.Builder

	box := boxStyle.Render(fmt.Sprintf(
		"✨ Fetch Complete!\n\n"+
			"Requests: %d\n"+
			"Failed: %d\n"+
			"Files written: %d",
		len(m.wrappers),
		m.failed,
		len(m.saved),
	))
	b.WriteString(box)
	b.WriteString("\n\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString(errorStyle.Render("❌ Error occurred:"))
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(fmt.Sprintf("  %s", m.err.Error()))
	}
	b.WriteString("\n\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) renderLogs() string {
	var b strings.Builder

	for _, log := range m.logs {
		var style lipgloss.Style
		prefix := "•"
		switch log.Level {
		case LevelError:
			style = errorStyle
			prefix = "✗"
		case LevelWarning:
			style = warningStyle
			prefix = "!"
		case LevelSuccess:
			style = successStyle
			prefix = "✓"
		case LevelInfo:
			style = infoStyle
			prefix = "›"
		default:
			style = dimStyle
		}
		b.WriteString(style.Render(prefix + " " + log.Message))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) getHelpText() string {
	switch m.state {
	case StateInput:
		return "enter: start • ctrl+d: dependencies • ctrl+v: verbose • esc: quit"
	case StateInitializing, StateDownloading:
		return "esc: cancel"
	case StateComplete, StateError:
		return "r: new fetch • q: quit"
	}
	return ""
}

// initializeFetch loads the manifest if needed and queues the bundles.
func (m Model) initializeFetch() tea.Cmd {
	ctx, loader := m.ctx, m.loader
	names, deps := m.bundles, m.dependencies

	return func() tea.Msg {
		if _, ok := loader.Manifest(); !ok {
			mw, err := loader.RequestManifest(ctx)
			if err != nil {
				return InitDoneMsg{Err: err}
			}
			if err := bundle.WaitAll(ctx, mw); err != nil {
				return InitDoneMsg{Err: err}
			}
			if _, ok := loader.Manifest(); !ok {
				return InitDoneMsg{Err: errors.New("manifest could not be parsed")}
			}
		}

		ws, err := loader.RequestBundles(ctx, names, deps)
		if err != nil {
			return InitDoneMsg{Err: err}
		}
		if len(names) == 0 {
			manifest, _ := loader.Manifest()
			names = manifest.BundleNames()
		}
		return InitDoneMsg{Bundles: names, Wrappers: ws}
	}
}

// startFetch waits for every queued bundle and writes the payloads.
func (m Model) startFetch() tea.Cmd {
	ctx, loader := m.ctx, m.loader
	paths, ws := m.paths, m.wrappers

	return func() tea.Msg {
		waitErr := bundle.WaitAll(ctx, ws...)
		if ctx.Err() != nil {
			return DownloadDoneMsg{Err: ctx.Err()}
		}

		var saved []string
		if paths.OutputPath != "" {
			var err error
			if saved, err = loader.SavePayloads(ctx, paths, ws); err != nil {
				return DownloadDoneMsg{Saved: saved, Err: err}
			}
		}
		return DownloadDoneMsg{Saved: saved, Err: waitErr}
	}
}

// parseBundleNames splits input on commas and whitespace.
func parseBundleNames(input string) []string {
	return strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// countOutcomes returns how many wrappers are done and how many of those failed.
func countOutcomes(ws []*download.Wrapper) (finished, failed int) {
	for _, w := range ws {
		if !w.IsDone() {
			continue
		}
		finished++
		if !w.Succeeded() {
			failed++
		}
	}
	return finished, failed
}

// eventLog turns a scheduler event into a log line.
func eventLog(ev download.Event) (LogEntry, bool) {
	switch ev.Kind {
	case download.EventQueued:
		return LogEntry{Message: "Queued " + ev.ID, Level: LevelVerbose}, true
	case download.EventStarted:
		return LogEntry{Message: fmt.Sprintf("Started %s (attempt %d)", ev.ID, ev.Attempt), Level: LevelVerbose}, true
	case download.EventRetrying:
		return LogEntry{Message: fmt.Sprintf("Retrying %s after attempt %d: %s", ev.ID, ev.Attempt, ev.Message), Level: LevelWarning}, true
	case download.EventCompleted:
		return LogEntry{Message: "Fetched " + ev.ID, Level: LevelSuccess}, true
	case download.EventFailed:
		return LogEntry{Message: fmt.Sprintf("Failed %s: %s", ev.ID, ev.Message), Level: LevelError}, true
	case download.EventCancelled:
		return LogEntry{Message: "Cancelled " + ev.ID, Level: LevelInfo}, true
	}
	return LogEntry{}, false
}

// Run starts the TUI application.
func Run(opts Options) error {
	p := tea.NewProgram(NewModel(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
