// Package dashboard is a read-only terminal viewer over the State Store,
// polling swap records and wallet balance on a ticker and rendering them
// with bubbletea/lipgloss. Grounded on the teacher's internal/tui/model.go
// color palette and Bubble Tea Init/Update/View shape, shrunk from that
// package's many screens and hotkeys down to the one scrolling panel this
// engine's Non-goals leave room for (spec.md names no interactive trading
// console, so this never issues a command back into the pipeline).
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"copytrade-engine/internal/model"
)

var (
	colorBorder  = lipgloss.Color("#2e7de9")
	colorText    = lipgloss.Color("#a9b1d6")
	colorHeader  = lipgloss.Color("#7aa2f7")
	colorSuccess = lipgloss.Color("#9ece6a")
	colorFailed  = lipgloss.Color("#f7768e")
	colorPending = lipgloss.Color("#ff9e64")

	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(colorHeader)
	styleFrame  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorBorder).Padding(0, 1)
	styleFooter = lipgloss.NewStyle().Foreground(colorText).Italic(true)
)

// Store is the State Store surface the dashboard polls.
type Store interface {
	GetRecentSwapRecords(limit int) ([]*model.SwapRecord, error)
}

// BalanceSource supplies the wallet balance panel; nil disables it, for a
// dashboard run against a store with no configured wallet.
type BalanceSource interface {
	BalanceSOL() float64
}

type tickMsg time.Time

type refreshedMsg struct {
	records []*model.SwapRecord
	err     error
}

// Model is the dashboard's Bubble Tea model.
type Model struct {
	store    Store
	balance  BalanceSource
	interval time.Duration
	logLines int

	records []*model.SwapRecord
	err     error
	width   int
	height  int
	quit    key.Binding
}

// New builds a dashboard polling store every refreshInterval, keeping up to
// logLines recent swap records on screen. balance may be nil.
func New(store Store, balance BalanceSource, refreshInterval time.Duration, logLines int) Model {
	if refreshInterval <= 0 {
		refreshInterval = 2 * time.Second
	}
	if logLines <= 0 {
		logLines = 20
	}
	return Model{
		store:    store,
		balance:  balance,
		interval: refreshInterval,
		logLines: logLines,
		quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tickEvery(m.interval))
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		records, err := m.store.GetRecentSwapRecords(m.logLines)
		return refreshedMsg{records: records, err: err}
	}
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case tea.KeyMsg:
		if key.Matches(msg, m.quit) {
			return m, tea.Quit
		}
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.refresh(), tickEvery(m.interval))
	case refreshedMsg:
		m.records = msg.records
		m.err = msg.err
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(styleHeader.Render("copytrade engine"))
	b.WriteString("\n")

	if m.balance != nil {
		b.WriteString(fmt.Sprintf("wallet balance: %.4f SOL\n", m.balance.BalanceSOL()))
	}
	if m.err != nil {
		b.WriteString(lipgloss.NewStyle().Foreground(colorFailed).Render(fmt.Sprintf("store error: %v", m.err)))
		b.WriteString("\n")
	}

	b.WriteString(styleHeader.Render(fmt.Sprintf("recent swaps (%d)", len(m.records))))
	b.WriteString("\n")
	for _, r := range m.records {
		b.WriteString(renderRecord(r))
		b.WriteString("\n")
	}

	body := styleFrame.Render(b.String())
	footer := styleFooter.Render("q: quit")
	return body + "\n" + footer
}

func renderRecord(r *model.SwapRecord) string {
	c := colorPending
	switch r.Status {
	case model.StatusSuccess:
		c = colorSuccess
	case model.StatusFailed, model.StatusExpired, model.StatusBuildFailed:
		c = colorFailed
	}
	sig := r.Signature
	if len(sig) > 12 {
		sig = sig[:12] + "..."
	}
	line := fmt.Sprintf("%s %s %s in=%d out=%d",
		runewidth.FillRight(sig, 16),
		runewidth.FillRight(r.Direction.String(), 5),
		runewidth.FillRight(r.Status.String(), 13),
		r.InputAmount, r.OutputAmount)
	return lipgloss.NewStyle().Foreground(c).Render(line)
}

// Run blocks serving the dashboard program until the user quits or ctx is
// cancelled.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
