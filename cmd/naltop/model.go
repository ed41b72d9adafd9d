package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/nalrelay/internal/registry"
)

// streamSource is the part of the API the dashboard uses.
type streamSource interface {
	Streams(ctx context.Context) ([]*registry.Stream, error)
	Disconnect(ctx context.Context, id string) error
}

type tickMsg time.Time

type streamsMsg struct {
	streams []*registry.Stream
	err     error
}

type disconnectMsg struct {
	id  string
	err error
}

// model is the dashboard state.
type model struct {
	api      streamSource
	interval time.Duration
	target   string

	streams  []*registry.Stream
	prev     map[string]int64 // bytes received at the previous poll
	rates    map[string]float64
	lastPoll time.Time

	cursor   int
	err      error
	notice   string
	width    int
	quitting bool
}

func newModel(api streamSource, target string, interval time.Duration) *model {
	return &model{
		api:      api,
		target:   target,
		interval: interval,
		prev:     make(map[string]int64),
		rates:    make(map[string]float64),
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tick(m.interval))
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *model) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		streams, err := m.api.Streams(ctx)
		return streamsMsg{streams: streams, err: err}
	}
}

func (m *model) disconnect(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return disconnectMsg{id: id, err: m.api.Disconnect(ctx, id)}
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.streams)-1 {
				m.cursor++
			}
		case "d":
			if m.cursor < len(m.streams) {
				return m, m.disconnect(m.streams[m.cursor].ID)
			}
		}
		return m, nil

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		return m, tea.Batch(m.fetch(), tick(m.interval))

	case streamsMsg:
		m.err = msg.err
		if msg.err == nil {
			m.applyStreams(msg.streams, time.Now())
		}
		return m, nil

	case disconnectMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("disconnect %s failed: %v", msg.id, msg.err)
		} else {
			m.notice = "disconnected " + msg.id
		}
		return m, m.fetch()
	}

	return m, nil
}

// applyStreams replaces the stream list and derives receive rates from the
// byte counters.
func (m *model) applyStreams(streams []*registry.Stream, now time.Time) {
	elapsed := now.Sub(m.lastPoll).Seconds()
	next := make(map[string]int64, len(streams))
	for _, s := range streams {
		next[s.ID] = s.Stats.BytesReceived
		if prev, ok := m.prev[s.ID]; ok && elapsed > 0 && !m.lastPoll.IsZero() {
			m.rates[s.ID] = float64(s.Stats.BytesReceived-prev) * 8 / elapsed
		}
	}
	for id := range m.rates {
		if _, ok := next[id]; !ok {
			delete(m.rates, id)
		}
	}

	m.prev = next
	m.lastPoll = now
	m.streams = streams
	if m.cursor >= len(streams) {
		m.cursor = max(len(streams)-1, 0)
	}
}

var columns = []struct {
	title string
	width int
}{
	{"STATUS", 6}, {"STREAM", 14}, {"NAME", 12}, {"REMOTE", 21}, {"CODEC", 12},
	{"SIZE", 10}, {"FPS", 6}, {"AUs", 9}, {"KEY", 6}, {"DROP", 6}, {"RATE", 10},
}

func (m *model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("naltop  %s  %d streams", m.target, len(m.streams))))
	b.WriteString("\n\n")

	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = pad(c.title, c.width)
	}
	b.WriteString(TableHeaderStyle.Render(strings.Join(header, " ")))
	b.WriteString("\n")

	if len(m.streams) == 0 {
		b.WriteString(MutedStyle.Render("no active streams"))
		b.WriteString("\n")
	}

	for i, s := range m.streams {
		cells := []string{
			s.ID, s.Name, s.RemoteAddr, s.Codec, s.Resolution(),
			fmt.Sprintf("%.2f", s.FPS),
			fmt.Sprint(s.Stats.AccessUnits),
			fmt.Sprint(s.Stats.Keyframes),
			fmt.Sprint(s.Stats.VCLDropped),
			formatBitrate(m.rates[s.ID]),
		}
		row := make([]string, 0, len(columns))
		row = append(row, lipgloss.NewStyle().Width(columns[0].width).Render(StatusBadge(string(s.Status))))
		for j, cell := range cells {
			row = append(row, pad(cell, columns[j+1].width))
		}

		line := strings.Join(row, " ")
		if i == m.cursor {
			b.WriteString(SelectedStyle.Render(line))
		} else {
			b.WriteString(RowStyle.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(ErrorStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString(MutedStyle.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString(MutedStyle.Render("↑/↓ select  d disconnect  r refresh  q quit"))
	b.WriteString("\n")
	return b.String()
}

func pad(s string, width int) string {
	if len(s) > width {
		if width <= 1 {
			return s[:width]
		}
		return s[:width-1] + "…"
	}
	return s + strings.Repeat(" ", width-len(s))
}

func formatBitrate(bps float64) string {
	switch {
	case bps <= 0:
		return "-"
	case bps >= 1e6:
		return fmt.Sprintf("%.1f Mb/s", bps/1e6)
	case bps >= 1e3:
		return fmt.Sprintf("%.0f kb/s", bps/1e3)
	default:
		return fmt.Sprintf("%.0f b/s", bps)
	}
}
