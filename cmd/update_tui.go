// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/ember/pkg/host"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// TUI model for the update command
type updateModel struct {
	connInfo      string
	bundle        string
	bar           progress.Model
	current       host.Progress
	totalResends  int
	started       time.Time
	elapsed       time.Duration
	log           []logEntry
	maxLogEntries int
	width         int
	height        int
	done          bool
	err           error
	cancel        context.CancelFunc
}

// Messages
type tickMsg time.Time
type progressMsg host.Progress
type doneMsg struct {
	err error
}

func newUpdateModel(connInfo, bundle string, cancel context.CancelFunc) updateModel {
	return updateModel{
		connInfo:      connInfo,
		bundle:        bundle,
		bar:           progress.New(progress.WithDefaultGradient()),
		started:       time.Now(),
		log:           make([]logEntry, 0),
		maxLogEntries: 8,
		width:         80,
		height:        24,
		cancel:        cancel,
	}
}

func (m updateModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m updateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.done {
				m.cancel()
				m.addLogEntry("Cancelled", true)
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(msg.Width-8, 10)

	case tickMsg:
		if m.done {
			return m, nil
		}
		m.elapsed = time.Since(m.started)
		return m, tickCmd()

	case progressMsg:
		p := host.Progress(msg)
		if p.Resends > 0 {
			m.totalResends++
			m.addLogEntry(fmt.Sprintf("Frame %d rejected, resend %d", p.Frame+1, p.Resends), true)
		}
		m.current = p

	case doneMsg:
		m.done = true
		m.err = msg.err
		m.elapsed = time.Since(m.started)
		if msg.err != nil {
			m.addLogEntry(msg.err.Error(), true)
		} else {
			m.addLogEntry("Update accepted", false)
		}
	}

	return m, nil
}

func (m *updateModel) addLogEntry(message string, isError bool) {
	m.log = append(m.log, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.log) > m.maxLogEntries {
		m.log = m.log[len(m.log)-m.maxLogEntries:]
	}
}

func (m updateModel) View() string {
	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("EMBER - FIRMWARE UPDATE"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | %s | Press 'q' to quit", m.connInfo, m.bundle)))
	s.WriteString("\n\n")

	s.WriteString(m.bar.ViewAs(m.current.Percent()))
	s.WriteString("\n\n")

	var stats strings.Builder
	fmt.Fprintf(&stats, "%s %s\n", labelStyle.Render("Frames: "),
		valueStyle.Render(fmt.Sprintf("%d / %d", m.current.Frame, m.current.Total)))
	fmt.Fprintf(&stats, "%s %s\n", labelStyle.Render("Resends:"),
		valueStyle.Render(fmt.Sprintf("%d", m.totalResends)))
	fmt.Fprintf(&stats, "%s %s", labelStyle.Render("Elapsed:"),
		valueStyle.Render(m.elapsed.Round(100*time.Millisecond).String()))
	s.WriteString(boxStyle.Render(stats.String()))
	s.WriteString("\n")

	if len(m.log) > 0 {
		var events strings.Builder
		for i, entry := range m.log {
			if i > 0 {
				events.WriteString("\n")
			}
			line := fmt.Sprintf("%s %s", entry.timestamp.Format("15:04:05"), entry.message)
			if entry.isError {
				events.WriteString(errorStyle.Render(line))
			} else {
				events.WriteString(valueStyle.Render(line))
			}
		}
		s.WriteString(boxStyle.Render(events.String()))
		s.WriteString("\n")
	}

	if m.done {
		s.WriteString(headerStyle.Render("Press 'q' to exit"))
		s.WriteString("\n")
	}

	return s.String()
}

// runUpdateTUI delivers the bundle while showing the interactive view
func runUpdateTUI(ctx context.Context, conn Connection, connInfo, bundle string, blob []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newUpdateModel(connInfo, bundle, cancel)
	p := tea.NewProgram(m)

	updater := host.NewUpdater(conn,
		host.WithMaxResends(updateMaxResends),
		host.WithProgress(func(pr host.Progress) {
			p.Send(progressMsg(pr))
		}),
	)

	go func() {
		err := updater.Update(ctx, blob)
		if err == nil && updateBoot {
			err = updater.Boot(ctx)
		}
		p.Send(doneMsg{err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}

	if fm, ok := final.(updateModel); ok && fm.done {
		return fm.err
	}
	return context.Canceled
}
