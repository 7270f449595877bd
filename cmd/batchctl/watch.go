package batchctl

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/batchctl/batchctl/internal/model"
	"github.com/batchctl/batchctl/internal/store"
)

func newWatchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Live-activity view: job counters plus each active unit's latest event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			m := newWatchModel(st, args[0], interval)
			p := tea.NewProgram(m)
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	return cmd
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

type watchModel struct {
	store    *store.Store
	jobID    string
	interval time.Duration

	job    *model.Job
	units  []store.ActiveUnitSummary
	err    error
	width  int
	height int
}

func newWatchModel(st *store.Store, jobID string, interval time.Duration) watchModel {
	return watchModel{store: st, jobID: jobID, interval: interval}
}

type tickMsg time.Time

type refreshMsg struct {
	job   *model.Job
	units []store.ActiveUnitSummary
	err   error
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tea.EnterAltScreen)
}

func (m watchModel) refresh() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		job, err := m.store.GetJob(ctx, m.jobID)
		if err != nil {
			return refreshMsg{err: err}
		}
		units, err := m.store.GetActiveUnitsWithLatestConversation(ctx, m.jobID)
		if err != nil {
			return refreshMsg{err: err}
		}
		return refreshMsg{job: job, units: units}
	}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil
	case tickMsg:
		return m, m.refresh()
	case refreshMsg:
		m.err = msg.err
		if msg.err == nil {
			m.job = msg.job
			m.units = msg.units
		}
		if m.job != nil && (m.job.Status == model.JobStatusCompleted || m.job.Status == model.JobStatusFailed) {
			return m, tea.Quit
		}
		return m, m.tick()
	}
	return m, nil
}

func (m watchModel) View() string {
	if m.err != nil {
		return errStyle.Render(fmt.Sprintf("error: %v", m.err)) + "\n"
	}
	if m.job == nil {
		return "loading...\n"
	}

	var b []string
	b = append(b, headerStyle.Render(fmt.Sprintf("%s  %s", m.job.Name, m.job.Status)))
	b = append(b, fmt.Sprintf("%d/%d completed, %d failed (%.0f%%)",
		m.job.CompletedUnits, m.job.TotalUnits, m.job.FailedUnits, m.job.ProgressPercentage()))
	b = append(b, "")

	if len(m.units) == 0 {
		b = append(b, dimStyle.Render("no active units"))
	} else {
		for _, u := range m.units {
			pid := "-"
			if u.ProcessID != nil {
				pid = fmt.Sprintf("%d", *u.ProcessID)
			}
			event := u.LatestEvent
			if event == "" {
				event = dimStyle.Render("(waiting for output)")
			}
			b = append(b, fmt.Sprintf("%s  pid=%-8s %s", u.UnitID[:8], pid, event))
		}
	}

	b = append(b, "", dimStyle.Render("q to quit"))

	out := ""
	for _, line := range b {
		out += line + "\n"
	}
	return out
}
