package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/colonyops/taskwatch/internal/client"
	"github.com/colonyops/taskwatch/internal/core/alarm"
	"github.com/colonyops/taskwatch/internal/core/notify"
	"github.com/colonyops/taskwatch/internal/core/task"
)

var (
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	doneStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	confirmedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	highStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func taskStatusLabel(s task.Status) string {
	switch s {
	case task.StatusPending:
		return pendingStyle.Render(string(s))
	case task.StatusDone:
		return doneStyle.Render(string(s))
	case task.StatusConfirmed:
		return confirmedStyle.Render(string(s))
	default:
		return string(s)
	}
}

func alarmStatusLabel(s alarm.Status) string {
	switch s {
	case alarm.StatusScheduled:
		return pendingStyle.Render(string(s))
	case alarm.StatusTriggered:
		return highStyle.Render(string(s))
	case alarm.StatusCompleted:
		return confirmedStyle.Render(string(s))
	default:
		return dimStyle.Render(string(s))
	}
}

func priorityLabel(p task.Priority) string {
	if p == task.PriorityHigh {
		return highStyle.Render(string(p))
	}
	return string(p)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func writeTaskTable(out io.Writer, tasks []task.Task) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTIME\tPRIORITY\tTITLE\tSTATUS")
	for _, t := range tasks {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Time, priorityLabel(t.Priority), t.Title, taskStatusLabel(t.Status))
	}
	_ = w.Flush()
}

func writeAlarmTable(out io.Writer, alarms []alarm.Alarm) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TASK\tINSTANCE\tFIRES AT\tSTATUS")
	for _, a := range alarms {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.TaskID, a.InstanceID, formatTime(a.FireAt), alarmStatusLabel(a.Status))
	}
	_ = w.Flush()
}

func writeNotificationTable(out io.Writer, records []notify.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CREATED\tTYPE\tRECIPIENT\tTASK\tSTATUS")
	for _, r := range records {
		recipient := string(r.RecipientRole) + ":" + r.RecipientID
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", formatTime(r.CreatedAt), r.Type, recipient, r.TaskID, r.Status)
	}
	_ = w.Flush()
}

// reachable returns a client when the serve process answers a health check.
func (f *Flags) reachable(ctx context.Context) (*client.Client, bool) {
	c := f.client()
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := c.Health(ctx); err != nil {
		return nil, false
	}
	return c, true
}
