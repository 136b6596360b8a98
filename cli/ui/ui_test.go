package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSpinner(t *testing.T) {
	tests := []struct {
		name        string
		spinnerType SpinnerType
		want        spinner.Spinner
	}{
		{"dots", SpinnerDots, spinner.Dot},
		{"line", SpinnerLine, spinner.Line},
		{"minidots", SpinnerMinidots, spinner.MiniDot},
		{"pulse", SpinnerPulse, spinner.Pulse},
		{"points", SpinnerPoints, spinner.Points},
		{"meter", SpinnerMeter, spinner.Meter},
		{"unknown falls back to dots", SpinnerType(999), spinner.Dot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSpinner("Loading...", tt.spinnerType)
			assert.Equal(t, "Loading...", s.message)
			assert.Equal(t, tt.want.Frames, s.spinner.Spinner.Frames)
			assert.False(t, s.quitting)
			assert.False(t, s.done)
			assert.NotNil(t, s.Init())
		})
	}
}

func TestSpinnerUpdate(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyEsc},
		{Type: tea.KeyCtrlC},
	} {
		t.Run("quit with "+key.String(), func(t *testing.T) {
			model, cmd := NewSpinner("Loading...", SpinnerDots).Update(key)
			sm := model.(SpinnerModel)
			assert.True(t, sm.quitting)
			assert.True(t, sm.Cancelled())
			assert.NotNil(t, cmd)
		})
	}

	t.Run("done", func(t *testing.T) {
		model, cmd := NewSpinner("Loading...", SpinnerDots).Update(SpinnerDoneMsg{Result: "Connected", Err: assert.AnError})
		sm := model.(SpinnerModel)
		assert.True(t, sm.done)
		assert.False(t, sm.Cancelled())
		assert.Equal(t, "Connected", sm.result)
		assert.Equal(t, assert.AnError, sm.err)
		assert.NotNil(t, cmd)
	})

	t.Run("tick", func(t *testing.T) {
		s := NewSpinner("Loading...", SpinnerDots)
		_, cmd := s.Update(spinner.TickMsg{Time: time.Now(), ID: s.spinner.ID()})
		assert.NotNil(t, cmd)
	})

	t.Run("unhandled message", func(t *testing.T) {
		_, cmd := NewSpinner("Loading...", SpinnerDots).Update(tea.WindowSizeMsg{})
		assert.Nil(t, cmd)
	})
}

func TestSpinnerView(t *testing.T) {
	s := NewSpinner("Loading...", SpinnerDots)
	assert.Contains(t, s.View(), "Loading...")

	done := s
	done.done = true
	done.result = "Finished"
	assert.Contains(t, done.View(), "Finished")

	done.err = assert.AnError
	assert.Contains(t, done.View(), "✗")

	quit := s
	quit.quitting = true
	assert.Contains(t, quit.View(), "Cancelled")
}

func TestRunSpinner_NonInteractive(t *testing.T) {
	var out bytes.Buffer
	err := RunSpinner(&out, false, "Connecting...", func() (string, error) {
		return "Connected", nil
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Connected")
	assert.NotContains(t, out.String(), "Connecting...")

	out.Reset()
	boom := errors.New("boom")
	err = RunSpinner(&out, false, "Connecting...", func() (string, error) {
		return "Connection failed", boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, out.String(), "Connection failed")
}

func TestTable(t *testing.T) {
	table := NewTable("Name", "Value", "Status")
	table.AddRow("foo", "bar")
	table.AddRow("longer name", "value", "ok", "dropped")

	assert.Equal(t, 2, table.Len())
	assert.Equal(t, []string{"foo", "bar", ""}, table.rows[0])
	assert.Equal(t, []string{"longer name", "value", "ok"}, table.rows[1])
	assert.Equal(t, []int{11, 5, 6}, table.widths)

	rendered := table.Render()
	lines := strings.Split(rendered, "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "┌"))
	assert.True(t, strings.HasSuffix(lines[5], "┘"))
	assert.Contains(t, lines[1], "Name")
	assert.Contains(t, lines[4], "longer name")
}

func TestTable_RenderEmpty(t *testing.T) {
	assert.Empty(t, (&Table{}).Render())
}

func TestStatusBadge(t *testing.T) {
	for _, status := range []string{"ok", "applied", "pending", "skipped", "failed", "unreachable", "unknown", "OK"} {
		assert.Contains(t, StatusBadge(status), status)
	}
}

func TestBanners(t *testing.T) {
	assert.Contains(t, Banner(), "Event Sourcing")
	assert.Contains(t, SimpleBanner(), "stoat")
	assert.Contains(t, SimpleBanner(), "Event Sourcing")
}

func TestLists(t *testing.T) {
	items := []string{"First", "Second", "Third"}

	list := ListItems(items)
	for _, item := range items {
		assert.Contains(t, list, item)
	}
	assert.Equal(t, 3, strings.Count(list, "•"))

	numbered := NumberedList(items)
	assert.Contains(t, numbered, "1.")
	assert.Contains(t, numbered, "3.")
	assert.Contains(t, numbered, "Second")

	assert.Empty(t, ListItems(nil))
	assert.Empty(t, NumberedList(nil))
}

func TestDividerAndConfirmation(t *testing.T) {
	assert.Equal(t, 20, strings.Count(Divider(20), "─"))
	assert.Contains(t, Confirmation(true), "Yes")
	assert.Contains(t, Confirmation(false), "No")
}
