// Package console renders a live session in the terminal and maps single-key
// commands typed on stdin to session operations.
package console

import (
	"fmt"
	"math"
	"strings"

	"github.com/MrWong99/livevox/internal/live"
	"github.com/MrWong99/livevox/internal/transcript"
	"github.com/charmbracelet/lipgloss"
)

// volumeScale maps RMS input level to the meter; speech rarely exceeds 0.25.
const volumeScale = 4.0

// breathStep is the phase advance per rendered frame.
const breathStep = 0.3

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// Theme defines the colour scheme.
type Theme struct {
	Accent lipgloss.Color
	Dim    lipgloss.Color
	Alert  lipgloss.Color
	User   lipgloss.Color
	Model  lipgloss.Color
}

// DefaultTheme is emerald on slate.
var DefaultTheme = Theme{
	Accent: lipgloss.Color("#34d399"),
	Dim:    lipgloss.Color("#64748b"),
	Alert:  lipgloss.Color("#ef4444"),
	User:   lipgloss.Color("#059669"),
	Model:  lipgloss.Color("#e2e8f0"),
}

// Styles holds the styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Badge  map[live.State]lipgloss.Style
	Meter  lipgloss.Style
	Bars   lipgloss.Style
	User   lipgloss.Style
	Model  lipgloss.Style
	Help   lipgloss.Style
	Error  lipgloss.Style
	Border lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	badge := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	return Styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(t.Accent),
		Badge: map[live.State]lipgloss.Style{
			live.StateDisconnected: badge.Foreground(t.Dim),
			live.StateConnecting:   badge.Foreground(t.Accent),
			live.StateConnected:    badge.Foreground(t.Alert),
			live.StateError:        badge.Foreground(t.Alert),
		},
		Meter:  lipgloss.NewStyle().Foreground(t.Accent),
		Bars:   lipgloss.NewStyle().Foreground(t.Accent),
		User:   lipgloss.NewStyle().Foreground(t.User).Bold(true),
		Model:  lipgloss.NewStyle().Foreground(t.Model),
		Help:   lipgloss.NewStyle().Foreground(t.Dim),
		Error:  lipgloss.NewStyle().Foreground(t.Alert),
		Border: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Dim).Padding(0, 1),
	}
}

// View renders snapshots. The zero value is not usable; use [NewView].
type View struct {
	Styles Styles

	// Width is the total frame width in cells.
	Width int

	// TranscriptLines is the number of transcript entries shown.
	TranscriptLines int
}

// NewView returns a View with the default theme.
func NewView() *View {
	return &View{Styles: NewStyles(DefaultTheme), Width: 72, TranscriptLines: 8}
}

// Render draws s. frame advances the breathing animation.
func (v *View) Render(s live.Snapshot, frame int) string {
	inner := max(v.Width-4, 20)
	var b strings.Builder

	b.WriteString(v.Styles.Title.Render("livevox"))
	b.WriteString(" ")
	b.WriteString(v.Styles.Badge[s.State].Render(badgeText(s.State)))
	b.WriteString("\n\n")

	switch s.State {
	case live.StateDisconnected:
		b.WriteString("Press c and Enter to start a voice session.\n")
	case live.StateConnecting:
		b.WriteString(v.Styles.Bars.Render("ESTABLISHING CONNECTION..."))
		b.WriteString("\n")
	case live.StateError:
		b.WriteString(v.Styles.Error.Render("Error: " + s.Error))
		b.WriteString("\nPress c and Enter to retry.\n")
	case live.StateConnected:
		if s.Frequency != nil {
			b.WriteString(v.Styles.Bars.Render(Spectrum(s.Frequency, inner)))
		} else {
			b.WriteString(v.Styles.Bars.Render(Breathing(frame, inner)))
		}
		b.WriteString("\n")
		b.WriteString(v.Styles.Meter.Render(Meter(s.Volume, inner-5)))
		b.WriteString(" mic\n")
	}

	if tail := v.transcriptTail(s.Transcripts, inner); tail != "" {
		b.WriteString("\n")
		b.WriteString(tail)
	} else if s.State == live.StateConnected {
		b.WriteString("\n")
		b.WriteString(v.Styles.Help.Render("Listening..."))
		b.WriteString("\n")
	}

	body := v.Styles.Border.Width(inner).Render(strings.TrimRight(b.String(), "\n"))
	return body + "\n" + v.Styles.Help.Render(helpText(s.State)) + "\n"
}

func (v *View) transcriptTail(entries []transcript.Entry, width int) string {
	if len(entries) > v.TranscriptLines {
		entries = entries[len(entries)-v.TranscriptLines:]
	}
	var b strings.Builder
	for _, e := range entries {
		label, style := "model", v.Styles.Model
		if e.Sender == transcript.SenderUser {
			label, style = "you", v.Styles.User
		}
		line := fmt.Sprintf("%-5s %s", label+":", e.Text)
		b.WriteString(style.Render(truncate(line, width)))
		b.WriteString("\n")
	}
	return b.String()
}

func badgeText(s live.State) string {
	switch s {
	case live.StateConnected:
		return "● LIVE"
	case live.StateConnecting:
		return "… CONNECTING"
	case live.StateError:
		return "✕ ERROR"
	default:
		return "○ OFFLINE"
	}
}

func helpText(s live.State) string {
	if s == live.StateConnected || s == live.StateConnecting {
		return "d end session · q quit"
	}
	return "c connect · q quit"
}

// Spectrum folds byte frequency bins into width columns of block glyphs,
// taking the peak of each group.
func Spectrum(bins []byte, width int) string {
	if width <= 0 || len(bins) == 0 {
		return ""
	}
	cols := min(width, len(bins))
	out := make([]rune, cols)
	for c := range cols {
		lo := c * len(bins) / cols
		hi := max((c+1)*len(bins)/cols, lo+1)
		var peak byte
		for _, x := range bins[lo:hi] {
			peak = max(peak, x)
		}
		out[c] = sparkLevels[int(peak)*(len(sparkLevels)-1)/255]
	}
	return string(out)
}

// Breathing is the placeholder shown while connected without output audio:
// a centred pulse whose radius follows a slow sine.
func Breathing(frame, width int) string {
	if width <= 0 {
		return ""
	}
	scale := 1 + 0.1*math.Sin(float64(frame)*breathStep)
	r := int(math.Round(float64(width) / 8 * scale))
	r = max(1, min(r, width/2))
	pad := (width - 2*r) / 2
	return strings.Repeat(" ", pad) + strings.Repeat("░", r/3) + strings.Repeat("▓", 2*r-2*(r/3)) + strings.Repeat("░", r/3)
}

// Meter renders vol as a horizontal bar of width cells.
func Meter(vol float64, width int) string {
	if width <= 0 {
		return ""
	}
	frac := min(max(vol*volumeScale, 0), 1)
	n := int(math.Round(frac * float64(width)))
	return strings.Repeat("█", n) + strings.Repeat("·", width-n)
}

func truncate(s string, width int) string {
	if width <= 1 || lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	w := 0
	for i, r := range runes {
		rw := lipgloss.Width(string(r))
		if w+rw > width-1 {
			return string(runes[:i]) + "…"
		}
		w += rw
	}
	return s
}
