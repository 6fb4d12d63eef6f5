package display

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"hark/session"
)

// Info is the static context shown under the status line.
type Info struct {
	Hotkey   string
	Device   string
	Endpoint string
	Version  string
}

type tickMsg time.Time

// Model is the terminal display surface. It is driven entirely by bus events.
type Model struct {
	info Info

	state         session.State
	frame         int
	level         float64
	peak          float64
	recStart      time.Time
	now           time.Time
	width, height int

	lastText string
	lastErr  string
	count    int
}

func NewModel(info Info) Model {
	return Model{info: info, state: session.Idle}
}

// Pre-computed orb styles, one palette per state
var (
	orbPalettes = map[session.State][]string{
		session.Idle:       {"", "250", "247", "244", "241", "238", "236"},
		session.Recording:  {"", "226", "214", "208", "196", "160", "88"},
		session.Processing: {"", "230", "228", "220", "178", "136", "94"},
		session.Success:    {"", "157", "120", "84", "41", "28", "22"},
		session.Error:      {"", "224", "210", "203", "160", "124", "52"},
	}
	orbStyles   = map[session.State][]lipgloss.Style{}
	orbBgStyles = map[session.State][][]lipgloss.Style{}

	statusStyles = map[session.State]lipgloss.Style{
		session.Idle:       lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		session.Recording:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		session.Processing: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		session.Success:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		session.Error:      lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
	}
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	textStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

func init() {
	for st, colors := range orbPalettes {
		fg := make([]lipgloss.Style, len(colors))
		bg := make([][]lipgloss.Style, len(colors))
		for i, c := range colors {
			bg[i] = make([]lipgloss.Style, len(colors))
			if c == "" {
				continue
			}
			fg[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
			for j, b := range colors {
				if b != "" {
					bg[i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(c)).Background(lipgloss.Color(b))
				}
			}
		}
		orbStyles[st] = fg
		orbBgStyles[st] = bg
	}
}

func tick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}

	case tickMsg:
		m.frame++
		m.now = time.Time(msg)
		return m, tick()

	case session.Event:
		m = m.apply(msg)
	}
	return m, nil
}

func (m Model) apply(ev session.Event) Model {
	if ev.Name == session.EventLevel {
		if m.state == session.Recording {
			m.level = m.level*0.6 + ev.Amplitude*0.4
			m.peak = max(m.peak, ev.Amplitude)
		}
		return m
	}
	st, ok := ev.State()
	if !ok {
		return m
	}
	m.state = st
	switch st {
	case session.Recording:
		m.recStart = ev.At
		m.level, m.peak = 0, 0
		m.lastErr = ""
	case session.Success:
		m.count++
		m.lastText = ev.Text
		m.lastErr = ""
	case session.Error:
		m.lastErr = ev.Message
	}
	if st != session.Recording {
		m.level = 0
	}
	return m
}

func (m Model) statusLine() string {
	style := statusStyles[m.state]
	switch m.state {
	case session.Recording:
		d := 0.0
		if !m.now.IsZero() && !m.recStart.IsZero() && m.now.After(m.recStart) {
			d = m.now.Sub(m.recStart).Seconds()
		}
		return style.Render(fmt.Sprintf("● REC %.1fs", d))
	case session.Processing:
		return style.Render("◌ TRANSCRIBING")
	case session.Success:
		return style.Render("✓ DONE")
	case session.Error:
		return style.Render("✗ " + m.lastErr)
	}
	return style.Render("○ STANDBY")
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	const orbWidth = 31
	var left []string
	left = append(left, strings.Split(renderOrb(m.frame, m.level, m.state), "\n")...)
	left = append(left, m.statusLine())
	if m.state == session.Recording && m.peak < 0.02 && !m.now.IsZero() && m.now.Sub(m.recStart) > time.Second {
		left = append(left, lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Render("  ⚠ no voice detected"))
	}
	if m.info.Device != "" {
		left = append(left, dimStyle.Render("mic: "+m.info.Device))
	}
	if m.info.Endpoint != "" {
		left = append(left, dimStyle.Render("api: "+m.info.Endpoint))
	}
	left = append(left, "")
	left = append(left, keyStyle.Render(m.info.Hotkey)+helpStyle.Render(" hold to record"))
	left = append(left, helpStyle.Render("hark "+m.info.Version))

	rightWidth := max(m.width-orbWidth-1, 20)
	wrap := max(rightWidth-2, 10)
	var right strings.Builder
	if m.lastText != "" || m.count > 0 {
		right.WriteString(dimStyle.Render(fmt.Sprintf("Last transcription (#%d)", m.count)) + "\n\n")
		text := m.lastText
		if text == "" {
			text = "(empty)"
		}
		for _, line := range wrapText(text, wrap) {
			right.WriteString(textStyle.Render(line) + "\n")
		}
	} else {
		right.WriteString(dimStyle.Render("No transcriptions yet"))
	}
	if m.lastErr != "" {
		right.WriteString("\n" + errStyle.Render(m.lastErr) + "\n")
	}

	leftPanel := lipgloss.NewStyle().Width(orbWidth - 1).Height(m.height).Render(strings.Join(left, "\n"))
	rightPanel := lipgloss.NewStyle().Width(rightWidth).Height(m.height).PaddingLeft(1).Render(right.String())
	return lipgloss.JoinHorizontal(lipgloss.Top, leftPanel, rightPanel)
}

// renderOrb draws concentric rings in half-block characters. The rings swell
// with the smoothed level while recording and breathe slowly otherwise.
func renderOrb(frame int, level float64, st session.State) string {
	const charsW = 30
	const charsH = 10
	const pixH = charsH * 2

	cx := float64(charsW) / 2
	cy := float64(pixH) / 2

	var breathe float64
	switch st {
	case session.Recording:
		breathe = math.Sin(float64(frame)*0.10)*0.03 + level*0.6
	case session.Processing:
		breathe = math.Sin(float64(frame)*0.30) * 0.08
	default:
		breathe = math.Sin(float64(frame)*0.08) * 0.02
	}

	type ring struct {
		radius float64
		gain   float64
		color  int
	}
	rings := []ring{
		{0.8, 0.6, 1},
		{1.8, 1.0, 2},
		{3.0, 2.0, 3},
		{4.2, 2.4, 4},
		{5.4, 1.6, 5},
		{7.0, 0.4, 6},
	}

	pixels := make([][]int, pixH)
	for y := range pixels {
		pixels[y] = make([]int, charsW)
		for x := range pixels[y] {
			dx := float64(x) - cx
			dy := float64(y) - cy
			dist := math.Sqrt(dx*dx + dy*dy)
			for _, r := range rings {
				if dist < min(r.radius+breathe*r.gain*4, 9.5) {
					pixels[y][x] = r.color
					break
				}
			}
		}
	}

	fg := orbStyles[st]
	bg := orbBgStyles[st]
	var b strings.Builder
	for row := 0; row < charsH; row++ {
		for x := 0; x < charsW; x++ {
			top, bot := pixels[row*2][x], pixels[row*2+1][x]
			switch {
			case top == 0 && bot == 0:
				b.WriteString(" ")
			case top == bot:
				b.WriteString(fg[top].Render("█"))
			case bot == 0:
				b.WriteString(fg[top].Render("▀"))
			case top == 0:
				b.WriteString(fg[bot].Render("▄"))
			default:
				b.WriteString(bg[top][bot].Render("▀"))
			}
		}
		if row < charsH-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}

// ErrQuit is returned by RunTUI when the user quits from the keyboard.
var ErrQuit = errors.New("display closed by user")

// RunTUI shows the terminal display until ctx ends or the user quits.
// Quitting from the keyboard returns ErrQuit so the caller can shut down.
func RunTUI(ctx context.Context, bus *session.Bus, info Info) error {
	p := tea.NewProgram(NewModel(info), tea.WithAltScreen(), tea.WithContext(ctx))
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	go func() {
		for ev := range events {
			p.Send(ev)
		}
	}()

	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return err
	}
	return ErrQuit
}
