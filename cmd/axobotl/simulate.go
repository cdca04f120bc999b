package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/axolotls/axobotl/internal/log"
	"github.com/axolotls/axobotl/pkg/heading"
	"github.com/axolotls/axobotl/pkg/robot"
	"github.com/axolotls/axobotl/pkg/routine"
	"github.com/axolotls/axobotl/pkg/telemetry"
)

type SimulateCommand struct {
	Routine string  `short:"r" long:"routine" description:"Built-in routine name or path to a YAML routine"`
	Speed   float64 `long:"speed" default:"1" description:"Simulation speed relative to real time"`
}

const (
	headerHeight = 3 // title, status, blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Series plotted on the chart. Yaw is scaled to fit the percent range.
const (
	seriesLeft  = "left"
	seriesRight = "right"
	seriesYaw   = "yaw"
)

var seriesColors = map[string]string{
	seriesLeft:  "196", // red
	seriesRight: "46",  // green
	seriesYaw:   "51",  // cyan
}

var seriesOrder = []string{seriesLeft, seriesRight, seriesYaw}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type simModel struct {
	rec      *telemetry.Recorder
	bot      *robot.Bot
	routine  *routine.Routine
	chart    *streamlinechart.Model
	width    int
	height   int
	logs     []string
	step     string
	last     telemetry.Sample
	result   *runDoneMsg
	quitting bool
}

func (m *simModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// changed reports whether s differs from the last charted sample.
func (m *simModel) changed(s telemetry.Sample) bool {
	return s.Left != m.last.Left || s.Right != m.last.Right || s.Heading != m.last.Heading
}

type sampleMsg telemetry.Sample
type logMsg string
type stepMsg string
type runDoneMsg struct {
	res routine.Result
	err error
}

func waitForSample(rec *telemetry.Recorder) tea.Cmd {
	return func() tea.Msg {
		return sampleMsg(<-rec.Samples())
	}
}

func waitForLog(rec *telemetry.Recorder) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-rec.Logs())
	}
}

func (m *simModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *simModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func newSimModel(rec *telemetry.Recorder, bot *robot.Bot, rt *routine.Routine) simModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-100, 100),
	)
	for _, name := range seriesOrder {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name]))
		chart.SetDataSetStyles(name, runes.ThinLineStyle, style)
	}
	return simModel{
		rec:     rec,
		bot:     bot,
		routine: rt,
		chart:   &chart,
		step:    "starting",
	}
}

func (m simModel) Init() tea.Cmd {
	return tea.Batch(
		waitForSample(m.rec),
		waitForLog(m.rec),
	)
}

func (m simModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case " ":
			// Same effect as a bumper press: the running primitive ends.
			m.bot.Cancel.Raise()
			m.addLog("cancel raised")
		}

	case sampleMsg:
		s := telemetry.Sample(msg)
		if m.changed(s) {
			m.chart.PushDataSet(seriesLeft, s.Left)
			m.chart.PushDataSet(seriesRight, s.Right)
			m.chart.PushDataSet(seriesYaw, heading.RemapToYaw(s.Heading)/1.8)
			m.chart.DrawAll()
			m.last = s
		}
		return m, waitForSample(m.rec)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.rec)

	case stepMsg:
		m.step = string(msg)
		return m, nil

	case runDoneMsg:
		m.result = &msg
		m.step = "finished"
		if msg.err != nil {
			m.addLog(errorStyle.Render(msg.err.Error()))
		} else {
			m.addLog(successStyle.Render(fmt.Sprintf("done in %s, press q to quit", msg.res.Elapsed.Round(10*time.Millisecond))))
		}
		return m, nil
	}

	return m, nil
}

func (m simModel) View() string {
	if m.quitting {
		return "Simulation stopped.\n"
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("axobotl simulate"))
	sb.WriteString(" - " + m.routine.Name)
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n")

	c := m.bot.Mechanism.Counts()
	sb.WriteString(statusStyle.Render(fmt.Sprintf(
		"step %s | drive %s | launcher %s | heading %6.1f | balls %d in %d top",
		m.step, m.bot.Drive.State(), m.bot.Mechanism.State(), m.last.Heading, c.Entered, c.Topped)))
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4)

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'space' to cancel the current move, 'q' to quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, name := range seriesOrder {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+name)
	}
	return strings.Join(items, "  ")
}

// recorderWriter feeds log lines into the recorder's log channel.
type recorderWriter struct{ rec *telemetry.Recorder }

func (w recorderWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.rec.Logf("%s", line)
		}
	}
	return len(p), nil
}

var _ io.Writer = recorderWriter{}

func (c *SimulateCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := pickRoutine(c.Routine)
	if err != nil {
		return err
	}

	rec := telemetry.NewRecorder()
	// The TUI owns the terminal; warnings and errors go to the log box.
	log.InitWriter(recorderWriter{rec}, "warn")
	logger := log.L()

	sb, err := newSimBot(cfg, false, rec, logger)
	if err != nil {
		return err
	}
	defer sb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sb.sim.World.StartRealtime(ctx, c.Speed)
	if err := sb.bot.Start(ctx); err != nil {
		return err
	}

	p := tea.NewProgram(newSimModel(rec, sb.bot, rt), tea.WithAltScreen())

	runner := routine.NewRunner(sb.bot, logger)
	runner.OnStep(func(i int, s routine.Step) {
		p.Send(stepMsg(fmt.Sprintf("%d/%d %s", i+1, len(rt.Steps), s)))
	})
	go func() {
		res, err := runner.Run(ctx, rt)
		p.Send(runDoneMsg{res: res, err: err})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	cancel()
	sb.bot.Wait()
	return nil
}
