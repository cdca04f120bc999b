package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/axolotls/axobotl/pkg/robot"
)

// minClawSpan is the travel below which a jaw range is shown as too small.
const minClawSpan = 300

type SetupCommand struct {
	Port string `long:"port" description:"Serial port of the claw bus (scanned when empty)"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("axobotl setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	port := c.Port
	if port == "" {
		if port, err = pickClawPort(); err != nil {
			return err
		}
	}
	cfg.Claw.Port = port

	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Calibrating Claw ━━━"))
	fmt.Println()
	cal, err := calibrateClaw(port)
	if err != nil {
		return err
	}
	cfg.Claw.Calibration = cal

	if err := cfg.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Run a routine with the claw: " + headerStyle.Render("axobotl run --claw"))
	return nil
}

func pickClawPort() (string, error) {
	fmt.Println("Scanning for the claw...")
	fmt.Println()

	ports := clawBuses(findBuses(1, len(robot.AllServos())))
	switch len(ports) {
	case 0:
		return "", fmt.Errorf("no claw found, check that it is connected and powered on")
	case 1:
		fmt.Printf("Using claw on %s\n", ports[0])
		return ports[0], nil
	}

	var port string
	options := make([]huh.Option[string], 0, len(ports))
	for _, p := range ports {
		options = append(options, huh.NewOption(p, p))
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which port is the claw on?").
				Options(options...).
				Value(&port),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return port, nil
}

func calibrateClaw(port string) (robot.ServoCalibrations, error) {
	fmt.Printf("Calibrating claw on %s\n", port)
	fmt.Println()

	bus, err := robot.OpenBus(port)
	if err != nil {
		return nil, fmt.Errorf("connecting to claw: %w", err)
	}
	defer bus.Close()

	scanCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	found, err := bus.Scan(scanCtx, 1, len(robot.AllServos()))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("scanning claw: %w", err)
	}
	if !isClaw(found) {
		return nil, fmt.Errorf("expected servos with IDs 1-%d on %s", len(robot.AllServos()), port)
	}

	servoMap := make(map[int]*feetech.Servo)
	for _, s := range found {
		servoMap[s.ID] = feetech.NewServo(bus, s.ID, s.Model)
	}

	// Torque off so the jaws move by hand
	ctx := context.Background()
	for _, servo := range servoMap {
		servo.Disable(ctx)
	}

	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Open and close each jaw fully by hand.")
	fmt.Println()

	servos := robot.AllServos()
	m := newCalibrationModel(servos, servoMap)
	m.read(ctx, true)

	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return nil, fmt.Errorf("running calibration: %w", err)
	}
	cm := final.(calibrationModel)
	fmt.Println()

	cal := make(robot.ServoCalibrations, len(servos))
	for i, name := range servos {
		inverted, err := askInverted(name)
		if err != nil {
			return nil, err
		}
		cal[name] = robot.ServoCalibration{
			ID:       i + 1,
			Inverted: inverted,
			RangeMin: cm.minPos[name],
			RangeMax: cm.maxPos[name],
		}
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}

	fmt.Println()
	fmt.Println("Claw calibrated.")
	return cal, nil
}

// askInverted asks whether a jaw closes toward its minimum raw position.
func askInverted(name robot.ServoName) (bool, error) {
	var inverted bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Does %s close toward its minimum?", name)).
				Description("Extend drives a jaw to its maximum unless inverted").
				Affirmative("Yes").
				Negative("No").
				Value(&inverted),
		),
	)
	if err := form.Run(); err != nil {
		return false, err
	}
	return inverted, nil
}

// Calibration TUI model
type calibrationModel struct {
	servos   []robot.ServoName
	servoMap map[int]*feetech.Servo
	curPos   map[robot.ServoName]int
	minPos   map[robot.ServoName]int
	maxPos   map[robot.ServoName]int
	quitting bool
}

type tickMsg time.Time

func newCalibrationModel(servos []robot.ServoName, servoMap map[int]*feetech.Servo) calibrationModel {
	return calibrationModel{
		servos:   servos,
		servoMap: servoMap,
		curPos:   make(map[robot.ServoName]int),
		minPos:   make(map[robot.ServoName]int),
		maxPos:   make(map[robot.ServoName]int),
	}
}

// read samples every servo. With reset the range restarts at the current position.
func (m calibrationModel) read(ctx context.Context, reset bool) {
	for i, name := range m.servos {
		servo := m.servoMap[i+1]
		if servo == nil {
			continue
		}
		pos, err := servo.Position(ctx)
		if err != nil {
			continue
		}
		m.curPos[name] = pos
		if reset || pos < m.minPos[name] {
			m.minPos[name] = pos
		}
		if reset || pos > m.maxPos[name] {
			m.maxPos[name] = pos
		}
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Init() tea.Cmd {
	return tick()
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		m.read(context.Background(), false)
		return m, tick()
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableServoStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableRangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableRangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rows := make([][]string, 0, len(m.servos))
	spans := make([]int, 0, len(m.servos))
	for _, name := range m.servos {
		span := m.maxPos[name] - m.minPos[name]
		spans = append(spans, span)
		rows = append(rows, []string{
			string(name),
			fmt.Sprintf("%d", m.curPos[name]),
			fmt.Sprintf("%d", m.minPos[name]),
			fmt.Sprintf("%d", m.maxPos[name]),
			fmt.Sprintf("%d", span),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Jaw", "Current", "Min", "Max", "Span").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableServoStyle
			case 1:
				return tableCurrentStyle
			case 4:
				if row >= 0 && row < len(spans) && spans[row] > minClawSpan {
					return tableRangeGoodStyle
				}
				return tableRangeLowStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Press Enter when done"))

	return sb.String()
}
