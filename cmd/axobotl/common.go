package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/axolotls/axobotl/internal/log"
	"github.com/axolotls/axobotl/pkg/robot"
	"github.com/axolotls/axobotl/pkg/routine"
	"github.com/axolotls/axobotl/pkg/telemetry"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// loadConfig reads the configuration file, falling back to the defaults
// when it does not exist yet.
func loadConfig() (*robot.Config, error) {
	cfg, err := robot.LoadConfigFrom(opts.Config)
	if errors.Is(err, fs.ErrNotExist) {
		return robot.DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func logLevel(cfg *robot.Config) string {
	if opts.LogLevel != "" {
		return opts.LogLevel
	}
	return cfg.LogLevel
}

// pickRoutine resolves name, or asks for a built-in routine when it is empty.
func pickRoutine(name string) (*routine.Routine, error) {
	if name != "" {
		return routine.Lookup(name)
	}
	rs, err := routine.Builtins()
	if err != nil {
		return nil, err
	}

	options := make([]huh.Option[string], 0, len(rs))
	for _, r := range rs {
		options = append(options, huh.NewOption(fmt.Sprintf("%-12s %s", r.Name, dimStyle.Render(r.Description)), r.Name))
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which routine?").
				Options(options...).
				Value(&name),
		),
	)
	if err := form.Run(); err != nil {
		return nil, err
	}
	return routine.Lookup(name)
}

// simBot is a Bot on a simulated robot, optionally with the real claw.
type simBot struct {
	bot  *robot.Bot
	sim  *robot.Sim
	claw *robot.Claw
}

func newSimBot(cfg *robot.Config, realClaw bool, sink telemetry.Sink, logger *slog.Logger) (*simBot, error) {
	s := robot.NewSim(cfg)
	dev := s.Devices()

	sb := &simBot{sim: s}
	if realClaw {
		claw, err := robot.NewClaw(cfg.Claw)
		if err != nil {
			return nil, fmt.Errorf("claw: %w", err)
		}
		sb.claw = claw
		dev.Claw = claw
	}

	bot, err := robot.New(cfg, dev, robot.Options{Sink: sink, Logger: log.Or(logger)})
	if err != nil {
		sb.Close()
		return nil, err
	}
	sb.bot = bot
	return sb, nil
}

func (sb *simBot) Close() {
	if sb.claw != nil {
		sb.claw.PowerOff()
		sb.claw.Close()
	}
}
