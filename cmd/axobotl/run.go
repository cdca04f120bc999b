package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/axolotls/axobotl/internal/log"
	"github.com/axolotls/axobotl/pkg/drive"
	"github.com/axolotls/axobotl/pkg/routine"
	"github.com/axolotls/axobotl/pkg/telemetry"
)

type RunCommand struct {
	Routine   string  `short:"r" long:"routine" description:"Built-in routine name or path to a YAML routine"`
	Speed     float64 `long:"speed" default:"1" description:"Simulation speed relative to real time"`
	Telemetry string  `long:"telemetry" description:"Stream control-loop samples over websocket on this address, e.g. :8080"`
	Claw      bool    `long:"claw" description:"Drive the real feetech claw from the config"`
}

func (c *RunCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Init(logLevel(cfg))
	logger := log.L()

	rt, err := pickRoutine(c.Routine)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rec := telemetry.NewRecorder()
	if c.Telemetry != "" {
		srv := telemetry.NewServer(logger)
		rec.Subscribe(srv)
		go func() {
			if err := srv.ListenAndServe(ctx, c.Telemetry); err != nil {
				logger.Error("telemetry server stopped", "error", err)
			}
		}()
		fmt.Printf("Streaming samples on ws://%s/samples\n", c.Telemetry)
	}

	sb, err := newSimBot(cfg, c.Claw, rec, logger)
	if err != nil {
		return err
	}
	defer sb.Close()

	runCtx, cancel := context.WithCancel(ctx)
	sb.sim.World.StartRealtime(runCtx, c.Speed)
	if err := sb.bot.Start(runCtx); err != nil {
		cancel()
		return err
	}

	fmt.Println(headerStyle.Render("axobotl run ") + subHeaderStyle.Render(rt.Name))
	fmt.Println(dimStyle.Render(rt.Description))
	fmt.Println()

	res, runErr := routine.NewRunner(sb.bot, logger).Run(runCtx, rt)
	cancel()
	sb.bot.Wait()

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Printf("Run %s: %d/%d steps in %s", res.ID, res.Completed, len(rt.Steps), res.Elapsed.Round(10*time.Millisecond))
	if res.Failed > 0 {
		fmt.Printf(", %d optional failed", res.Failed)
	}
	if res.EndedEarly > 0 {
		fmt.Printf(", %d ended early", res.EndedEarly)
	}
	fmt.Println()
	if len(res.Checkpoints) > 0 {
		fmt.Println("Checkpoints: " + strings.Join(res.Checkpoints, ", "))
	}
	counts := sb.bot.Mechanism.Counts()
	fmt.Printf("Balls entered %d, topped %d, loads %d\n", counts.Entered, counts.Topped, counts.Loads)

	if runErr != nil {
		fmt.Println(errorStyle.Render(fmt.Sprintf("Failed (%s): %v", drive.OutcomeOf(runErr), runErr)))
		return runErr
	}
	fmt.Println(successStyle.Render("Done!"))
	return nil
}

type RoutinesCommand struct {
	Show string `long:"show" description:"Print a routine as YAML"`
}

func (c *RoutinesCommand) Execute(args []string) error {
	if c.Show != "" {
		rt, err := routine.Lookup(c.Show)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(rt)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	}

	rs, err := routine.Builtins()
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(rs))
	for _, r := range rs {
		rows = append(rows, []string{r.Name, fmt.Sprintf("%d", len(r.Steps)), r.Description})
	}
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Routine", "Steps", "Description").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle.Padding(0, 1)
			case col == 0:
				return subHeaderStyle.Padding(0, 1)
			default:
				return cellStyle
			}
		})
	fmt.Println(t.Render())
	return nil
}
