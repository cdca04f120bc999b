package routine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/axolotls/axobotl/internal/log"
	"github.com/axolotls/axobotl/pkg/device"
	"github.com/axolotls/axobotl/pkg/drive"
	"github.com/axolotls/axobotl/pkg/robot"
	"github.com/google/uuid"
)

// Result summarizes a run.
type Result struct {
	ID          string
	Routine     string
	Completed   int // steps that succeeded
	Failed      int // optional steps that failed
	EndedEarly  int // drive steps that timed out or stalled and continued
	Elapsed     time.Duration
	Checkpoints []string
}

// Runner executes routines on a Bot.
type Runner struct {
	bot    *robot.Bot
	logger *slog.Logger
	onStep func(i int, s Step)
}

// NewRunner creates a runner for bot.
func NewRunner(bot *robot.Bot, logger *slog.Logger) *Runner {
	return &Runner{bot: bot, logger: log.Or(logger).With("component", "routine")}
}

// OnStep registers a callback invoked before each step.
func (r *Runner) OnStep(fn func(i int, s Step)) {
	r.onStep = fn
}

// Run executes the steps of rt in order. A failing optional step is logged
// and skipped; any other failure stops every actuator and aborts the run.
func (r *Runner) Run(ctx context.Context, rt *Routine) (Result, error) {
	res := Result{ID: uuid.NewString(), Routine: rt.Name}
	logger := r.logger.With("run", res.ID, "routine", rt.Name)
	start := r.bot.Clock.Now()

	if err := rt.Validate(); err != nil {
		return res, err
	}
	logger.Info("run started", "steps", len(rt.Steps))

	for i, s := range rt.Steps {
		if err := ctx.Err(); err != nil {
			r.bot.StopAll()
			res.Elapsed = r.bot.Clock.Now().Sub(start)
			return res, err
		}
		if r.onStep != nil {
			r.onStep(i, s)
		}
		stepStart := r.bot.Clock.Now()
		err := r.exec(ctx, s)
		elapsed := r.bot.Clock.Now().Sub(stepStart)
		if err != nil && s.OnTimeout == Continue && endedEarly(err) {
			res.EndedEarly++
			res.Completed++
			logger.Warn("step ended early, continuing", "step", i+1, "op", s.Op, "outcome", drive.OutcomeOf(err), "elapsed", elapsed)
			continue
		}
		if err != nil {
			if s.Optional {
				res.Failed++
				logger.Warn("optional step failed", "step", i+1, "op", s.Op, "error", err, "elapsed", elapsed)
				continue
			}
			logger.Error("step failed", "step", i+1, "op", s.Op, "error", err, "elapsed", elapsed)
			r.bot.StopAll()
			res.Elapsed = r.bot.Clock.Now().Sub(start)
			return res, fmt.Errorf("routine %s: step %d %s: %w", rt.Name, i+1, s, err)
		}
		res.Completed++
		if s.Op == OpCheckpoint {
			res.Checkpoints = append(res.Checkpoints, s.Note)
			logger.Info("checkpoint", "step", i+1, "note", s.Note)
		}
		logger.Debug("step done", "step", i+1, "op", s.Op, "elapsed", elapsed)
	}

	res.Elapsed = r.bot.Clock.Now().Sub(start)
	logger.Info("run finished", "completed", res.Completed, "failed", res.Failed, "ended_early", res.EndedEarly, "elapsed", res.Elapsed)
	return res, nil
}

// endedEarly reports whether err is a drive timeout or stall.
func endedEarly(err error) bool {
	return errors.Is(err, drive.ErrTimeout) || errors.Is(err, drive.ErrStuck)
}

func (r *Runner) exec(ctx context.Context, s Step) error {
	b := r.bot
	switch s.Op {
	case OpStraight:
		t := drive.DriveTarget{
			Distance: s.MM,
			Unit:     device.Millimeters,
			Velocity: s.Velocity,
			Timeout:  s.Timeout,
		}
		if s.Inches != 0 {
			t.Distance, t.Unit = s.Inches, device.Inches
		}
		if s.Hold != nil {
			t.Hold = drive.HoldYaw(*s.Hold)
		}
		return b.Drive.GoStraight(ctx, t)
	case OpTurn:
		return b.Drive.GoTurn(ctx, drive.TurnTarget{
			Heading:  s.Heading,
			Velocity: turnVelocity(s.Velocity),
			Timeout:  s.Timeout,
		})
	case OpTurnBy:
		return b.Drive.TurnBy(ctx, s.Degrees, turnVelocity(s.Velocity), s.Timeout)
	case OpTurn90:
		return b.Drive.GoTurn90(ctx, s.Velocity, s.Timeout)
	case OpCurve:
		return b.Drive.GoCurve(ctx, drive.CurveTarget{
			Heading:                s.Heading,
			Speed:                  s.Velocity,
			Revolutions:            s.Revolutions,
			MaxAcceleration:        or(s.Acceleration, DefaultCurveAcceleration),
			MaxHeadingRate:         or(s.HeadingRate, DefaultCurveHeadingRate),
			MaxHeadingAcceleration: or(s.HeadingAcceleration, DefaultCurveHeadingAcceleration),
			Tolerance:              or(s.Tolerance, DefaultCurveTolerance),
			Gain:                   or(s.Gain, DefaultCurveGain),
			Timeout:                s.Timeout,
		})
	case OpArc:
		return b.Drive.AutoArc(ctx, drive.ArcTarget{
			Heading:       s.Heading,
			LeftVelocity:  s.Left,
			RightVelocity: s.Right,
			Timeout:       s.Timeout,
		})
	case OpWait:
		return b.Clock.Sleep(ctx, s.For)
	case OpIntakeStart:
		return b.StartIntake(ctx)
	case OpIntakeStop:
		b.Mechanism.StopIntake()
	case OpWind:
		return b.Mechanism.WindMechanism(ctx)
	case OpRelease:
		skip := s.Rewind != nil && !*s.Rewind
		return b.Mechanism.ReleaseMechanism(ctx, func() bool { return skip })
	case OpHug:
		return b.Mechanism.HugBall()
	case OpUnhug:
		return b.Mechanism.ReleaseHug()
	case OpBasketRaise:
		return b.Basket.Raise(ctx, s.Turns)
	case OpBasketLower:
		return b.Basket.Lower(ctx, s.Turns, s.Wait == nil || *s.Wait)
	case OpDump:
		return b.Basket.Dump(ctx)
	case OpCalibrate:
		return b.Calibrate(ctx)
	case OpStopAll:
		b.StopAll()
	case OpCheckpoint:
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidStep, s.Op)
	}
	return nil
}

func turnVelocity(v float64) float64 {
	if v == 0 {
		return DefaultTurnVelocity
	}
	return v
}

func or(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
