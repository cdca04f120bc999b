package drive

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/axolotls/axobotl/internal/log"
	"github.com/axolotls/axobotl/pkg/device"
	"github.com/axolotls/axobotl/pkg/heading"
	"github.com/axolotls/axobotl/pkg/sched"
	"github.com/axolotls/axobotl/pkg/sim"
	"github.com/axolotls/axobotl/pkg/telemetry"
)

type samples struct {
	mu  sync.Mutex
	all []telemetry.Sample
}

func (s *samples) Record(sample telemetry.Sample) {
	s.mu.Lock()
	s.all = append(s.all, sample)
	s.mu.Unlock()
}

func (s *samples) get() []telemetry.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.Sample(nil), s.all...)
}

type rig struct {
	world       *sim.World
	left, right *sim.Motor
	gyro        *sim.Gyro
	cancel      *sched.Flag
	samples     *samples
	ctrl        *Controller
}

func newRig(t *testing.T) *rig {
	t.Helper()
	w := sim.NewWorld()
	left := w.NewMotor("left")
	right := w.NewMotor("right")
	gyro := w.NewGyro(left, right)
	r := &rig{
		world:   w,
		left:    left,
		right:   right,
		gyro:    gyro,
		cancel:  &sched.Flag{},
		samples: &samples{},
	}
	r.ctrl = New(DefaultConfig(), Drivetrain{
		Left:    left,
		Right:   right,
		Heading: heading.NewSource(gyro, w, log.Discard()),
		Clock:   w,
		Cancel:  r.cancel,
		Sink:    r.samples,
		Logger:  log.Discard(),
	})
	r.ctrl.Setup()
	return r
}

func (r *rig) assertStopped(t *testing.T, mode device.BrakeMode) {
	t.Helper()
	for _, m := range []*sim.Motor{r.left, r.right} {
		if c := m.Command(); c != 0 {
			t.Errorf("%s command = %v, want 0", m.Name(), c)
		}
		stopped, got := m.Stopped()
		if !stopped || got != mode {
			t.Errorf("%s stopped = %v/%v, want true/%v", m.Name(), stopped, got, mode)
		}
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Outcome
	}{
		{nil, TargetReached},
		{ErrTimeout, TimedOut},
		{ErrStuck, Stuck},
		{ErrCancelled, Cancelled},
		{context.Canceled, Aborted},
		{errors.Join(errors.New("wrapped"), ErrStuck), Stuck},
	}
	for _, tt := range tests {
		if got := OutcomeOf(tt.err); got != tt.want {
			t.Errorf("OutcomeOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestGoStraight_ReachesDistance(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	err := r.ctrl.GoStraight(ctx, DriveTarget{Distance: 200, Unit: device.Millimeters, Velocity: 50})
	if err != nil {
		t.Fatalf("GoStraight: %v", err)
	}
	r.assertStopped(t, device.Brake)

	// 200mm is exactly one revolution of the default wheel.
	for _, m := range []*sim.Motor{r.left, r.right} {
		if p := m.Position(device.Turns); p < 1 || p > 1.02 {
			t.Errorf("%s position = %.4f, want ~1", m.Name(), p)
		}
	}
	if r.ctrl.State() != Idle {
		t.Errorf("state = %v, want idle", r.ctrl.State())
	}
	if r.ctrl.LastOutcome() != TargetReached {
		t.Errorf("outcome = %v, want target_reached", r.ctrl.LastOutcome())
	}
}

func TestGoStraight_Profile(t *testing.T) {
	r := newRig(t)

	if err := r.ctrl.GoStraight(context.Background(), DriveTarget{Distance: 200, Velocity: 50}); err != nil {
		t.Fatalf("GoStraight: %v", err)
	}

	got := r.samples.get()
	if len(got) < 10 {
		t.Fatalf("only %d samples", len(got))
	}
	taper := DefaultTuning().TaperTurns
	prev := math.Inf(1)
	for i, s := range got {
		if s.Remaining >= prev {
			t.Fatalf("sample %d: remaining %.4f did not decrease from %.4f", i, s.Remaining, prev)
		}
		prev = s.Remaining
		if math.Abs(s.Left) > 50 || math.Abs(s.Right) > 50 {
			t.Errorf("sample %d: wheels %.1f/%.1f exceed velocity", i, s.Left, s.Right)
		}
		if s.Remaining > 0 && s.Remaining < taper && s.Left < 20 {
			t.Errorf("sample %d: speed %.2f below floor with %.3f turns left", i, s.Left, s.Remaining)
		}
	}
	if last := got[len(got)-1]; last.Remaining > 0 || last.Left != 0 {
		t.Errorf("last sample = %+v, want zero command at target", last)
	}
}

func TestGoStraight_Reverse(t *testing.T) {
	r := newRig(t)

	if err := r.ctrl.GoStraight(context.Background(), DriveTarget{Distance: 100, Velocity: -40}); err != nil {
		t.Fatalf("GoStraight: %v", err)
	}
	for _, m := range []*sim.Motor{r.left, r.right} {
		if p := m.Position(device.Turns); p > -0.5 || p < -0.52 {
			t.Errorf("%s position = %.4f, want ~-0.5", m.Name(), p)
		}
	}
}

func TestGoStraight_CorrectsDrift(t *testing.T) {
	r := newRig(t)
	r.gyro.SetDrift(5)

	if err := r.ctrl.GoStraight(context.Background(), DriveTarget{Distance: 600, Velocity: 50}); err != nil {
		t.Fatalf("GoStraight: %v", err)
	}

	// Uncorrected, 5 deg/s for three seconds would be 15 degrees.
	if yaw := heading.RemapToYaw(r.gyro.Heading()); math.Abs(yaw) > 3 {
		t.Errorf("yaw = %.2f, want within 3 degrees of 0", yaw)
	}
	corrected := false
	for _, s := range r.samples.get() {
		if s.Error > 0.1 && s.Left < s.Right {
			corrected = true
			break
		}
	}
	if !corrected {
		t.Error("no tick slowed the left wheel against clockwise drift")
	}
}

func TestGoStraight_CorrectionKeepsFloor(t *testing.T) {
	tests := []struct {
		name     string
		velocity float64
	}{
		{"forward", 40},
		{"reverse", -40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			r.gyro.SetDrift(20)

			if err := r.ctrl.GoStraight(context.Background(), DriveTarget{Distance: 400, Velocity: tt.velocity}); err != nil {
				t.Fatalf("GoStraight: %v", err)
			}
			floor := DefaultTuning().StraightFloor
			for i, s := range r.samples.get() {
				if s.Remaining <= 0 {
					continue
				}
				if math.Abs(s.Left) < floor || math.Abs(s.Right) < floor {
					t.Fatalf("sample %d: wheels %.2f/%.2f below floor with %.3f turns left", i, s.Left, s.Right, s.Remaining)
				}
				if math.Signbit(s.Left) != math.Signbit(tt.velocity) || math.Signbit(s.Right) != math.Signbit(tt.velocity) {
					t.Fatalf("sample %d: wheels %.2f/%.2f against the drive direction", i, s.Left, s.Right)
				}
			}
		})
	}
}

func TestGoStraight_HoldsExplicitYaw(t *testing.T) {
	r := newRig(t)
	r.gyro.SetHeading(4)

	if err := r.ctrl.GoStraight(context.Background(), DriveTarget{Distance: 600, Velocity: 50, Hold: HoldYaw(0)}); err != nil {
		t.Fatalf("GoStraight: %v", err)
	}
	if yaw := heading.RemapToYaw(r.gyro.Heading()); math.Abs(yaw) > 1 {
		t.Errorf("yaw = %.2f, want pulled back toward 0", yaw)
	}
}

func TestGoStraight_InvalidTarget(t *testing.T) {
	tests := []struct {
		name   string
		target DriveTarget
	}{
		{"yaw -180", DriveTarget{Distance: 100, Velocity: 50, Hold: HoldYaw(-180)}},
		{"yaw 200", DriveTarget{Distance: 100, Velocity: 50, Hold: HoldYaw(200)}},
		{"zero velocity", DriveTarget{Distance: 100}},
		{"velocity 120", DriveTarget{Distance: 100, Velocity: 120}},
		{"negative distance", DriveTarget{Distance: -1, Velocity: 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			before := len(r.left.Log())
			err := r.ctrl.GoStraight(context.Background(), tt.target)
			if !errors.Is(err, ErrInvalidTarget) {
				t.Fatalf("err = %v, want ErrInvalidTarget", err)
			}
			if n := len(r.left.Log()); n != before {
				t.Errorf("invalid target issued %d motor commands", n-before)
			}
		})
	}
}

func TestGoStraight_Cancel(t *testing.T) {
	r := newRig(t)
	var raisedAt time.Duration
	r.world.OnStep(func(now time.Time, _ time.Duration) {
		if raisedAt == 0 && now.Sub(sim.Epoch) >= 300*time.Millisecond {
			raisedAt = now.Sub(sim.Epoch)
			r.cancel.Raise()
		}
	})

	err := r.ctrl.GoStraight(context.Background(), DriveTarget{Distance: 2000, Velocity: 50})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if late := r.world.Elapsed() - raisedAt; late > DefaultTuning().Tick {
		t.Errorf("exited %v after the raise, want within one tick", late)
	}
	if r.cancel.Raised() {
		t.Error("flag still raised after the drive consumed it")
	}
	r.assertStopped(t, device.Brake)
	if r.ctrl.LastOutcome() != Cancelled {
		t.Errorf("outcome = %v, want cancelled", r.ctrl.LastOutcome())
	}
}

func TestGoStraight_Timeout(t *testing.T) {
	r := newRig(t)
	r.left.Jam(true)
	r.right.Jam(true)

	err := r.ctrl.GoStraight(context.Background(), DriveTarget{Distance: 200, Velocity: 50, Timeout: 500 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if e := r.world.Elapsed(); e < 500*time.Millisecond || e > 510*time.Millisecond {
		t.Errorf("elapsed = %v, want 500ms", e)
	}
	r.assertStopped(t, device.Brake)
	if r.ctrl.LastOutcome() != TimedOut {
		t.Errorf("outcome = %v, want timed_out", r.ctrl.LastOutcome())
	}
}

func TestGoStraight_ContextCancelled(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.ctrl.GoStraight(ctx, DriveTarget{Distance: 200, Velocity: 50})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	r.assertStopped(t, device.Brake)
}

func TestGoTurn_Converges(t *testing.T) {
	tests := []struct {
		name     string
		from, to float64
		wantLeft float64 // sign of the first left command
	}{
		{"clockwise across north", 350, 10, 1},
		{"counter-clockwise across north", 10, 350, -1},
		{"quarter turn", 0, 90, 1},
		{"quarter turn back", 90, 0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			r.gyro.SetHeading(tt.from)

			err := r.ctrl.GoTurn(context.Background(), TurnTarget{Heading: tt.to, Velocity: 50, Timeout: 2 * time.Second})
			if err != nil {
				t.Fatalf("GoTurn: %v", err)
			}
			if e := heading.Diff(tt.to, r.gyro.Heading()); math.Abs(e) >= 0.1 {
				t.Errorf("final error = %.3f, want < 0.1", e)
			}
			if r.world.Elapsed() >= 2*time.Second {
				t.Errorf("took %v", r.world.Elapsed())
			}
			r.assertStopped(t, device.Hold)

			got := r.samples.get()
			if signOf(got[0].Left) != tt.wantLeft {
				t.Errorf("first left command = %v, want sign %v", got[0].Left, tt.wantLeft)
			}
		})
	}
}

func TestGoTurn_FrozenGyroTimesOut(t *testing.T) {
	r := newRig(t)
	r.gyro.SetHeading(350)
	r.gyro.Freeze(true)

	err := r.ctrl.GoTurn(context.Background(), TurnTarget{Heading: 10, Velocity: 50, Timeout: 2 * time.Second})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if e := r.world.Elapsed(); e < 2*time.Second || e > 2*time.Second+10*time.Millisecond {
		t.Errorf("elapsed = %v, want 2s", e)
	}
	r.assertStopped(t, device.Hold)
}

func TestGoTurn_TaperFloor(t *testing.T) {
	r := newRig(t)

	if err := r.ctrl.GoTurn(context.Background(), TurnTarget{Heading: 45, Velocity: 60}); err != nil {
		t.Fatalf("GoTurn: %v", err)
	}
	for i, s := range r.samples.get() {
		if s.Left == 0 {
			continue
		}
		if math.Abs(s.Left) < 8 || math.Abs(s.Left) > 60 {
			t.Errorf("sample %d: speed %.2f outside [8, 60]", i, s.Left)
		}
		if s.Left != -s.Right {
			t.Errorf("sample %d: wheels %.2f/%.2f not opposite", i, s.Left, s.Right)
		}
	}
}

func TestGoTurn_InvalidHeading(t *testing.T) {
	r := newRig(t)
	for _, h := range []float64{-1, 360, 400} {
		err := r.ctrl.GoTurn(context.Background(), TurnTarget{Heading: h, Velocity: 50})
		if !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("heading %v: err = %v, want ErrInvalidTarget", h, err)
		}
	}
}

func TestTurnBy(t *testing.T) {
	r := newRig(t)
	r.gyro.SetHeading(300)

	if err := r.ctrl.TurnBy(context.Background(), 90, 50, 0); err != nil {
		t.Fatalf("TurnBy: %v", err)
	}
	if e := heading.Diff(30, r.gyro.Heading()); math.Abs(e) >= 0.1 {
		t.Errorf("heading = %.2f, want 30", r.gyro.Heading())
	}
}

func TestGoTurn90(t *testing.T) {
	tests := []struct {
		name     string
		velocity float64
		sign     float64
	}{
		{"clockwise", 50, 1},
		{"counter-clockwise", -50, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			amount := r.ctrl.Geometry().PivotTurns()

			if err := r.ctrl.GoTurn90(context.Background(), tt.velocity, 0); err != nil {
				t.Fatalf("GoTurn90: %v", err)
			}
			l := r.left.Position(device.Turns) * tt.sign
			rt := -r.right.Position(device.Turns) * tt.sign
			for name, p := range map[string]float64{"left": l, "right": rt} {
				if p < amount || p > amount+0.02 {
					t.Errorf("%s rotated %.4f, want %.4f", name, p, amount)
				}
			}
			r.assertStopped(t, device.Brake)
		})
	}
}

func curveTarget() CurveTarget {
	return CurveTarget{
		Heading:                90,
		Speed:                  40,
		Revolutions:            2,
		MaxAcceleration:        100,
		MaxHeadingRate:         20,
		MaxHeadingAcceleration: 50,
		Tolerance:              2,
		Gain:                   1,
	}
}

func TestGoCurve(t *testing.T) {
	r := newRig(t)
	target := curveTarget()

	if err := r.ctrl.GoCurve(context.Background(), target); err != nil {
		t.Fatalf("GoCurve: %v", err)
	}
	if e := heading.Diff(90, r.gyro.Heading()); math.Abs(e) > target.Tolerance {
		t.Errorf("final error = %.2f, want within %v", e, target.Tolerance)
	}
	traveled := (r.left.Position(device.Turns) + r.right.Position(device.Turns)) / 2
	if traveled < target.Revolutions {
		t.Errorf("traveled %.3f revolutions, want >= %v", traveled, target.Revolutions)
	}
	r.assertStopped(t, device.Brake)

	// The forward channel is the wheel mean; it never jumps by more than
	// one tick of acceleration.
	step := target.MaxAcceleration * DefaultTuning().Tick.Seconds()
	got := r.samples.get()
	prev := 0.0
	for i, s := range got {
		speed := (s.Left + s.Right) / 2
		if math.Abs(speed-prev) > step+1e-9 {
			t.Fatalf("sample %d: speed jumped %.3f -> %.3f", i, prev, speed)
		}
		prev = speed
	}
}

func TestGoCurve_Invalid(t *testing.T) {
	r := newRig(t)
	tests := []struct {
		name   string
		modify func(*CurveTarget)
	}{
		{"heading 360", func(c *CurveTarget) { c.Heading = 360 }},
		{"zero acceleration", func(c *CurveTarget) { c.MaxAcceleration = 0 }},
		{"zero tolerance", func(c *CurveTarget) { c.Tolerance = 0 }},
		{"negative revolutions", func(c *CurveTarget) { c.Revolutions = -1 }},
	}
	for _, tt := range tests {
		target := curveTarget()
		tt.modify(&target)
		if err := r.ctrl.GoCurve(context.Background(), target); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("%s: err = %v, want ErrInvalidTarget", tt.name, err)
		}
	}
}

func TestAutoArc(t *testing.T) {
	r := newRig(t)

	err := r.ctrl.AutoArc(context.Background(), ArcTarget{Heading: 90, LeftVelocity: 50, RightVelocity: 10})
	if err != nil {
		t.Fatalf("AutoArc: %v", err)
	}
	if e := heading.Diff(90, r.gyro.Heading()); math.Abs(e) >= 5 {
		t.Errorf("final error = %.2f, want inside the arc band", e)
	}
	r.assertStopped(t, device.Brake)
}

func TestAutoArc_Stuck(t *testing.T) {
	r := newRig(t)
	r.gyro.Freeze(true)

	err := r.ctrl.AutoArc(context.Background(), ArcTarget{Heading: 90, LeftVelocity: 50, RightVelocity: 10})
	if !errors.Is(err, ErrStuck) {
		t.Fatalf("err = %v, want ErrStuck", err)
	}
	// The first poll has nothing to compare against, then six unchanged polls.
	if e := r.world.Elapsed(); e != 600*time.Millisecond {
		t.Errorf("elapsed = %v, want 600ms", e)
	}
	r.assertStopped(t, device.Brake)
	if r.ctrl.LastOutcome() != Stuck {
		t.Errorf("outcome = %v, want stuck", r.ctrl.LastOutcome())
	}
}

func TestAutoArc_Timeout(t *testing.T) {
	r := newRig(t)
	r.gyro.SetDrift(1)

	err := r.ctrl.AutoArc(context.Background(), ArcTarget{Heading: 180, LeftVelocity: 30, RightVelocity: 30, Timeout: time.Second})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	r.assertStopped(t, device.Brake)
}

func TestBusy(t *testing.T) {
	r := newRig(t)
	var busyErr error
	var once sync.Once
	r.world.OnStep(func(time.Time, time.Duration) {
		once.Do(func() {
			busyErr = r.ctrl.GoTurn(context.Background(), TurnTarget{Heading: 90, Velocity: 50})
		})
	})

	if err := r.ctrl.GoStraight(context.Background(), DriveTarget{Distance: 100, Velocity: 50}); err != nil {
		t.Fatalf("GoStraight: %v", err)
	}
	if !errors.Is(busyErr, ErrBusy) {
		t.Errorf("concurrent primitive err = %v, want ErrBusy", busyErr)
	}
}

func TestStop_Idempotent(t *testing.T) {
	r := newRig(t)

	r.ctrl.Stop(device.Brake)
	r.ctrl.Stop(device.Brake)
	for _, m := range []*sim.Motor{r.left, r.right} {
		if n := m.Count(sim.CmdStop); n != 1 {
			t.Errorf("%s logged %d stops, want 1", m.Name(), n)
		}
	}
	r.assertStopped(t, device.Brake)
}

func TestGeometry(t *testing.T) {
	g := DefaultGeometry()
	if got := g.TurnsFor(200); math.Abs(got-1) > 1e-9 {
		t.Errorf("TurnsFor(200) = %v, want 1", got)
	}
	g.ExternalGearRatio = 5
	if got := g.TurnsFor(200); math.Abs(got-5) > 1e-9 {
		t.Errorf("geared TurnsFor(200) = %v, want 5", got)
	}
	g.Turn90Turns = 0.9
	if got := g.PivotTurns(); got != 0.9 {
		t.Errorf("PivotTurns = %v, want explicit 0.9", got)
	}
	if err := (Geometry{}).Validate(); err == nil {
		t.Error("zero geometry validated")
	}
}
