package mechanism

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/axolotls/axobotl/internal/log"
	"github.com/axolotls/axobotl/pkg/device"
	"github.com/axolotls/axobotl/pkg/eye"
	"github.com/axolotls/axobotl/pkg/sched"
	"github.com/axolotls/axobotl/pkg/sim"
)

const (
	windTurns = 1.0
	fireTurns = 0.5
)

type launcher struct {
	world  *sim.World
	winder *sim.Motor
	intake []*sim.Motor
	claw   *sim.Cylinder
	rf     *sim.Rangefinder
	cancel *sched.Flag
	coord  *Coordinator
}

// newLauncher couples the loaded rangefinder to the winder: within each
// wind plus fire cycle the ball is in front of the sensor once the winder
// has covered windTurns.
func newLauncher(t *testing.T) *launcher {
	t.Helper()
	w := sim.NewWorld()
	l := &launcher{
		world:  w,
		winder: w.NewMotor("winder"),
		intake: []*sim.Motor{w.NewMotor("intake_left"), w.NewMotor("intake_right")},
		claw:   sim.NewCylinder(),
		rf:     sim.NewRangefinder(200),
		cancel: &sched.Flag{},
	}
	cycle := windTurns + fireTurns
	l.rf.Follow(func() float64 {
		p := math.Mod(l.winder.Position(device.Turns), cycle)
		if p >= windTurns {
			return 30
		}
		return 200
	})

	cfg := DefaultConfig()
	cfg.FireTurns = fireTurns
	l.coord = New(cfg, Parts{
		Winder: l.winder,
		Intake: []device.Motor{l.intake[0], l.intake[1]},
		Claw:   l.claw,
		Loaded: eye.NewDetector(DetectorLoaded, l.rf, 80),
		Clock:  w,
		Cancel: l.cancel,
		Logger: log.Discard(),
	})
	return l
}

func TestWindMechanism_EdgeReachesPoller(t *testing.T) {
	l := newLauncher(t)
	p := eye.NewPoller(l.world, 0, log.Discard())
	loaded := eye.NewDetector(DetectorLoaded, l.rf, 80)
	p.Add(loaded)
	c := New(DefaultConfig(), Parts{
		Winder: l.winder,
		Loaded: loaded,
		Poller: p,
		Clock:  l.world,
		Logger: log.Discard(),
	})

	if err := c.WindMechanism(context.Background()); err != nil {
		t.Fatalf("WindMechanism: %v", err)
	}
	select {
	case ev := <-p.Events():
		if ev.Detector != DetectorLoaded || ev.Kind != eye.ObjectSeen {
			t.Errorf("event = %+v, want loaded seen", ev)
		}
	default:
		t.Fatal("wind edge never reached the event channel")
	}
	if fired := p.Step(); len(fired) != 0 {
		t.Errorf("poller refired %d events", len(fired))
	}
}

func TestWindMechanism_UnpluggedSensorNeverHolds(t *testing.T) {
	l := newLauncher(t)
	loaded := eye.NewDetector(DetectorLoaded, l.rf, 80)
	c := New(DefaultConfig(), Parts{Winder: l.winder, Loaded: loaded, Clock: l.world, Logger: log.Discard()})

	// Park the ball in front of the sensor, then pull the plug.
	l.winder.SpinFor(context.Background(), device.Forward, windTurns, device.Turns, 100, false)
	l.world.Advance(time.Second)
	loaded.Poll()
	if !loaded.Seen() {
		t.Fatal("setup: ball not seen")
	}
	l.rf.SetInstalled(false)

	err := c.WindMechanism(context.Background())
	if !errors.Is(err, ErrWindTimeout) {
		t.Fatalf("err = %v, want ErrWindTimeout", err)
	}
	if c.Loaded() || c.State() != Failed {
		t.Errorf("loaded=%v state=%v, want unloaded and failed", c.Loaded(), c.State())
	}
}

func TestWindMechanism(t *testing.T) {
	l := newLauncher(t)

	if err := l.coord.WindMechanism(context.Background()); err != nil {
		t.Fatalf("WindMechanism: %v", err)
	}
	if s := l.coord.State(); s != Holding {
		t.Errorf("state = %v, want holding", s)
	}
	if !l.coord.Loaded() {
		t.Error("not loaded after wind")
	}
	if p := l.winder.Position(device.Turns); p < windTurns || p > windTurns+0.03 {
		t.Errorf("winder at %.3f turns, want just past %v", p, windTurns)
	}
	if stopped, mode := l.winder.Stopped(); !stopped || mode != device.Hold {
		t.Errorf("winder stopped = %v/%v, want holding stop", stopped, mode)
	}
}

func TestWindMechanism_AlreadyLoaded(t *testing.T) {
	l := newLauncher(t)
	l.rf.SetDistance(30)

	if err := l.coord.WindMechanism(context.Background()); err != nil {
		t.Fatalf("WindMechanism: %v", err)
	}
	if n := l.winder.Count(sim.CmdSpin); n != 0 {
		t.Errorf("winder spun %d times with the ball already loaded", n)
	}
	if l.world.Elapsed() != 0 {
		t.Errorf("elapsed = %v, want 0", l.world.Elapsed())
	}
}

func TestWindMechanism_Timeout(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*sim.Rangefinder)
	}{
		{"never loaded", func(rf *sim.Rangefinder) { rf.SetDistance(200) }},
		{"sensor absent", func(rf *sim.Rangefinder) { rf.SetInstalled(false) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLauncher(t)
			tt.setup(l.rf)

			err := l.coord.WindMechanism(context.Background())
			if !errors.Is(err, ErrWindTimeout) {
				t.Fatalf("err = %v, want ErrWindTimeout", err)
			}
			if s := l.coord.State(); s != Failed {
				t.Errorf("state = %v, want failed", s)
			}
			if e := l.world.Elapsed(); e < 3*time.Second || e > 3*time.Second+10*time.Millisecond {
				t.Errorf("elapsed = %v, want 3s", e)
			}
			if c := l.winder.Command(); c != 0 {
				t.Errorf("winder command = %v after timeout", c)
			}
		})
	}
}

func TestWindMechanism_Cancel(t *testing.T) {
	l := newLauncher(t)
	l.rf.SetDistance(200)
	l.world.OnStep(func(now time.Time, _ time.Duration) {
		if now.Sub(sim.Epoch) == 100*time.Millisecond {
			l.cancel.Raise()
		}
	})

	err := l.coord.WindMechanism(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if s := l.coord.State(); s != Idle {
		t.Errorf("state = %v, want idle", s)
	}
	if c := l.winder.Command(); c != 0 {
		t.Errorf("winder command = %v after cancel", c)
	}
}

func TestReleaseMechanism_Rewinds(t *testing.T) {
	l := newLauncher(t)
	ctx := context.Background()
	if err := l.coord.WindMechanism(ctx); err != nil {
		t.Fatalf("WindMechanism: %v", err)
	}

	if err := l.coord.ReleaseMechanism(ctx, nil); err != nil {
		t.Fatalf("ReleaseMechanism: %v", err)
	}
	if s := l.coord.State(); s != Holding {
		t.Errorf("state = %v, want holding after rewind", s)
	}
	want := 2*windTurns + fireTurns
	if p := l.winder.Position(device.Turns); p < want || p > want+0.03 {
		t.Errorf("winder at %.3f turns, want just past %v", p, want)
	}
	if n := l.winder.Count(sim.CmdSpinFor); n != 1 {
		t.Errorf("fire strokes = %d, want 1", n)
	}
	if c := l.coord.Counts(); c.Loads != 2 {
		t.Errorf("loads = %d, want 2", c.Loads)
	}
}

func TestReleaseMechanism_CancelRewind(t *testing.T) {
	l := newLauncher(t)
	ctx := context.Background()
	if err := l.coord.WindMechanism(ctx); err != nil {
		t.Fatalf("WindMechanism: %v", err)
	}
	held := l.winder.Position(device.Turns)

	if err := l.coord.ReleaseMechanism(ctx, func() bool { return true }); err != nil {
		t.Fatalf("ReleaseMechanism: %v", err)
	}
	if s := l.coord.State(); s != Idle {
		t.Errorf("state = %v, want idle", s)
	}
	if l.coord.Loaded() {
		t.Error("still loaded after firing")
	}
	if p := l.winder.Position(device.Turns); math.Abs(p-held-fireTurns) > 1e-6 {
		t.Errorf("winder moved %.3f turns, want the fire stroke %v", p-held, fireTurns)
	}
	if stopped, mode := l.winder.Stopped(); !stopped || mode != device.Coast {
		t.Errorf("winder stopped = %v/%v, want coast", stopped, mode)
	}
}

func TestHug(t *testing.T) {
	l := newLauncher(t)

	if err := l.coord.HugBall(); err != nil {
		t.Fatalf("HugBall: %v", err)
	}
	if !l.claw.Extended(1) || !l.coord.Hugging() {
		t.Error("claw not closed")
	}
	if err := l.coord.ReleaseHug(); err != nil {
		t.Fatalf("ReleaseHug: %v", err)
	}
	if l.claw.Extended(1) || l.coord.Hugging() {
		t.Error("claw not open")
	}

	want := []string{"power_on", "extend", "power_on", "retract"}
	got := l.claw.Actions()
	if len(got) != len(want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("action %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStartIntake_WindsFirst(t *testing.T) {
	l := newLauncher(t)

	if err := l.coord.StartIntake(context.Background()); err != nil {
		t.Fatalf("StartIntake: %v", err)
	}
	if !l.coord.Loaded() {
		t.Error("intake started on an unloaded launcher")
	}
	for _, m := range l.intake {
		if c := m.Command(); c != 100 {
			t.Errorf("%s command = %v, want 100", m.Name(), c)
		}
	}

	l.coord.StopIntake()
	for _, m := range l.intake {
		if stopped, mode := m.Stopped(); !stopped || mode != device.Coast {
			t.Errorf("%s stopped = %v/%v, want coast", m.Name(), stopped, mode)
		}
	}
}

func TestStartIntake_WindFails(t *testing.T) {
	l := newLauncher(t)
	l.rf.SetDistance(200)

	err := l.coord.StartIntake(context.Background())
	if !errors.Is(err, ErrWindTimeout) {
		t.Fatalf("err = %v, want ErrWindTimeout", err)
	}
	if l.coord.IntakeRunning() {
		t.Error("intake running after failed wind")
	}
	for _, m := range l.intake {
		if c := m.Command(); c != 0 {
			t.Errorf("%s command = %v, want 0", m.Name(), c)
		}
	}
}

func TestOnEvent_TopHugs(t *testing.T) {
	l := newLauncher(t)
	l.coord.OnEvent(eye.Event{Detector: DetectorLoaded, Kind: eye.ObjectSeen, Seq: 1})
	if err := l.coord.StartIntake(context.Background()); err != nil {
		t.Fatalf("StartIntake: %v", err)
	}
	if n := l.winder.Count(sim.CmdSpin); n != 0 {
		t.Errorf("winder spun %d times while loaded", n)
	}

	l.coord.OnEvent(eye.Event{Detector: DetectorTop, Kind: eye.ObjectSeen, Seq: 1})
	if l.coord.IntakeRunning() {
		t.Error("intake still running after top event")
	}
	if !l.claw.Extended(1) {
		t.Error("claw not closed after top event")
	}

	// A lost event on the top detector changes nothing.
	l.coord.OnEvent(eye.Event{Detector: DetectorTop, Kind: eye.ObjectLost, Seq: 2})
	if c := l.coord.Counts(); c.Topped != 1 {
		t.Errorf("topped = %d, want 1", c.Topped)
	}
}

func TestRun(t *testing.T) {
	l := newLauncher(t)
	events := make(chan eye.Event, 4)
	events <- eye.Event{Detector: DetectorEntry, Kind: eye.ObjectSeen, Seq: 1}
	events <- eye.Event{Detector: DetectorEntry, Kind: eye.ObjectLost, Seq: 2}
	events <- eye.Event{Detector: DetectorEntry, Kind: eye.ObjectSeen, Seq: 3}
	events <- eye.Event{Detector: DetectorLoaded, Kind: eye.ObjectSeen, Seq: 1}
	close(events)

	if err := l.coord.Run(context.Background(), events); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c := l.coord.Counts(); c.Entered != 2 {
		t.Errorf("entered = %d, want 2", c.Entered)
	}
	if !l.coord.Loaded() {
		t.Error("loaded event not applied")
	}
}

func TestRun_ContextDone(t *testing.T) {
	l := newLauncher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.coord.Run(ctx, make(chan eye.Event)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestWatchBumper(t *testing.T) {
	l := newLauncher(t)
	b := sim.NewBumper()
	l.coord.WatchBumper("front", b)

	b.Press()
	if !l.cancel.Raised() {
		t.Error("bumper press did not raise the flag")
	}
}
