package robot

import (
	"context"
	"errors"
	"testing"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

type fakeGroup struct {
	enabled bool
	writes  []feetech.PositionMap
	err     error
}

func (g *fakeGroup) EnableAll(context.Context) error  { g.enabled = true; return g.err }
func (g *fakeGroup) DisableAll(context.Context) error { g.enabled = false; return g.err }

func (g *fakeGroup) SetPositions(_ context.Context, p feetech.PositionMap) error {
	g.writes = append(g.writes, p)
	return g.err
}

func testClaw(g *fakeGroup) *Claw {
	return newClaw(nil, g, ClawConfig{
		Calibration: ServoCalibrations{
			ClawLeft:  {ID: 1, RangeMin: 1000, RangeMax: 2000},
			ClawRight: {ID: 2, RangeMin: 1500, RangeMax: 2500, Inverted: true},
		},
	})
}

func TestClaw_ExtendRetract(t *testing.T) {
	g := &fakeGroup{}
	c := testClaw(g)

	if err := c.PowerOn(); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	if !g.enabled {
		t.Error("torque not enabled")
	}
	if err := c.Extend(1); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if err := c.Retract(2); err != nil {
		t.Fatalf("Retract: %v", err)
	}
	if err := c.Extend(AllJaws); err != nil {
		t.Fatalf("Extend all: %v", err)
	}

	if len(g.writes) != 3 {
		t.Fatalf("got %d writes, want 3", len(g.writes))
	}
	if got := g.writes[0][1]; got != 2000 {
		t.Errorf("left closed at %d, want 2000", got)
	}
	// The right jaw is inverted: open is its raw maximum.
	if got := g.writes[1][2]; got != 2500 {
		t.Errorf("right opened at %d, want 2500", got)
	}
	if all := g.writes[2]; len(all) != 2 || all[1] != 2000 || all[2] != 1500 {
		t.Errorf("closing all wrote %v", all)
	}

	if err := c.PowerOff(); err != nil {
		t.Fatalf("PowerOff: %v", err)
	}
	if g.enabled {
		t.Error("torque still enabled")
	}
}

func TestClaw_UnknownServo(t *testing.T) {
	g := &fakeGroup{}
	c := testClaw(g)

	if err := c.Extend(7); !errors.Is(err, ErrUnknownServo) {
		t.Errorf("err = %v, want ErrUnknownServo", err)
	}
	if len(g.writes) != 0 {
		t.Errorf("wrote %v for an unknown servo", g.writes)
	}
}

func TestClaw_WriteError(t *testing.T) {
	busErr := errors.New("bus timeout")
	c := testClaw(&fakeGroup{err: busErr})

	if err := c.Extend(1); !errors.Is(err, busErr) {
		t.Errorf("err = %v, want wrapped bus error", err)
	}
}

func TestNewClaw_RequiresCalibration(t *testing.T) {
	if _, err := NewClaw(ClawConfig{Port: "/dev/null"}); err == nil {
		t.Error("NewClaw accepted an uncalibrated claw")
	}
}
