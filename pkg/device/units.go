package device

// Direction of rotation.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Sign returns +1 for Forward and -1 for Reverse.
func (d Direction) Sign() float64 {
	if d == Reverse {
		return -1
	}
	return 1
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Reverse {
		return Forward
	}
	return Reverse
}

// BrakeMode selects what a motor does after Stop.
type BrakeMode int

const (
	// Coast lets the motor spin freely to rest.
	Coast BrakeMode = iota
	// Brake shorts the motor to stop quickly.
	Brake
	// Hold actively resists external motion at the stop position.
	Hold
)

func (m BrakeMode) String() string {
	switch m {
	case Brake:
		return "brake"
	case Hold:
		return "hold"
	default:
		return "coast"
	}
}

// RotationUnit for motor positions and SpinFor amounts.
type RotationUnit int

const (
	Turns RotationUnit = iota
	Degrees
)

// ToTurns converts an amount in unit to revolutions.
func (u RotationUnit) ToTurns(amount float64) float64 {
	if u == Degrees {
		return amount / 360
	}
	return amount
}

// FromTurns converts revolutions to unit.
func (u RotationUnit) FromTurns(turns float64) float64 {
	if u == Degrees {
		return turns * 360
	}
	return turns
}

// DistanceUnit for travel and proximity readings.
type DistanceUnit int

const (
	Millimeters DistanceUnit = iota
	Inches
)

const mmPerInch = 25.4

// ToMillimeters converts a distance in unit to millimeters.
func (u DistanceUnit) ToMillimeters(v float64) float64 {
	if u == Inches {
		return v * mmPerInch
	}
	return v
}

// FromMillimeters converts millimeters to unit.
func (u DistanceUnit) FromMillimeters(mm float64) float64 {
	if u == Inches {
		return mm / mmPerInch
	}
	return mm
}

// ParseDistanceUnit accepts "mm" and "in" (empty means millimeters).
func ParseDistanceUnit(s string) (DistanceUnit, bool) {
	switch s {
	case "", "mm", "MM":
		return Millimeters, true
	case "in", "IN", "inch", "inches":
		return Inches, true
	}
	return Millimeters, false
}

// ClampPercent restricts a velocity command to [-100, 100].
func ClampPercent(v float64) float64 {
	if v > 100 {
		return 100
	}
	if v < -100 {
		return -100
	}
	return v
}
