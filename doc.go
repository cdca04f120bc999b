// Package axobotl is the autonomous controller for a two-wheel competition
// robot with a ball intake, a tilting basket and a wound launcher.
//
// Routines are sequences of drive and mechanism steps written in YAML. They
// run against a lock-step simulation of the robot, optionally with the real
// feetech servo claw attached.
//
// # Installation
//
//	go install github.com/axolotls/axobotl/cmd/axobotl@latest
//
// # Usage
//
// List the built-in routines, then run one:
//
//	axobotl routines
//	axobotl run -r goal1
//
// Watch a routine on a live chart of wheel commands and heading:
//
//	axobotl simulate -r green_strip --speed 2
//
// Find and calibrate the claw:
//
//	axobotl scan
//	axobotl setup
//
// # Packages
//
//   - cmd/axobotl: CLI with run, simulate, routines, scan and setup commands
//   - pkg/device: Motor, gyro, rangefinder, cylinder and bumper interfaces
//   - pkg/heading: Compass arithmetic and the gyro-backed heading source
//   - pkg/eye: Ball-present edge detector and its poller
//   - pkg/drive: Straight, turn, curve and arc primitives
//   - pkg/mechanism: Intake, launcher and basket coordination
//   - pkg/robot: Robot assembly, configuration and the servo claw
//   - pkg/routine: YAML routines and the step runner
//   - pkg/sim: Simulated devices on a lock-step world clock
//   - pkg/sched: Clock and cancel flag shared by the control loops
//   - pkg/telemetry: Sample recorder and websocket stream
package axobotl
