package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config   string `short:"c" long:"config" default:"axobotl.json" description:"Robot configuration file"`
	LogLevel string `long:"log-level" description:"Log level (debug, info, warn, error); overrides the config"`

	Run      RunCommand      `command:"run" description:"Run an autonomous routine on the simulated robot"`
	Simulate SimulateCommand `command:"simulate" alias:"sim" description:"Run a routine with a live chart of heading and wheel commands"`
	Routines RoutinesCommand `command:"routines" alias:"ls" description:"List or print the built-in routines"`
	Scan     ScanCommand     `command:"scan" description:"Scan serial ports for feetech claw servos"`
	Setup    SetupCommand    `command:"setup" description:"Record the claw servo range and save it to the config"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "axobotl - autonomous controller for the Extreme Axolotls competition robot"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
