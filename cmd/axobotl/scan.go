package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/axolotls/axobotl/pkg/robot"
)

type ScanCommand struct {
	First int `long:"first" default:"1" description:"First servo ID to probe"`
	Last  int `long:"last" default:"6" description:"Last servo ID to probe"`
}

type busInfo struct {
	port   string
	servos []feetech.FoundServo
}

func (c *ScanCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("axobotl scan"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━"))
	fmt.Println()

	buses := findBuses(c.First, c.Last)
	if len(buses) == 0 {
		fmt.Println("No feetech servos found.")
		fmt.Println("Make sure the claw is connected and powered on.")
		return nil
	}

	var rows [][]string
	for _, b := range buses {
		for _, s := range b.servos {
			rows = append(rows, []string{b.port, fmt.Sprintf("%d", s.ID), fmt.Sprintf("%v", s.Model), clawRole(s.ID)})
		}
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Port", "ID", "Model", "Role").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	fmt.Println(t.Render())

	if claws := clawBuses(buses); len(claws) > 0 {
		fmt.Println(successStyle.Render("Claw found on " + strings.Join(claws, ", ")))
		fmt.Println("Calibrate it with: " + headerStyle.Render("axobotl setup"))
	}
	return nil
}

// clawRole names the claw jaw a servo ID drives.
func clawRole(id int) string {
	servos := robot.AllServos()
	if id >= 1 && id <= len(servos) {
		return string(servos[id-1])
	}
	return ""
}

// isClaw reports whether a bus carries a servo for every jaw.
func isClaw(servos []feetech.FoundServo) bool {
	for i := range robot.AllServos() {
		id := i + 1
		if !slices.ContainsFunc(servos, func(s feetech.FoundServo) bool { return s.ID == id }) {
			return false
		}
	}
	return true
}

func clawBuses(buses []busInfo) []string {
	var ports []string
	for _, b := range buses {
		if isClaw(b.servos) {
			ports = append(ports, b.port)
		}
	}
	return ports
}

func findBuses(first, last int) []busInfo {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	var buses []busInfo
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}

		servos, err := scanPort(port, first, last)
		if err != nil || len(servos) == 0 {
			continue
		}
		fmt.Printf("  Found %d servo(s) on %s\n", len(servos), port)
		buses = append(buses, busInfo{port: port, servos: servos})
	}
	fmt.Println()
	return buses
}

func scanPort(port string, first, last int) ([]feetech.FoundServo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	bus, err := robot.OpenBus(port)
	if err != nil {
		return nil, err
	}
	defer bus.Close()
	return bus.Scan(ctx, first, last)
}
