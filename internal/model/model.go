package model

import (
	"fmt"
	"strings"
	"time"
)

type AccountType string

const (
	Simulation AccountType = "simulation"
	Invest     AccountType = "invest"
)

type Mode string

const (
	Setup   Mode = "setup"
	Run     Mode = "run"
	Stopped Mode = "stopped"
)

// Stance tunes the thresholds of an algorithm. Aggressive trades more often.
type Stance int

const (
	Conservative Stance = iota
	Moderate
	Aggressive
)

func (s Stance) String() string {
	switch s {
	case Conservative:
		return "conservative"
	case Moderate:
		return "moderate"
	case Aggressive:
		return "aggressive"
	default:
		return fmt.Sprintf("stance(%d)", int(s))
	}
}

func (s Stance) Valid() bool {
	return s >= Conservative && s <= Aggressive
}

func ParseStance(s string) (Stance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "conservative", "":
		return Conservative, nil
	case "moderate":
		return Moderate, nil
	case "aggressive":
		return Aggressive, nil
	default:
		return 0, fmt.Errorf("unknown stance %q", s)
	}
}

// DateOf returns the calendar date of t as UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
