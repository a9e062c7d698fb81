package plasticc

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Photometry status codes expected by the classifier.
const (
	StatusNone      = 0
	StatusDetected  = 4096
	StatusTriggered = 6144
)

// TriggerPolicy selects how the trigger observation is chosen.
type TriggerPolicy int

const (
	// TriggerCorrected marks the first detection, and nothing when the
	// series has no detection.
	TriggerCorrected TriggerPolicy = iota
	// TriggerLegacy reproduces earlier results exactly: the trigger is the
	// first maximum of the status column, so a series without detections
	// has its first observation marked as the trigger.
	TriggerLegacy
)

func (p TriggerPolicy) String() string {
	switch p {
	case TriggerCorrected:
		return "corrected"
	case TriggerLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("TriggerPolicy(%d)", int(p))
	}
}

// ParseTriggerPolicy parses the names produced by TriggerPolicy.String.
func ParseTriggerPolicy(s string) (TriggerPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "corrected":
		return TriggerCorrected, nil
	case "legacy":
		return TriggerLegacy, nil
	default:
		return 0, fmt.Errorf("unknown trigger policy %q", s)
	}
}

// CalculateTriggers converts the detection flags of one series into status
// codes: 0 for non-detections, 4096 for detections, and 6144 for the trigger.
//
// The series must already be sorted by time; an unsorted series silently
// gets the wrong trigger.
func CalculateTriggers(detected []bool, policy TriggerPolicy) []int {
	status := make([]int, len(detected))
	if len(detected) == 0 {
		return status
	}
	for i, d := range detected {
		if d {
			status[i] = StatusDetected
		}
	}

	switch policy {
	case TriggerLegacy:
		values := make([]float64, len(status))
		for i, s := range status {
			values[i] = float64(s)
		}
		status[floats.MaxIdx(values)] = StatusTriggered
	default:
		for i, s := range status {
			if s == StatusDetected {
				status[i] = StatusTriggered
				break
			}
		}
	}
	return status
}
