/*
Package factory provides JSON to Go verification-gate conversion.

PURPOSE:
  Converts JSON gate definitions into gate.Gate values. Milestone
  definitions arrive from the scheduling collaborator with a gate config
  attached; the factory turns that config into the strategy the engine
  evaluates, with no code change per proof type.

JSON SCHEMA:
  {"type": "self_attestation"}
  {"type": "client_approval", "window_hours": 72}
  {"type": "inspection"}
  {"type": "composite", "gates": [
      {"type": "inspection"},
      {"type": "client_approval", "window_hours": 72}
  ]}

DEFAULTS:
  An empty config means client approval with the engine's default window:
  the safest gate is the one a human has to act on.

SEE ALSO:
  - gate/gate.go: the strategies themselves
  - escrow/engine.go: stores the config on the milestone, evaluates via this
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/buildvault/escrow-engine/gate"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// GateJSON is the JSON representation of a verification gate.
type GateJSON struct {
	Type        string     `json:"type"`
	WindowHours int        `json:"window_hours,omitempty"`
	Gates       []GateJSON `json:"gates,omitempty"`
}

// =============================================================================
// GATE FACTORY
// =============================================================================

// GateFactory converts JSON gate configs into gate.Gate values.
type GateFactory struct {
	// DefaultApprovalWindow applies when a client_approval config carries
	// no window of its own, and to the empty-config default gate.
	DefaultApprovalWindow time.Duration
}

// NewGateFactory creates a factory with the given default approval window.
func NewGateFactory(defaultWindow time.Duration) *GateFactory {
	return &GateFactory{DefaultApprovalWindow: defaultWindow}
}

// ParseGate parses a JSON string into a Gate. Empty input yields the
// default client-approval gate.
func (f *GateFactory) ParseGate(jsonStr string) (gate.Gate, error) {
	if jsonStr == "" {
		return gate.ClientApproval{Window: f.DefaultApprovalWindow}, nil
	}
	var gj GateJSON
	if err := json.Unmarshal([]byte(jsonStr), &gj); err != nil {
		return nil, fmt.Errorf("failed to parse gate JSON: %w", err)
	}
	return f.FromJSON(gj)
}

// FromJSON builds a Gate from the parsed schema.
func (f *GateFactory) FromJSON(gj GateJSON) (gate.Gate, error) {
	switch gj.Type {
	case "", "client_approval":
		window := f.DefaultApprovalWindow
		if gj.WindowHours > 0 {
			window = time.Duration(gj.WindowHours) * time.Hour
		}
		return gate.ClientApproval{Window: window}, nil

	case "self_attestation":
		return gate.SelfAttestation{}, nil

	case "inspection":
		return gate.Inspection{}, nil

	case "composite":
		if len(gj.Gates) == 0 {
			return nil, fmt.Errorf("composite gate requires at least one child gate")
		}
		children := make([]gate.Gate, 0, len(gj.Gates))
		for _, child := range gj.Gates {
			g, err := f.FromJSON(child)
			if err != nil {
				return nil, err
			}
			children = append(children, g)
		}
		return gate.Composite{Gates: children}, nil

	default:
		return nil, fmt.Errorf("unknown gate type %q", gj.Type)
	}
}
