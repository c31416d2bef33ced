package flow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Step is the transaction a flow is currently working on
type Step int

const (
	StepNone Step = iota
	StepApproval
	StepTrade
)

func (s Step) String() string {
	switch s {
	case StepNone:
		return "none"
	case StepApproval:
		return "approval"
	case StepTrade:
		return "trade"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Phase is where the current step stands
type Phase int

const (
	PhaseIdle Phase = iota
	// PhasePrompting waits on the signer for a signature
	PhasePrompting
	// PhasePending waits on the network or the backend
	PhasePending
	PhaseSuccess
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePrompting:
		return "prompting"
	case PhasePending:
		return "pending"
	case PhaseSuccess:
		return "success"
	case PhaseError:
		return "error"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is a snapshot of a flow. Step and Phase form a single tagged value,
// so prompting and pending can never both be true.
type State struct {
	RunID        string
	Step         Step
	Phase        Phase
	ApprovalHash common.Hash
	TradeHash    common.Hash
	ErrorMessage string
}

func (s State) IsPrompting() bool { return s.Phase == PhasePrompting }
func (s State) IsPending() bool   { return s.Phase == PhasePending }
func (s State) IsSuccess() bool   { return s.Phase == PhaseSuccess }
func (s State) IsError() bool     { return s.Phase == PhaseError }

func (s State) HasApproval() bool { return s.ApprovalHash != (common.Hash{}) }
func (s State) HasTrade() bool    { return s.TradeHash != (common.Hash{}) }

// Done reports whether the flow reached its final outcome
func (s State) Done() bool {
	return s.Phase == PhaseError || (s.Step == StepTrade && s.Phase == PhaseSuccess)
}

func (s State) String() string {
	if s.Step == StepNone && s.Phase == PhaseIdle {
		return "idle"
	}
	str := s.Step.String() + "/" + s.Phase.String()
	if s.ErrorMessage != "" {
		str += ": " + s.ErrorMessage
	}
	return str
}
