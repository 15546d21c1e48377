package suggestion

import (
	"errors"
	"fmt"
	"strings"

	"rulegate/internal/rules"
)

var (
	ErrNotFound = errors.New("suggestion: not found")

	// ErrAlreadyDecided covers both re-transition of a terminal
	// suggestion and losing a concurrent decision race.
	ErrAlreadyDecided = errors.New("suggestion: already decided")

	ErrSelfApproval  = errors.New("suggestion: approver must differ from author")
	ErrNotesTooShort = errors.New("suggestion: decision notes too short")
	ErrAckRequired   = errors.New("suggestion: impact acknowledgement required")
)

// Stage names the pipeline step that halted a submission.
type Stage string

const (
	StageInstructionGate Stage = "instruction_gate"
	StageStructure       Stage = "structure"
	StageCatalog         Stage = "catalog"
	StageRuleGate        Stage = "rule_gate"
)

// BlockedError carries the blocking violations when a submission halts
// before persistence. Warnings never produce one.
type BlockedError struct {
	Stage      Stage
	Violations []rules.Violation
}

func (e *BlockedError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.String())
	}
	return fmt.Sprintf("suggestion: blocked at %s: %s", e.Stage, strings.Join(msgs, "; "))
}

func newBlockedError(stage Stage, violations []rules.Violation) *BlockedError {
	errs, _ := rules.SplitBySeverity(violations)
	return &BlockedError{Stage: stage, Violations: errs}
}
