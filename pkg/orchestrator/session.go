package orchestrator

import (
	"fmt"
	"time"

	"github.com/kubevirt-tools/k10-vm-restore/pkg/logutil"
	"github.com/kubevirt-tools/k10-vm-restore/pkg/names"
	"github.com/kubevirt-tools/k10-vm-restore/pkg/restorepoint"
)

// Phase identifies where the restore state machine currently is.
type Phase string

const (
	PhaseInit              Phase = "Init"
	PhaseContextResolved   Phase = "ContextResolved"
	PhaseValidated         Phase = "Validated"
	PhaseNamesComputed     Phase = "NamesComputed"
	PhaseConflictCheck     Phase = "ConflictCheck"
	PhaseTransformsReady   Phase = "TransformsReady"
	PhaseTransformsApplied Phase = "TransformsApplied"
	PhaseActionCreated     Phase = "ActionCreated"
	PhaseMonitoring        Phase = "Monitoring"
	PhasePostActions       Phase = "PostActions"
	PhaseVerified          Phase = "Verified"
	PhaseSucceeded         Phase = "Succeeded"
	PhaseFailed            Phase = "Failed"

	// Side branches.
	PhaseValidateOnlyExit Phase = "ValidateOnlyExit"
	PhaseDryRunExit       Phase = "DryRunExit"
)

// Session is the working state of one restore invocation. It is owned by
// the Orchestrator, updated only at transition points, and never shared
// between concurrent invocations.
type Session struct {
	Phase Phase

	Model           restorepoint.Model
	SourceVMName    string
	SourceNamespace string
	TargetNamespace string
	Names           names.Resolved

	// CloneResolved is set when a conflict forced a clone rename.
	CloneResolved bool
	// SkippedToVerify is set when an existing VM short-circuited the run.
	SkippedToVerify bool

	// LastState is the most recently observed RestoreAction state.
	LastState string

	StartedAt time.Time
	Warnings  []string
}

func newSession() *Session {
	return &Session{Phase: PhaseInit, StartedAt: time.Now()}
}

func (s *Session) advance(phase Phase) {
	s.Phase = phase
}

func (s *Session) warn(format string, args ...interface{}) {
	logutil.Warnf("⚠️  "+format, args...)
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}
