package store

import "fmt"

// Status is the closed set of run states recorded in file_logs.
//
// The pipeline historically used free-form strings ("Loading", "LDMR", "LR")
// with inconsistent meaning between stages. This enum is the canonical
// resolution: every stage uses RUNNING as its transient lock state, ER/ES
// mark an extract ready for staging, LS marks a completed staging load, LWS
// marks a completed warehouse merge, EF marks a failed run.
//
// LR survives only as a read-side alias: control rows written by older
// tooling may still carry it, and the guard treats it exactly like RUNNING.
// New code never writes LR.
type Status string

const (
	StatusRunning          Status = "RUNNING"
	StatusExtractReady     Status = "ER"
	StatusExtractSuccess   Status = "ES"
	StatusLoadRunning      Status = "LR"
	StatusLoadSuccess      Status = "LS"
	StatusWarehouseSuccess Status = "LWS"
	StatusExtractFailed    Status = "EF"
)

// Valid reports whether s is a member of the canonical status set.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusExtractReady, StatusExtractSuccess,
		StatusLoadRunning, StatusLoadSuccess, StatusWarehouseSuccess,
		StatusExtractFailed:
		return true
	}
	return false
}

// Terminal reports whether a run in this status can never advance again.
// LWS is the success terminal, EF the failure terminal.
func (s Status) Terminal() bool {
	return s == StatusWarehouseSuccess || s == StatusExtractFailed
}

// InFlight reports whether a stage currently holds the run. A stuck in-flight
// row blocks all future runs for its (id_config, time) key until manually
// cleared; see the recovery notes in DESIGN.md.
func (s Status) InFlight() bool {
	return s == StatusRunning || s == StatusLoadRunning
}

// ReadyForStaging reports whether the stage-load guard accepts this status.
// ER is written by out-of-band file registration, ES by the extract stage;
// both mean "an extract file exists and has not been staged".
func (s Status) ReadyForStaging() bool {
	return s == StatusExtractReady || s == StatusExtractSuccess
}

// transitions is the explicit stage-transition table. A missing entry means
// the transition is forbidden.
var transitions = map[Status][]Status{
	StatusExtractReady:   {StatusRunning},
	StatusExtractSuccess: {StatusRunning},
	StatusLoadSuccess:    {StatusRunning},
	StatusLoadRunning:    {StatusLoadSuccess, StatusWarehouseSuccess, StatusExtractFailed},
	StatusRunning: {
		StatusExtractSuccess,
		StatusLoadSuccess,
		StatusWarehouseSuccess,
		StatusExtractFailed,
	},
}

// CanTransition reports whether from -> to is a legal stage transition.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a descriptive error for illegal transitions so
// callers can surface the exact edge that was rejected.
func CheckTransition(from, to Status) error {
	if !from.Valid() {
		return fmt.Errorf("store: unknown status %q", from)
	}
	if !to.Valid() {
		return fmt.Errorf("store: unknown status %q", to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("store: illegal transition %s -> %s", from, to)
	}
	return nil
}
