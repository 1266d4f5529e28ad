// Package errdefs defines the error taxonomy shared by every stage of the
// engine: graph construction, export, regeneration and execution.
//
// Errors raised during construction or export are fatal to the whole run.
// Errors raised during execution are local to one build edge and are reported
// through the executor's own failure output.
package errdefs

import (
	"errors"
	"fmt"
)

// Sentinels usable with errors.Is against a *GraphIntegrityError.
var (
	ErrDuplicateID    = errors.New("duplicate id")
	ErrCycle          = errors.New("dependency cycle")
	ErrOutputConflict = errors.New("output claimed by more than one build set")
	ErrFrozenGraph    = errors.New("graph is frozen")
	ErrTemplate       = errors.New("unbound template placeholder")
	ErrNameCollision  = errors.New("sanitized name collision")
)

// ConfigurationError reports an invalid or missing value supplied by a
// collaborator. It is raised before the graph is mutated.
type ConfigurationError struct {
	Subject string
	Reason  string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error: %s: %s", e.Subject, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configf builds a ConfigurationError for subject.
func Configf(subject, format string, args ...any) error {
	return &ConfigurationError{Subject: subject, Reason: fmt.Sprintf(format, args...)}
}

// IntegrityKind classifies a GraphIntegrityError.
type IntegrityKind int

const (
	DuplicateID IntegrityKind = iota
	Cycle
	OutputConflict
	Frozen
	Template
	NameCollision
)

func (k IntegrityKind) String() string {
	switch k {
	case DuplicateID:
		return "duplicate id"
	case Cycle:
		return "cycle"
	case OutputConflict:
		return "output conflict"
	case Frozen:
		return "frozen graph"
	case Template:
		return "template"
	case NameCollision:
		return "name collision"
	default:
		return "unknown"
	}
}

func (k IntegrityKind) sentinel() error {
	switch k {
	case DuplicateID:
		return ErrDuplicateID
	case Cycle:
		return ErrCycle
	case OutputConflict:
		return ErrOutputConflict
	case Frozen:
		return ErrFrozenGraph
	case Template:
		return ErrTemplate
	case NameCollision:
		return ErrNameCollision
	}
	return nil
}

// GraphIntegrityError reports a structural defect in the graph. It is
// detected at creation or export time, never while commands run.
type GraphIntegrityError struct {
	Kind    IntegrityKind
	Subject string
	Message string
	Err     error
}

func (e *GraphIntegrityError) Error() string {
	msg := fmt.Sprintf("graph integrity error (%s): %s", e.Kind, e.Subject)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GraphIntegrityError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *GraphIntegrityError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// Integrityf builds a GraphIntegrityError of the given kind.
func Integrityf(kind IntegrityKind, subject, format string, args ...any) error {
	return &GraphIntegrityError{Kind: kind, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

// DuplicateIDError reports that what (a target, operator, ...) named id exists.
func DuplicateIDError(what, id string) error {
	return &GraphIntegrityError{Kind: DuplicateID, Subject: id, Message: what + " already exists"}
}

// CycleError reports that adding the edge from -> to would close a cycle.
func CycleError(from, to string, path []string) error {
	return &GraphIntegrityError{
		Kind:    Cycle,
		Subject: from + " -> " + to,
		Message: fmt.Sprintf("cycle detected via %v", path),
	}
}

// FrozenGraphError reports a mutation attempted after the freeze point.
func FrozenGraphError(op string) error {
	return &GraphIntegrityError{Kind: Frozen, Subject: op, Message: "graph can not be mutated after export started"}
}

// BackendUnavailableError reports a missing or too old executor binary.
type BackendUnavailableError struct {
	Binary   string
	Found    string
	Required string
	Err      error
}

func (e *BackendUnavailableError) Error() string {
	switch {
	case e.Binary == "":
		return fmt.Sprintf("backend unavailable: no ninja binary found (need >= %s)", e.Required)
	case e.Err != nil:
		return fmt.Sprintf("backend unavailable: %s: %v", e.Binary, e.Err)
	default:
		return fmt.Sprintf("backend unavailable: %s is version %s, need >= %s", e.Binary, e.Found, e.Required)
	}
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// ExportError annotates a failure while lowering one operator.
type ExportError struct {
	Operator string
	Err      error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("error while exporting operator %q: %v", e.Operator, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// StalenessError reports that a dispatched identity hash no longer matches
// the build set held by the server. The caller should re-export and retry.
type StalenessError struct {
	Target   string
	Operator string
	Index    int
	Want     string
	Got      string
}

func (e *StalenessError) Error() string {
	if e.Want == "" {
		return fmt.Sprintf("stale build set %s %s #%d: no longer in the graph, re-export and retry",
			e.Target, e.Operator, e.Index)
	}
	return fmt.Sprintf("stale build set %s %s #%d: hash %s does not match current %s, re-export and retry",
		e.Target, e.Operator, e.Index, e.Got, e.Want)
}

// ExecutionError reports a dispatched command that exited non-zero.
type ExecutionError struct {
	Subject string
	Code    int
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s exited with code %d: %v", e.Subject, e.Code, e.Err)
	}
	return fmt.Sprintf("%s exited with code %d", e.Subject, e.Code)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
