// Package ops declares the closed set of task operations the agent can
// invoke, their argument schemas, and their handlers. Proposals coming
// back from the reasoner are untrusted and are re-validated against these
// schemas before execution.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/pmorel/tasktalk/internal/taskstore"
)

// ErrKind classifies user-visible operation failures.
type ErrKind string

const (
	ErrKindNone               ErrKind = ""
	ErrKindInvalidArguments   ErrKind = "invalid_arguments"
	ErrKindNotFound           ErrKind = "not_found"
	ErrKindStoreUnavailable   ErrKind = "store_unavailable"
	ErrKindAmbiguous          ErrKind = "ambiguous"
	ErrKindAdapterUnavailable ErrKind = "adapter_unavailable"
	ErrKindInvalidReference   ErrKind = "invalid_reference"
	ErrKindUnauthorized       ErrKind = "unauthorized"
)

// ParamSpec describes a single operation parameter.
type ParamSpec struct {
	Type        string   `json:"type"` // "string", "number", "integer", "boolean", "array", "object"
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// Handler executes one validated operation on behalf of userID.
// A non-nil error means a retryable or fatal store failure; reportable
// failures (NotFound, InvalidArguments) are returned inside the Result.
type Handler func(ctx context.Context, userID string, args map[string]any, store taskstore.Adapter) (*Result, error)

// OperationSpec is one entry in the registry.
type OperationSpec struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]ParamSpec `json:"parameters"`
	// WidgetKind names the renderable representation of a successful
	// result, or "" when the result has none.
	WidgetKind string  `json:"widget_kind,omitempty"`
	Handler    Handler `json:"-"`
}

// Result is the outcome of one operation invocation.
type Result struct {
	Operation string            `json:"operation"`
	OK        bool              `json:"ok"`
	ErrKind   ErrKind           `json:"err_kind,omitempty"`
	ErrMsg    string            `json:"err_msg,omitempty"`
	Tasks     []*taskstore.Task `json:"tasks,omitempty"`
}

// TaskIDs returns the ids of the tasks affected by the result.
func (r *Result) TaskIDs() []int64 {
	ids := make([]int64, 0, len(r.Tasks))
	for _, t := range r.Tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

// FailureResult builds a reportable failure outcome for an operation.
func FailureResult(op string, kind ErrKind, msg string) *Result {
	return &Result{Operation: op, OK: false, ErrKind: kind, ErrMsg: msg}
}

// ArgError reports a schema mismatch in proposed arguments.
type ArgError struct {
	Op     string
	Param  string
	Reason string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("%s: argument %q: %s", e.Op, e.Param, e.Reason)
}

// ValidateArgs checks raw JSON arguments against the spec's parameter
// schema and returns the decoded map. Unknown parameters are rejected
// so a proposer cannot smuggle fields past the schema.
func ValidateArgs(spec *OperationSpec, raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, &ArgError{Op: spec.Name, Param: "", Reason: "not a JSON object"}
		}
	}

	for name := range args {
		if _, ok := spec.Parameters[name]; !ok {
			return nil, &ArgError{Op: spec.Name, Param: name, Reason: "unknown parameter"}
		}
	}

	for name, p := range spec.Parameters {
		v, present := args[name]
		if !present || v == nil {
			if p.Required {
				return nil, &ArgError{Op: spec.Name, Param: name, Reason: "required"}
			}
			continue
		}
		if err := checkType(spec.Name, name, p, v); err != nil {
			return nil, err
		}
	}

	return args, nil
}

func checkType(op, name string, p ParamSpec, v any) error {
	switch p.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return &ArgError{Op: op, Param: name, Reason: "expected string"}
		}
		if len(p.Enum) > 0 && !containsStr(p.Enum, s) {
			return &ArgError{Op: op, Param: name, Reason: fmt.Sprintf("must be one of %v", p.Enum)}
		}
	case "number":
		if _, ok := v.(float64); !ok {
			return &ArgError{Op: op, Param: name, Reason: "expected number"}
		}
	case "integer":
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) {
			return &ArgError{Op: op, Param: name, Reason: "expected integer"}
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return &ArgError{Op: op, Param: name, Reason: "expected boolean"}
		}
	case "array":
		if _, ok := v.([]any); !ok {
			return &ArgError{Op: op, Param: name, Reason: "expected array"}
		}
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return &ArgError{Op: op, Param: name, Reason: "expected object"}
		}
	}
	return nil
}

// StringArg returns a validated string argument, or "" when absent.
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// IntArg returns a validated integer argument and whether it was present.
func IntArg(args map[string]any, name string) (int64, bool) {
	f, ok := args[name].(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// BoolArg returns a validated boolean argument and whether it was present.
func BoolArg(args map[string]any, name string) (bool, bool) {
	b, ok := args[name].(bool)
	return b, ok
}

func containsStr(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
