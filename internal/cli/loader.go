package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/selinon/selinon-sub000/internal/compiler"
	"github.com/selinon/selinon-sub000/internal/flow"
)

// Error codes for definition loading failures that are not compile errors.
const (
	ErrCodeGeneric  = "E001"
	ErrCodeNotFound = "E002"
)

// LoadError represents a failure to read or compile a definition file.
type LoadError struct {
	Code    string
	Message string
	// Issues lists every compile error, when compilation was reached.
	Issues []Issue
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Issue is one definition problem in output form.
type Issue struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// loadDefinition reads and compiles a YAML or CUE definition.
func loadDefinition(path string) (*flow.System, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &LoadError{
			Code:    ErrCodeNotFound,
			Message: fmt.Sprintf("definition not found: %s", path),
		}
	}

	sys, err := compiler.New(nil).CompileFile(path)
	if err != nil {
		issues := toIssues(err)
		if len(issues) == 0 {
			return nil, &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
		}
		return nil, &LoadError{
			Code:    issues[0].Code,
			Message: fmt.Sprintf("%d error(s) in %s", len(issues), path),
			Issues:  issues,
		}
	}
	return sys, nil
}

// toIssues flattens compiler errors. Other errors yield nil.
func toIssues(err error) []Issue {
	var list compiler.ErrorList
	if errors.As(err, &list) {
		out := make([]Issue, len(list))
		for i, ce := range list {
			out[i] = issueOf(ce)
		}
		return out
	}
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		return []Issue{issueOf(ce)}
	}
	return nil
}

func issueOf(ce *compiler.CompileError) Issue {
	is := Issue{Code: ce.Code, Field: ce.Field, Message: ce.Message}
	if ce.Pos.IsValid() {
		is.Line = ce.Pos.Line()
	}
	return is
}
