package compiler

import (
	"fmt"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Compile error codes (E100-E199).
const (
	ErrCodeParse            = "E100" // definition could not be parsed
	ErrCodeMissingName      = "E101" // task or flow without a name
	ErrCodeDuplicateName    = "E102" // name defined twice
	ErrCodeUnknownNode      = "E103" // edge or fallback references an undefined node
	ErrCodeNoStartEdge      = "E104" // flow has no edge without sources
	ErrCodeEmptyDestination = "E105" // edge without destinations
	ErrCodeBadCondition     = "E106" // condition tree is malformed or unknown
	ErrCodeBadForeach       = "E107" // foreach function is unknown
	ErrCodeBadDuration      = "E108" // throttle is not a duration
	ErrCodeBadSelector      = "E109" // propagation or eager-failure selector is malformed
	ErrCodeBadFallback      = "E110" // fallback is neither a node list nor true
	ErrCodeBadStrategy      = "E111" // retry strategy parameters are not integers
)

// CompileError represents a definition error with an optional source
// position (set for CUE sources).
type CompileError struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: [%s] %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &CompileError{Code: ErrCodeParse, Field: "cue", Message: err.Error()}
	}

	first := errs[0]
	ce := &CompileError{Code: ErrCodeParse, Field: "cue", Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}

func errorf(code, field, format string, args ...any) *CompileError {
	return &CompileError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}
