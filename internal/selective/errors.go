package selective

import (
	"errors"
	"fmt"
	"strings"
)

// NoPathError reports targets that no path from a starting edge reaches.
// It is a configuration error; retrying cannot change the outcome.
type NoPathError struct {
	Flow    string
	Targets []string
}

func (e *NoPathError) Error() string {
	return fmt.Sprintf("no path to %s in flow %s", strings.Join(e.Targets, ", "), e.Flow)
}

// IsNoPathError reports whether err is a NoPathError.
func IsNoPathError(err error) bool {
	var np *NoPathError
	return errors.As(err, &np)
}
