package codestep

import (
	"fmt"
	"path/filepath"
	"strings"
)

// fileEnvelopeError is returned when a code step references a file
// path outside the run's upload envelope (or outside the step's file
// allowlist, if one was configured).
type fileEnvelopeError struct {
	path string
}

func (e *fileEnvelopeError) Error() string {
	return fmt.Sprintf("codestep: file path %q is outside the permitted upload envelope", e.path)
}

// FileEnvelope confines setInputFiles calls to <uploadRoot>/<testCaseId>,
// and further to an explicit allowlist when one is configured for the step.
type FileEnvelope struct {
	Root      string // <uploadRoot>/<testCaseId>
	Allowlist []string
}

func (e FileEnvelope) validate(path string) (string, error) {
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) {
		return "", &fileEnvelopeError{path: path}
	}
	full := filepath.Join(e.Root, clean)
	rel, err := filepath.Rel(e.Root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &fileEnvelopeError{path: path}
	}

	if len(e.Allowlist) == 0 {
		return full, nil
	}
	for _, allowed := range e.Allowlist {
		if allowed == clean {
			return full, nil
		}
	}
	return "", &fileEnvelopeError{path: path}
}
