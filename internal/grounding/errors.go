package grounding

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when no API key is set. Retrying is pointless
// until the deployment is fixed.
var ErrNotConfigured = errors.New("GEMINI_API_KEY is not configured")

// GenerationError wraps a failed call to the model endpoint: transport
// errors, non-2xx responses, and undecodable bodies. Status is zero when no
// HTTP response was received.
type GenerationError struct {
	Status int
	Body   string
	Err    error
}

func (e *GenerationError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("generate digest: gemini returned %d: %s", e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("generate digest: gemini status %d: %v", e.Status, e.Err)
	default:
		return fmt.Sprintf("generate digest: %v", e.Err)
	}
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsGenerationError reports whether err wraps a *GenerationError.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}
