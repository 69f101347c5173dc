package noise

import (
	"fmt"

	"fingerprint-shield/internal/prng"
)

// HardwareError is a simulated transient device failure. Name mirrors the
// DOMException name the real API would raise.
type HardwareError struct {
	Name    string
	Message string
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// MaybeFail returns a HardwareError with probability p. It always consumes
// exactly one draw so callers keep a stable stream position.
func MaybeFail(g prng.Generator, p float64, name, message string) error {
	if g.Float64() < p {
		return &HardwareError{Name: name, Message: message}
	}
	return nil
}
