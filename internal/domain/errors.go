package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAdapterNotRegistered  = errors.New("adapter not registered")
	ErrCapabilityUnsupported = errors.New("capability unsupported")
	ErrCredentialsMissing    = errors.New("credentials missing")
	ErrSignatureInvalid      = errors.New("invalid signature")
	ErrMalformedPayload      = errors.New("invalid json")
	ErrUnsupportedPayload    = errors.New("unsupported payload type")
	ErrUnknownRoute          = errors.New("unknown provider/family")
	ErrAccountNotFound       = errors.New("account not found")
	ErrMissingFields         = errors.New("missing required fields")
)

// CapabilityUnsupportedError names which provider lacks which capability.
type CapabilityUnsupportedError struct {
	Provider   string
	Capability Capability
}

func (e *CapabilityUnsupportedError) Error() string {
	return fmt.Sprintf("provider %q does not support %s", e.Provider, e.Capability)
}

func (e *CapabilityUnsupportedError) Is(target error) bool {
	return target == ErrCapabilityUnsupported
}
