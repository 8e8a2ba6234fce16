package providers

import "esphub/internal/domain"

// HasCapability is the single check-before-call helper. A nil adapter has no
// capabilities.
func HasCapability(a *Adapter, c domain.Capability) bool {
	if a == nil {
		return false
	}
	return a.Capabilities().Has(c)
}

// Require returns a *domain.CapabilityUnsupportedError when the capability is
// absent, so callers can map it to a structured 501.
func Require(a *Adapter, c domain.Capability) error {
	if HasCapability(a, c) {
		return nil
	}
	provider := ""
	if a != nil {
		provider = a.Provider
	}
	return &domain.CapabilityUnsupportedError{Provider: provider, Capability: c}
}
