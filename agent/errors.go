package agent

import "errors"

// Sentinel errors for the provider registry.
var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrProviderExists   = errors.New("provider already registered")
	ErrEmptyName        = errors.New("provider name is empty")
)
