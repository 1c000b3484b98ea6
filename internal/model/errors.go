package model

import "fmt"

// UnknownModelError is returned when no parser is registered for a model
// id.
type UnknownModelError struct {
	ID string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("no model parser registered for %q", e.ID)
}

// MissingCredentialError signals that a required API key is not present in
// the environment or options.
type MissingCredentialError struct {
	EnvVar string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("missing credential: set %s or pass an api token", e.EnvVar)
}

// UnsupportedInputError signals prompt input a parser cannot handle, e.g.
// an attachment without a mime type.
type UnsupportedInputError struct {
	Reason string
}

func (e *UnsupportedInputError) Error() string {
	return "unsupported input: " + e.Reason
}

// RemoteCallError wraps a provider-side failure, keeping the provider
// payload when available.
type RemoteCallError struct {
	Provider string
	Err      error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Provider, e.Err)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

// DecodingError signals a malformed provider response.
type DecodingError struct {
	Provider string
	Err      error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("malformed %s response: %v", e.Provider, e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }
