package entity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid entity")
	ErrConflict = errors.New("conflict")
	ErrNotReady = errors.New("not ready")
	ErrStorage  = errors.New("storage error")
	ErrInternal = errors.New("internal error")
)

var (
	ErrProvisioningFailed  = errors.New("provisioning failed")
	ErrVerificationTimeout = errors.New("verification timeout")
	ErrDestroyFailed       = errors.New("destroy failed")
	ErrInterrupted         = errors.New("interrupted")
)

// FailureKind classifies a terminal deployment failure.
type FailureKind string

const (
	FailureProvisioning FailureKind = "provisioning_failed"
	FailureVerification FailureKind = "verification_timeout"
	FailureDestroy      FailureKind = "destroy_failed"
	FailureStorage      FailureKind = "storage_error"
	FailureInterrupted  FailureKind = "interrupted"
)

func (k FailureKind) sentinel() error {
	switch k {
	case FailureProvisioning:
		return ErrProvisioningFailed
	case FailureVerification:
		return ErrVerificationTimeout
	case FailureDestroy:
		return ErrDestroyFailed
	case FailureStorage:
		return ErrStorage
	case FailureInterrupted:
		return ErrInterrupted
	}
	return ErrInternal
}

// DeploymentError is the terminal failure of one deployment pipeline.
type DeploymentError struct {
	Kind    FailureKind
	Phase   string
	Message string
	Tail    []string
}

func (e *DeploymentError) Error() string {
	var b strings.Builder
	if e.Phase != "" {
		fmt.Fprintf(&b, "%s: ", e.Phase)
	}
	b.WriteString(e.Message)
	if len(e.Tail) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(e.Tail, "\n"))
	}
	return b.String()
}

func (e *DeploymentError) Is(target error) bool {
	return target == e.Kind.sentinel()
}
