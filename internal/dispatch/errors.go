package dispatch

import (
	"errors"
	"strings"

	"restorebot/internal/credential"
)

var (
	ErrAdmissionDenied       = errors.New("dispatch: admission denied")
	ErrCredentialUnavailable = errors.New("dispatch: no credential available")
	ErrCredentialExpired     = credential.ErrExpired
	ErrExecutionFailed       = errors.New("dispatch: execution failed")
	ErrNotification          = errors.New("dispatch: notification failed")
	ErrWorkerFault           = errors.New("dispatch: worker fault")
	ErrIndexOutOfRange       = errors.New("dispatch: index out of range")
	ErrForbidden             = errors.New("dispatch: forbidden")
	ErrStopped               = errors.New("dispatch: stopped")
	ErrNoRefresher           = errors.New("dispatch: no refresher configured")
)

// DenyReason says which admission check rejected a request.
type DenyReason string

const (
	DenyMaintenance DenyReason = "maintenance"
	DenyQuota       DenyReason = "quota"
	DenyMembership  DenyReason = "membership"
)

// AdmissionError is returned by Submit when a request is not queued.
type AdmissionError struct {
	Reason  DenyReason
	Missing []string // membership: requirement ids the user has not met
}

func (e *AdmissionError) Error() string {
	if len(e.Missing) > 0 {
		return "admission denied: " + string(e.Reason) + " (" + strings.Join(e.Missing, ", ") + ")"
	}
	return "admission denied: " + string(e.Reason)
}

func (e *AdmissionError) Unwrap() error { return ErrAdmissionDenied }

// DenyReasonOf extracts the reason from an admission error.
func DenyReasonOf(err error) (DenyReason, bool) {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae.Reason, true
	}
	return "", false
}
