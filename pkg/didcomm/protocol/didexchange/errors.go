/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package didexchange

import (
	"errors"

	"github.com/google/uuid"

	"github.com/emergentid/didx/pkg/didcomm/protocol/decorator"
)

// Problem report reason codes. This set is closed by the protocol.
const (
	ReasonInvitationNotAccepted = "invitation_not_accepted"
	ReasonRequestNotAccepted    = "request_not_accepted"
	ReasonResponseNotAccepted   = "response_not_accepted"
	ReasonCompleteNotAccepted   = "complete_not_accepted"
)

// Protocol errors. Each failure is terminal for the message being processed;
// no record state is persisted once one of these is returned.
var (
	// ErrInvalidInvitation rejects a malformed invitation.
	ErrInvalidInvitation = errors.New("invalid invitation")
	// ErrInvalidReport rejects a malformed problem report.
	ErrInvalidReport = errors.New("invalid problem report")
	// ErrInvalidState rejects an operation attempted outside its required state.
	ErrInvalidState = errors.New("invalid connection state")
	// ErrNoCorrespondingRequest means a response or complete could not be
	// correlated to an outstanding request.
	ErrNoCorrespondingRequest = errors.New("no corresponding connection request found")
	// ErrNoInvitationFound means a request's recipient key matched no invitation.
	ErrNoInvitationFound = errors.New("no invitation found for request")
	// ErrDIDMismatch means a signed attachment's DID differs from the
	// enclosing message's claimed DID.
	ErrDIDMismatch = errors.New("signed DID does not match claimed DID")
	// ErrSignatureInvalid means an attachment signature failed verification.
	ErrSignatureInvalid = errors.New("attachment signature verification failed")
	// ErrUnsignedAttachment means a signature was required but absent.
	ErrUnsignedAttachment = errors.New("attachment is unsigned")
	// ErrMissingAttachment means a required attachment was absent.
	ErrMissingAttachment = errors.New("missing required attachment")
	// ErrNotEnabled gates public invitations and unsolicited public requests.
	ErrNotEnabled = errors.New("not enabled by configuration")
	// ErrNotPublic means the addressed local DID is not posted as public.
	ErrNotPublic = errors.New("DID is not public")
	// ErrDuplicateConnection rejects a self-connection or an existing DID pair.
	ErrDuplicateConnection = errors.New("connection already exists")
	// ErrUnrecognizedReport rejects a problem report with an unknown code.
	ErrUnrecognizedReport = errors.New("unrecognized problem report code")
)

// reportableError carries the wire problem-report code alongside an internal
// error. The code is only consulted at the boundary where a report is emitted.
type reportableError struct {
	err  error
	code string
}

func (e *reportableError) Error() string { return e.err.Error() }

func (e *reportableError) Unwrap() error { return e.err }

func reportable(err error, code string) error {
	return &reportableError{err: err, code: code}
}

// ReportCode returns the problem-report reason code carried by err, if any.
func ReportCode(err error) (string, bool) {
	re := &reportableError{}
	if errors.As(err, &re) {
		return re.code, true
	}

	return "", false
}

// ProblemReportFromError builds the outbound problem report for an error
// that carries a reason code, threaded to thid. It returns nil for errors
// without one; those surface to the operator instead.
func ProblemReportFromError(err error, thid string) *ProblemReport {
	code, ok := ReportCode(err)
	if !ok {
		return nil
	}

	return &ProblemReport{
		Type:        ProblemReportMsgType,
		ID:          uuid.New().String(),
		Description: &ReportDescription{Code: code, En: err.Error()},
		Thread:      &decorator.Thread{ID: thid},
	}
}

func isRecognizedReason(code string) bool {
	switch code {
	case ReasonInvitationNotAccepted, ReasonRequestNotAccepted,
		ReasonResponseNotAccepted, ReasonCompleteNotAccepted:
		return true
	}

	return false
}
