package engine

import (
	"errors"
	"fmt"
)

// ErrVersionNotSupported is returned by Push for any push protocol version
// other than ir.PushVersion. No mutation is touched.
var ErrVersionNotSupported = errors.New("push version not supported")

// MutationError is a failed attempt to apply one mutation.
//
// The transaction that produced it rolled back, so no row changed. Replays
// of already-applied mutations are not errors.
type MutationError struct {
	// Code identifies the error category.
	Code MutationErrorCode

	// Message is a human-readable description.
	Message string

	ClientGroupID string
	ClientID      string
	MutationID    int64

	// Err is the handler's error for ErrCodeHandler.
	Err error
}

// MutationErrorCode categorizes mutation errors.
type MutationErrorCode string

const (
	// ErrCodeUnauthorized indicates the actor does not own the client group.
	ErrCodeUnauthorized MutationErrorCode = "UNAUTHORIZED"

	// ErrCodeIntegrity indicates the client belongs to another client group.
	ErrCodeIntegrity MutationErrorCode = "INTEGRITY"

	// ErrCodeSequenceGap indicates the mutation id is ahead of the next expected id.
	ErrCodeSequenceGap MutationErrorCode = "SEQUENCE_GAP"

	// ErrCodeHandler indicates the dispatched business logic failed.
	ErrCodeHandler MutationErrorCode = "HANDLER"
)

// Error implements the error interface.
func (e *MutationError) Error() string {
	msg := fmt.Sprintf("%s: %s (client_group=%s, client=%s, mutation=%d)",
		e.Code, e.Message, e.ClientGroupID, e.ClientID, e.MutationID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the handler error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code MutationErrorCode) bool {
	var me *MutationError
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}

// IsAuthorizationError reports whether err is an ownership violation.
// Uses errors.As to handle wrapped errors.
func IsAuthorizationError(err error) bool { return hasCode(err, ErrCodeUnauthorized) }

// IsIntegrityError reports whether err is a client/group membership violation.
func IsIntegrityError(err error) bool { return hasCode(err, ErrCodeIntegrity) }

// IsSequenceGapError reports whether err is a mutation from the future.
func IsSequenceGapError(err error) bool { return hasCode(err, ErrCodeSequenceGap) }

// IsHandlerError reports whether err came from business logic.
func IsHandlerError(err error) bool { return hasCode(err, ErrCodeHandler) }

// CodeOf returns the MutationErrorCode in err's chain, or "" if there is none.
func CodeOf(err error) MutationErrorCode {
	var me *MutationError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// NewAuthorizationError creates a MutationError for a group owned by someone else.
func NewAuthorizationError(actorID, ownerID, clientGroupID, clientID string, mutationID int64) *MutationError {
	return &MutationError{
		Code:          ErrCodeUnauthorized,
		Message:       fmt.Sprintf("user %s does not own client group (owner %s)", actorID, ownerID),
		ClientGroupID: clientGroupID,
		ClientID:      clientID,
		MutationID:    mutationID,
	}
}

// NewIntegrityError creates a MutationError for a client registered in another group.
func NewIntegrityError(actualGroupID, clientGroupID, clientID string, mutationID int64) *MutationError {
	return &MutationError{
		Code:          ErrCodeIntegrity,
		Message:       fmt.Sprintf("client belongs to client group %s", actualGroupID),
		ClientGroupID: clientGroupID,
		ClientID:      clientID,
		MutationID:    mutationID,
	}
}

// NewSequenceGapError creates a MutationError for a mutation from the future.
func NewSequenceGapError(expected int64, clientGroupID, clientID string, mutationID int64) *MutationError {
	return &MutationError{
		Code:          ErrCodeSequenceGap,
		Message:       fmt.Sprintf("mutation is from the future (expected %d)", expected),
		ClientGroupID: clientGroupID,
		ClientID:      clientID,
		MutationID:    mutationID,
	}
}

// NewHandlerError wraps a business-logic failure.
func NewHandlerError(name, clientGroupID, clientID string, mutationID int64, err error) *MutationError {
	return &MutationError{
		Code:          ErrCodeHandler,
		Message:       fmt.Sprintf("mutation %s failed", name),
		ClientGroupID: clientGroupID,
		ClientID:      clientID,
		MutationID:    mutationID,
		Err:           err,
	}
}
