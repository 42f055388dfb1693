// Package errors provides structured domain errors with stable machine codes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Auth errors
	CodeAuthInvalidCredentials Code = "AUTH_INVALID_CREDENTIALS"
	CodeAuthTokenInvalid       Code = "AUTH_TOKEN_INVALID"
	CodeAuthEmailTaken         Code = "AUTH_EMAIL_TAKEN"

	// User errors
	CodeUserEmptyUsername   Code = "USER_EMPTY_USERNAME"
	CodeUserInvalidUsername Code = "USER_INVALID_USERNAME"
	CodeUserInvalidColor    Code = "USER_INVALID_COLOR"

	// Room errors
	CodeRoomNameEmpty     Code = "ROOM_NAME_EMPTY"
	CodeRoomOwnerRequired Code = "ROOM_OWNER_REQUIRED"

	// Invite grant errors
	CodeInviteGrantInvalid  Code = "INVITE_GRANT_INVALID"
	CodeInviteGrantExpired  Code = "INVITE_GRANT_EXPIRED"
	CodeInviteGrantMismatch Code = "INVITE_GRANT_MISMATCH"
	CodeInviteGrantUsed     Code = "INVITE_GRANT_USED"

	// Storage errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
)

// HTTPStatus maps an error code onto the HTTP status used by service surfaces.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeAuthInvalidCredentials, CodeAuthTokenInvalid:
		return http.StatusUnauthorized
	case CodeAuthEmailTaken, CodeAlreadyExists, CodeInviteGrantUsed:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInviteGrantInvalid, CodeInviteGrantExpired, CodeInviteGrantMismatch:
		return http.StatusForbidden
	case CodeUserEmptyUsername, CodeUserInvalidUsername, CodeUserInvalidColor,
		CodeRoomNameEmpty, CodeRoomOwnerRequired:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
