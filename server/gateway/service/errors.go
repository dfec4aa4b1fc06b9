package service

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccessDenied       = errors.New("not a member of this chat")
	ErrEmptyBody          = errors.New("text message body is required")
	ErrInvalidKind        = errors.New("message kind must be text, media or system")
	ErrCallAlreadyActive  = errors.New("a call is already active in this chat")
	ErrInvalidCallState   = errors.New("call signal does not match the current call state")
	ErrLoadTimeout        = errors.New("membership load timed out")
	ErrDeliveryTimeout    = errors.New("message persistence timed out")
	ErrDuplicateMessage   = errors.New("duplicate client message id")
)
