package protocol

import "errors"

var (
	ErrAlreadyPending       = errors.New("protocol: a request is already pending for this BGS")
	ErrRequestTimeout       = errors.New("protocol: BGS request timed out")
	ErrNoPendingCall        = errors.New("protocol: response with no matching pending request")
	ErrBotClientDisconnected = errors.New("Bot client disconnected")
	ErrSessionEnded         = errors.New("Session ended")
	ErrWrongClient          = errors.New("protocol: BGS does not belong to this socket's client")
)
