package botregistry

import "errors"

var (
	ErrTooManyClients  = errors.New("botregistry: client cap reached")
	ErrUnknownClient   = errors.New("botregistry: no client with that id")
	ErrDuplicateBotID  = errors.New("botregistry: duplicate botId in attach batch")
	ErrInvalidOfficial = errors.New("botregistry: officialToken does not match server secret")
	ErrBotNotFound     = errors.New("botregistry: no bot with that composite id")
)

// MaxClients is the cap on simultaneously attached bot clients (spec.md §5).
const MaxClients = 10
