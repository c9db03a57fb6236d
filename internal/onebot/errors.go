package onebot

import "errors"

var (
	ErrParse         = errors.New("onebot: malformed frame")
	ErrMissingAction = errors.New("onebot: request action required")
	ErrMissingEcho   = errors.New("onebot: request echo required")
)
