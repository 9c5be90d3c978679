package bot

import "errors"

// Rejections are replied to the chat and never escalate past the request.
var (
	ErrUsage         = errors.New("bot: usage")
	ErrForbidden     = errors.New("bot: forbidden")
	ErrNotRegistered = errors.New("bot: not registered")
)

// isRejection reports whether err is an expected user-facing outcome rather
// than a failure of the bot itself.
func isRejection(err error) bool {
	return errors.Is(err, ErrUsage) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotRegistered)
}
