package bot

import "time"

// Options are the hot-reloadable knobs of the bot.
type Options struct {
	// CompletePendingIntent turns a free-text reply to a group prompt into
	// registration or a group change.
	CompletePendingIntent bool
	// LegacyPromoteReply sends the promote outcome only to the target chat
	// and nothing to the admin.
	LegacyPromoteReply bool

	IntentTTL        time.Duration
	HandlerTimeout   time.Duration
	BroadcastTimeout time.Duration
	// ConflictRetries bounds re-reads after a version conflict.
	ConflictRetries int
}

func DefaultOptions() Options {
	return Options{
		CompletePendingIntent: true,
		IntentTTL:             30 * time.Minute,
		HandlerTimeout:        15 * time.Second,
		BroadcastTimeout:      10 * time.Minute,
		ConflictRetries:       3,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.IntentTTL <= 0 {
		o.IntentTTL = d.IntentTTL
	}
	if o.HandlerTimeout <= 0 {
		o.HandlerTimeout = d.HandlerTimeout
	}
	if o.BroadcastTimeout <= 0 {
		o.BroadcastTimeout = d.BroadcastTimeout
	}
	if o.ConflictRetries <= 0 {
		o.ConflictRetries = d.ConflictRetries
	}
	return o
}
