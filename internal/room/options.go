package room

import "time"

// Clock returns the current wall-clock time.
type Clock func() time.Time

// Options holds the room policy knobs.
// Lengths are counted in characters. RecentReplies is the number of replies
// attached to each history entry.
type Options struct {
	RateLimit        int
	RateWindow       time.Duration
	Cooldown         time.Duration
	EditWindow       time.Duration
	MaxContentLength int
	MaxGifLength     int
	RecentReplies    int
	MailboxSize      int
}

// DefaultOptions returns the production policy.
func DefaultOptions() Options {
	return Options{
		RateLimit:        10,
		RateWindow:       10 * time.Second,
		Cooldown:         30 * time.Second,
		EditWindow:       15 * time.Minute,
		MaxContentLength: 1000,
		MaxGifLength:     500,
		RecentReplies:    3,
		MailboxSize:      1000,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RateLimit <= 0 {
		o.RateLimit = d.RateLimit
	}
	if o.RateWindow <= 0 {
		o.RateWindow = d.RateWindow
	}
	if o.Cooldown <= 0 {
		o.Cooldown = d.Cooldown
	}
	if o.EditWindow <= 0 {
		o.EditWindow = d.EditWindow
	}
	if o.MaxContentLength <= 0 {
		o.MaxContentLength = d.MaxContentLength
	}
	if o.MaxGifLength <= 0 {
		o.MaxGifLength = d.MaxGifLength
	}
	if o.RecentReplies <= 0 {
		o.RecentReplies = d.RecentReplies
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = d.MailboxSize
	}
	return o
}
