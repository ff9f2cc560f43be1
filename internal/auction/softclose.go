package auction

import "time"

// MaybeExtend applies the soft-close rule. When the bid lands within buffer
// of endAt, the auction is pushed to bidAt + buffer. The result is never
// earlier than endAt. There is no cap on repeated extensions.
func MaybeExtend(endAt, bidAt time.Time, buffer time.Duration) (time.Time, bool) {
	if buffer <= 0 {
		return endAt, false
	}
	if endAt.Sub(bidAt) > buffer {
		return endAt, false
	}
	next := bidAt.Add(buffer)
	if !next.After(endAt) {
		return endAt, false
	}
	return next, true
}
