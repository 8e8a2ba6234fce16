package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns prefix_ULID. ULIDs sort by creation time, which keeps job ids
// and request ids ordered in logs.
func NewID(prefix string) string {
	t := time.Now().UTC()
	id := ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
