package xid

import (
	"fmt"

	"github.com/google/uuid"
)

func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// DedupKey identifies one enqueue attempt for a reference.
func DedupKey(reference string, unixMillis int64) string {
	return fmt.Sprintf("%s-%d", reference, unixMillis)
}
