package xid

import (
	"strings"

	"github.com/google/uuid"
)

const maxIncomingLen = 128

// New returns a random request id with the given prefix.
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// FromHeader keeps a caller-supplied request id when it is short and
// printable, otherwise mints a new one.
func FromHeader(value string, prefix string) string {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > maxIncomingLen {
		return New(prefix)
	}
	for _, r := range value {
		if r < 0x21 || r > 0x7e {
			return New(prefix)
		}
	}
	return value
}
