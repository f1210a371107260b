package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed random id such as "sale_3f0c...". uuid.New
// panics only when the system randomness source fails.
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

