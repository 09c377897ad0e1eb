package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns prefix + "_" + 32 hex chars, e.g. "a_3f2b...".
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
