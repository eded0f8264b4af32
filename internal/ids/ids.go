package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// IsWellFormed reports whether id looks like an identifier either store ever
// minted: a ULID, a UUID, or a document record id in table:key form. Tenant
// ids read back from legacy profile documents must pass this check before
// they are trusted.
func IsWellFormed(id string) bool {
	if id == "" {
		return false
	}
	if _, err := ulid.ParseStrict(id); err == nil {
		return true
	}
	if _, err := uuid.Parse(id); err == nil {
		return true
	}
	return isRecordID(id)
}

func isRecordID(id string) bool {
	sep := -1
	for i, r := range id {
		if r == ':' {
			if sep >= 0 {
				return false
			}
			sep = i
			continue
		}
		if !isRecordRune(r) {
			return false
		}
	}
	return sep > 0 && sep < len(id)-1
}

func isRecordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}
