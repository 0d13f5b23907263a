package keys

import (
	"time"

	"github.com/google/uuid"
)

// AlgorithmAESGCM is the only algorithm tag currently issued. Kept on every
// record so ciphertext stays self-describing across future algorithm changes.
const AlgorithmAESGCM = "AES-256-GCM"

// Record is a versioned symmetric key. Exactly one record is active at a
// time; inactive records are retained until their expiry horizon so legacy
// ciphertext stays decryptable.
type Record struct {
	ID        uuid.UUID
	Version   int
	Material  []byte `json:"-"`
	Algorithm string
	CreatedAt time.Time
	ExpiresAt *time.Time
	Active    bool
}

// Info is the externally visible shape of a key. It carries metadata only —
// raw key material never leaves the manager through this type.
type Info struct {
	ID        uuid.UUID  `json:"id"`
	Version   int        `json:"version"`
	Algorithm string     `json:"algorithm"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Active    bool       `json:"active"`
}

func (r *Record) info() Info {
	return Info{
		ID:        r.ID,
		Version:   r.Version,
		Algorithm: r.Algorithm,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		Active:    r.Active,
	}
}
