// Package domain holds the typed identifiers shared across services. Typed IDs
// prevent cross-type assignment at compile time; parsing enforces validity at
// trust boundaries.
package domain

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"

	dErrors "concord/pkg/domain-errors"
)

// GlobalID is the process-wide subject identifier. It is a fixed-length string:
// a 6-character time prefix (coarse creation ordering) followed by a
// 10-character cryptographically random suffix, both drawn from the Crockford
// base-32 alphabet which excludes the visually ambiguous I, L, O and U.
type GlobalID string

// BatchID names one load unit of fragments.
type BatchID uuid.UUID

// FragmentID identifies one queued unit of domain data.
type FragmentID uuid.UUID

// CenterID is the canonical identifier of a contributing center.
type CenterID int64

// IdentifierType distinguishes local identifier namespaces within a center
// (e.g. "consortium_id", "source_record_id").
type IdentifierType string

const (
	globalIDLen       = 16
	globalIDPrefixLen = 6
	crockford         = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
)

// globalIDEpoch anchors the time prefix so it stays short for the lifetime of
// the platform. 30 bits of seconds cover ~34 years from this point.
var globalIDEpoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// GenerateGlobalID produces a new GlobalID. It is a pure function of the clock
// and crypto/rand: no shared mutable state, no I/O. The 50-bit random suffix
// makes collisions within the same second negligible at ingestion volume.
func GenerateGlobalID() GlobalID {
	buf := make([]byte, globalIDLen)

	secs := uint32(time.Now().UTC().Sub(globalIDEpoch) / time.Second)
	for i := globalIDPrefixLen - 1; i >= 0; i-- {
		buf[i] = crockford[secs&0x1f]
		secs >>= 5
	}

	random := make([]byte, globalIDLen-globalIDPrefixLen)
	if _, err := rand.Read(random); err != nil {
		// crypto/rand never fails on supported platforms; treat it as fatal.
		panic("domain: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range random {
		buf[globalIDPrefixLen+i] = crockford[int(b)&0x1f]
	}

	return GlobalID(buf)
}

// ParseGlobalID validates an externally supplied global identifier.
func ParseGlobalID(raw string) (GlobalID, error) {
	if len(raw) != globalIDLen {
		return "", dErrors.New(dErrors.CodeInvalidInput, "global id must be 16 characters")
	}
	for _, c := range raw {
		if !inCrockford(byte(c)) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "global id contains invalid character")
		}
	}
	return GlobalID(raw), nil
}

func inCrockford(c byte) bool {
	for i := 0; i < len(crockford); i++ {
		if crockford[i] == c {
			return true
		}
	}
	return false
}

func (g GlobalID) String() string { return string(g) }
func (g GlobalID) IsZero() bool   { return g == "" }

// NewBatchID allocates a fresh batch identifier.
func NewBatchID() BatchID { return BatchID(uuid.New()) }

// NewFragmentID allocates a fresh fragment identifier.
func NewFragmentID() FragmentID { return FragmentID(uuid.New()) }

// ParseBatchID validates an externally supplied batch identifier.
func ParseBatchID(raw string) (BatchID, error) {
	u, err := parseUUID(raw)
	if err != nil {
		return BatchID{}, err
	}
	return BatchID(u), nil
}

// ParseFragmentID validates an externally supplied fragment identifier.
func ParseFragmentID(raw string) (FragmentID, error) {
	u, err := parseUUID(raw)
	if err != nil {
		return FragmentID{}, err
	}
	return FragmentID(u), nil
}

func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return u, nil
}

func (b BatchID) String() string    { return uuid.UUID(b).String() }
func (b BatchID) IsNil() bool       { return uuid.UUID(b) == uuid.Nil }
func (f FragmentID) String() string { return uuid.UUID(f).String() }
func (f FragmentID) IsNil() bool    { return uuid.UUID(f) == uuid.Nil }

// Text marshaling keeps uuid-backed IDs rendering as canonical UUID strings
// in JSON payloads and log output.

func (b BatchID) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *BatchID) UnmarshalText(text []byte) error {
	u, err := uuid.ParseBytes(text)
	if err != nil {
		return err
	}
	*b = BatchID(u)
	return nil
}

func (f FragmentID) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *FragmentID) UnmarshalText(text []byte) error {
	u, err := uuid.ParseBytes(text)
	if err != nil {
		return err
	}
	*f = FragmentID(u)
	return nil
}
