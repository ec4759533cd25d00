package storage

import (
	"errors"
	"time"

	"github.com/kalambet/prefgen/internal/prefs"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DefaultProfile is used when no profile name is given.
const DefaultProfile = "default"

// OverrideRecord is a stored override with its catalog metadata.
type OverrideRecord struct {
	ID        string
	Profile   string
	Override  prefs.Override
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Generation records one write of a generated prefs file.
type Generation struct {
	ID        string
	Target    string
	Profile   string
	Path      string
	Digest    string // hex sha256 of the written bytes
	Bytes     int
	Overrides int
	CreatedAt time.Time
}
