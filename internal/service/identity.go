package service

import (
	"time"

	"github.com/google/uuid"
)

// IdentityGenerator issues request ids and capture timestamps.
type IdentityGenerator interface {
	NewRequestID() string
	Now() time.Time
}

type uuidIdentity struct{}

// NewIdentityGenerator returns the production generator: random UUIDv4 ids and the wall clock.
func NewIdentityGenerator() IdentityGenerator {
	return uuidIdentity{}
}

func (uuidIdentity) NewRequestID() string { return uuid.NewString() }

func (uuidIdentity) Now() time.Time { return time.Now() }
