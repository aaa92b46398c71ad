package identity

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned for identifier schemes the directory cannot
// resolve (did:web and anything that is not did:plc).
var ErrUnsupported = errors.New("unsupported identifier scheme")

// Tier names where a resolution was answered or where it failed.
type Tier string

const (
	TierMemory Tier = "memory"
	TierStore  Tier = "store"
	TierRemote Tier = "remote"
)

// LookupError wraps a failed resolution. Nothing is cached when one is
// returned, so the next call retries the full chain.
type LookupError struct {
	DID  string
	Tier Tier
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("resolve %s (%s): %v", e.DID, e.Tier, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}
