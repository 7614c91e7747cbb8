package scope

import (
	"fmt"
	"strings"
)

// Scope defines the visibility of a memory record.
type Scope string

const (
	// Private records are visible only to the owner that stored them
	Private Scope = "private"

	// Common records are visible to every owner
	Common Scope = "common"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == Private || s == Common
}

func (s Scope) String() string {
	return string(s)
}

// Parse converts user input into a Scope. Matching is case-insensitive.
func Parse(s string) (Scope, error) {
	sc := Scope(strings.ToLower(strings.TrimSpace(s)))
	if !sc.Valid() {
		return "", fmt.Errorf("unknown scope %q", s)
	}
	return sc, nil
}

// Visible reports whether a record with the given scope and owner can be seen by requester.
// Private records require a non-empty matching owner.
func Visible(recordScope Scope, recordOwner, requester string) bool {
	switch recordScope {
	case Common:
		return true
	case Private:
		return requester != "" && recordOwner == requester
	default:
		return false
	}
}
