// Package data defines the structured identifiers of the domain model —
// names, domain/account/asset/role/trigger/peer ids — and their canonical
// ordering. Every collection keyed by one of these types iterates in this
// canonical order so that honest nodes produce byte-identical sequences.
package data

import (
	"fmt"
	"strings"
)

// MaxNameLen bounds a single identifier segment; wire-level strings all
// carry hard length caps.
const MaxNameLen = 128

// Name is a validated, non-empty identifier segment. It never contains the
// '@' or '#' separators used to join segments into compound ids.
type Name string

// NewName validates and constructs a Name.
func NewName(s string) (Name, error) {
	if s == "" {
		return "", fmt.Errorf("data: name must not be empty")
	}
	if len(s) > MaxNameLen {
		return "", fmt.Errorf("data: name exceeds %d bytes", MaxNameLen)
	}
	if strings.ContainsAny(s, "@#") {
		return "", fmt.Errorf("data: name must not contain '@' or '#'")
	}
	return Name(s), nil
}

// Less orders names lexicographically by byte value, defining canonical
// iteration order for any collection keyed by Name.
func (n Name) Less(other Name) bool { return string(n) < string(other) }

// Compare returns -1, 0, or 1 per strings.Compare semantics.
func (n Name) Compare(other Name) int { return strings.Compare(string(n), string(other)) }
