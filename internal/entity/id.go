// ABOUTME: Entity identifiers for users and groups
// ABOUTME: IDs are opaque handles; kind decides direct vs group conversation routing

package entity

import (
	"fmt"
	"strings"
)

// Kind distinguishes the two entity categories the engine routes on.
type Kind string

const (
	KindUser  Kind = "user"
	KindGroup Kind = "group"
)

// ID identifies a user or a group. The zero value is "no entity".
type ID struct {
	Kind Kind
	Name string
}

// UserID builds a user ID from a bare name.
func UserID(name string) ID {
	return ID{Kind: KindUser, Name: name}
}

// GroupID builds a group ID from a bare name.
func GroupID(name string) ID {
	return ID{Kind: KindGroup, Name: name}
}

// IsZero reports whether the ID identifies nothing.
func (id ID) IsZero() bool {
	return id.Name == ""
}

// IsGroup reports whether the ID identifies a group.
func (id ID) IsGroup() bool {
	return id.Kind == KindGroup
}

// String renders the ID in "kind:name" form, the representation used for
// storage keys and the event bus.
func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	kind := id.Kind
	if kind == "" {
		kind = KindUser
	}
	return string(kind) + ":" + id.Name
}

// ParseID parses the "kind:name" form produced by String.
// A bare name with no kind prefix is treated as a user ID.
func ParseID(s string) (ID, error) {
	if s == "" {
		return ID{}, fmt.Errorf("empty entity id")
	}
	kind, name, found := strings.Cut(s, ":")
	if !found {
		return ID{Kind: KindUser, Name: s}, nil
	}
	switch Kind(kind) {
	case KindUser, KindGroup:
		if name == "" {
			return ID{}, fmt.Errorf("entity id %q has empty name", s)
		}
		return ID{Kind: Kind(kind), Name: name}, nil
	default:
		return ID{}, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// MustParseID is ParseID for literals in tests and fixtures; it panics on error.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}
