package subject

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Type discriminates the two kinds of funded parties.
type Type string

const (
	TypeUser Type = "user"
	TypeOrg  Type = "org"
)

var ErrInvalidSubject = errors.New("invalid_subject")

// Ref identifies one user or one organization. Exactly one kind applies.
type Ref struct {
	Type Type
	ID   snowflake.ID
}

func (r Ref) IsZero() bool { return r.ID == 0 }

// Parse builds a Ref from wire values.
func Parse(rawType, rawID string) (Ref, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(rawID))
	if err != nil || id == 0 {
		return Ref{}, ErrInvalidSubject
	}
	switch Type(strings.ToLower(strings.TrimSpace(rawType))) {
	case TypeUser:
		return Ref{Type: TypeUser, ID: id}, nil
	case TypeOrg:
		return Ref{Type: TypeOrg, ID: id}, nil
	default:
		return Ref{}, ErrInvalidSubject
	}
}

func (r Ref) Validate() error {
	if r.IsZero() {
		return ErrInvalidSubject
	}
	if r.Type != TypeUser && r.Type != TypeOrg {
		return ErrInvalidSubject
	}
	return nil
}
