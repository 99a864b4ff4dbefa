package entity

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ID identifies a deployment. IDs are UUIDv7 strings, so lexical order is
// creation order.
type ID string

func NewID() ID {
	return ID(lo.Must(uuid.NewV7()).String())
}

func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: deployment id %q", ErrInvalid, s)
	}
	return ID(u.String()), nil
}

func (id ID) String() string { return string(id) }
