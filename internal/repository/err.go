package repository

import (
	"errors"
	"fmt"

	"github.com/yz4230/deployhost/internal/entity"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = gorm.ErrRecordNotFound
	ErrDuplicate = gorm.ErrDuplicatedKey
)

// wrapErr maps driver errors onto the entity error taxonomy.
func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, entity.ErrNotFound), errors.Is(err, entity.ErrConflict), errors.Is(err, entity.ErrInvalid):
		return err
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%s: %w", op, entity.ErrNotFound)
	case errors.Is(err, ErrDuplicate):
		return fmt.Errorf("%s: %w: %w", op, entity.ErrConflict, err)
	}
	return fmt.Errorf("%s: %w: %w", op, entity.ErrStorage, err)
}
