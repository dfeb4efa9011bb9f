package registry

import "github.com/yanizio/platformx/internal/apperr"

// ErrNotFound is returned when a slug has no tenant row.
var ErrNotFound = apperr.New(apperr.CodeAppNotFound, "app not found", 404)

func errInvalidSlug(s string) error  { return apperr.InvalidSlug(s) }
func errReservedSlug(s string) error { return apperr.ReservedSlug(s) }
