package repository

import (
	"regexp"

	"PriceCast/internal/domain/errs"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// checkID rejects identifiers that could escape a directory or keyspace.
func checkID(kind, id string) error {
	if !validID.MatchString(id) {
		return errs.Config(errs.OutOfRange, "invalid %s id %q", kind, id)
	}
	return nil
}
