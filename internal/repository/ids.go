package repository

import "github.com/google/uuid"

// validID reports whether id can be compared against a UUID column.
// Lookups with anything else match no row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
