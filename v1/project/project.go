// Package project defines the identity shared by every component that
// coordinates project state.
package project

import (
	"errors"
	"strings"
)

// ErrEmptyID is returned by [Parse] for a blank identifier.
var ErrEmptyID = errors.New("project: empty id")

// ID identifies a project. IDs are comparable and safe to use as map keys.
type ID string

// Parse trims s and returns it as an ID.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyID
	}
	return ID(s), nil
}

// String returns the display form of the ID.
func (id ID) String() string {
	return string(id)
}
