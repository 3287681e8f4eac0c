package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a compare-and-set update found the row in a
// different state than required. Claims and deploy transitions rely on it.
var ErrConflict = errors.New("repository: state conflict")
