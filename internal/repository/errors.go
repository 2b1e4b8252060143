package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a uniqueness violation, e.g. a subdomain collision.
var ErrConflict = errors.New("repository: conflict")

// ErrDomainTaken indicates another project already routes the requested
// custom domain. Unlike ErrConflict it is not retryable: regenerating does
// not free the domain.
var ErrDomainTaken = errors.New("repository: custom domain taken")
