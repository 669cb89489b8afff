package storage

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrAccountNotFound is returned when a user has no account row
	ErrAccountNotFound = errors.New("account not found")

	// ErrTeamNotFound is returned when a team is not found
	ErrTeamNotFound = errors.New("team not found")

	// ErrMembershipNotFound is returned when a user is not a member of a team
	ErrMembershipNotFound = errors.New("team membership not found")

	// ErrMembershipExists is returned when adding a member twice
	ErrMembershipExists = errors.New("team membership already exists")

	// ErrProjectNotFound is returned when a project is not found
	ErrProjectNotFound = errors.New("project not found")

	// ErrPreferenceNotFound is returned when a user has no stored preference
	ErrPreferenceNotFound = errors.New("preference not found")

	// ErrCredentialNotFound is returned when no encrypted credential is stored
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrJobNotFound is returned when a job record is not found
	ErrJobNotFound = errors.New("job not found")

	// ErrIntegrityViolation is returned when a write breaks a foreign key,
	// check or not-null constraint. Retrying the same write cannot succeed.
	ErrIntegrityViolation = errors.New("integrity constraint violation")
)

// wrapWriteError prefixes err with op and tags Postgres class 23 errors
// with ErrIntegrityViolation
func wrapWriteError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return fmt.Errorf("%s: %w: %w", op, ErrIntegrityViolation, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
