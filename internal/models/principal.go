package models

import (
	"fmt"
	"strings"
)

// PrincipalKind distinguishes users from teams.
type PrincipalKind string

const (
	PrincipalUser PrincipalKind = "user"
	PrincipalTeam PrincipalKind = "team"
)

// Principal is a user or a team, the subject of a credential or a balance.
type Principal struct {
	Kind PrincipalKind
	ID   string
}

// UserPrincipal returns the principal for a user id (typically an email).
func UserPrincipal(userID string) Principal {
	return Principal{Kind: PrincipalUser, ID: userID}
}

// TeamPrincipal returns the principal for a team id.
func TeamPrincipal(teamID string) Principal {
	return Principal{Kind: PrincipalTeam, ID: teamID}
}

func (p Principal) String() string {
	return fmt.Sprintf("%s:%s", p.Kind, p.ID)
}

// BillingMode is the payment source a job is billed against.
type BillingMode string

const (
	ModePersonal BillingMode = "personal"
	ModeGuest    BillingMode = "guest"
	ModeTeam     BillingMode = "team"
)

// ParseBillingMode parses a mode name; the empty string yields "" with no error.
func ParseBillingMode(s string) (BillingMode, error) {
	switch BillingMode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return "", nil
	case ModePersonal:
		return ModePersonal, nil
	case ModeGuest:
		return ModeGuest, nil
	case ModeTeam:
		return ModeTeam, nil
	default:
		return "", fmt.Errorf("unknown billing mode %q", s)
	}
}

// Valid reports whether m is one of the three billing modes.
func (m BillingMode) Valid() bool {
	return m == ModePersonal || m == ModeGuest || m == ModeTeam
}
