package billing

import (
	"fmt"

	"github.com/google/uuid"

	"transcribe_gateway/internal/models"
)

// Decision is the outcome of a resolve. It is never persisted and its
// credential is unexported so it cannot leak through encoding or logging.
type Decision struct {
	Mode    models.BillingMode
	Allowed bool
	Reason  Reason

	// Remaining is USD left for guest, seconds left for a limited team
	// quota, and nil otherwise.
	Remaining *float64

	UserID    string
	TeamID    *uuid.UUID
	ProjectID *uuid.UUID

	credential string
}

// Credential returns the resolved provider key; empty when denied
func (d *Decision) Credential() string {
	return d.credential
}

// Message is the user-facing explanation of a denial
func (d *Decision) Message() string {
	if d.Allowed {
		return ""
	}
	return d.Reason.Message()
}

// String omits the credential
func (d *Decision) String() string {
	if d.Allowed {
		return fmt.Sprintf("billing decision: mode=%s allowed", d.Mode)
	}
	return fmt.Sprintf("billing decision: mode=%s denied reason=%s", d.Mode, d.Reason)
}

func allow(mode models.BillingMode, userID, credential string, remaining *float64) *Decision {
	return &Decision{
		Mode:       mode,
		Allowed:    true,
		Remaining:  remaining,
		UserID:     userID,
		credential: credential,
	}
}

func deny(mode models.BillingMode, userID string, reason Reason) *Decision {
	return &Decision{Mode: mode, Allowed: false, Reason: reason, UserID: userID}
}
