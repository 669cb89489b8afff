package billing

// Reason is the closed set of codes explaining a denied decision
type Reason string

const (
	ReasonNoPersonalCredential  Reason = "no_personal_credential"
	ReasonGuestExhausted        Reason = "guest_exhausted"
	ReasonTeamNotFound          Reason = "team_not_found"
	ReasonNotAMember            Reason = "not_a_member"
	ReasonTeamCredentialInvalid Reason = "team_credential_invalid"
	ReasonQuotaExceeded         Reason = "quota_exceeded"
	ReasonNoBillingSource       Reason = "no_billing_source"
)

var reasonMessages = map[Reason]string{
	ReasonNoPersonalCredential:  "No valid personal credential is stored. Add your own provider key or choose another billing mode.",
	ReasonGuestExhausted:        "Your free guest allowance is used up. Add a personal provider key or join a team.",
	ReasonTeamNotFound:          "The selected team does not exist. Check the team id or pick another team.",
	ReasonNotAMember:            "You are not a member of this team. Ask the team owner to add you.",
	ReasonTeamCredentialInvalid: "The team has no usable provider key. Contact the team owner to set one.",
	ReasonQuotaExceeded:         "Your team quota is used up. Ask the team owner to raise your quota.",
	ReasonNoBillingSource:       "No billing source is available. Add a personal provider key or join a team.",
}

// Message returns the user-facing explanation of a reason
func (r Reason) Message() string {
	return reasonMessages[r]
}

// Valid reports whether r is one of the known codes
func (r Reason) Valid() bool {
	_, ok := reasonMessages[r]
	return ok
}
