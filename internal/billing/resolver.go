package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"transcribe_gateway/internal/metrics"
	"transcribe_gateway/internal/models"
	"transcribe_gateway/internal/storage"
	"transcribe_gateway/internal/utils"
)

// CredentialSource returns decrypted credentials; ok is false when none is usable
type CredentialSource interface {
	Retrieve(ctx context.Context, p models.Principal) (string, bool, error)
}

// BalanceSource reports the guest allowance left for a user
type BalanceSource interface {
	Remaining(ctx context.Context, p models.Principal) (float64, error)
}

// TeamDirectory looks up teams and memberships. Missing rows are reported
// with storage.ErrTeamNotFound and storage.ErrMembershipNotFound.
type TeamDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Team, error)
	GetMembership(ctx context.Context, teamID uuid.UUID, userID string) (*models.TeamMembership, error)
	ListForMember(ctx context.Context, userID string) ([]*models.Team, error)
}

// PreferenceSource returns the stored mode preference or storage.ErrPreferenceNotFound
type PreferenceSource interface {
	Get(ctx context.Context, userID string) (*models.UserModePreference, error)
}

// ResolveRequest is the input of Resolve. Mode, TeamID and ProjectID are optional.
type ResolveRequest struct {
	UserID    string
	Mode      models.BillingMode
	TeamID    string
	ProjectID string
}

// Resolver picks the billing source of a request
type Resolver struct {
	settings    Settings
	credentials CredentialSource
	balances    BalanceSource
	teams       TeamDirectory
	preferences PreferenceSource
	metrics     metrics.Recorder
	logger      *utils.Logger
}

// ResolverOption customizes a Resolver
type ResolverOption func(*Resolver)

// WithResolverMetrics reports every decision to m
func WithResolverMetrics(m metrics.Recorder) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a resolver over the given collaborators
func NewResolver(settings Settings, credentials CredentialSource, balances BalanceSource, teams TeamDirectory, preferences PreferenceSource, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		settings:    settings,
		credentials: credentials,
		balances:    balances,
		teams:       teams,
		preferences: preferences,
		metrics:     metrics.Noop{},
		logger:      utils.NewLogger("resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a decision for the request. Denials are decisions, not
// errors; err is a *StoreError for transient failures or wraps
// ErrNoFallbackCredential when guest is chosen without a shared key.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (*Decision, error) {
	req.UserID = strings.TrimSpace(req.UserID)

	var (
		d   *Decision
		err error
	)
	if req.Mode != "" {
		d, err = r.resolveExplicit(ctx, req)
	} else {
		d, err = r.resolveImplicit(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	r.metrics.RecordDecision(string(d.Mode), d.Allowed, string(d.Reason))
	r.logger.Debug("Resolved billing", "user_id", req.UserID, "mode", d.Mode, "allowed", d.Allowed, "reason", d.Reason)
	return d, nil
}

func (r *Resolver) resolveExplicit(ctx context.Context, req ResolveRequest) (*Decision, error) {
	switch req.Mode {
	case models.ModePersonal:
		d, err := r.tryPersonal(ctx, req.UserID)
		if err != nil || d != nil {
			return d, err
		}
		return deny(models.ModePersonal, req.UserID, ReasonNoPersonalCredential), nil

	case models.ModeGuest:
		d, err := r.tryGuest(ctx, req.UserID)
		if err != nil || d != nil {
			return d, err
		}
		return deny(models.ModeGuest, req.UserID, ReasonGuestExhausted), nil

	case models.ModeTeam:
		return r.resolveExplicitTeam(ctx, req)

	default:
		return deny(req.Mode, req.UserID, ReasonNoBillingSource), nil
	}
}

// resolveExplicitTeam is the only path that gates on the member quota
func (r *Resolver) resolveExplicitTeam(ctx context.Context, req ResolveRequest) (*Decision, error) {
	teamID, err := uuid.Parse(strings.TrimSpace(req.TeamID))
	if err != nil {
		return deny(models.ModeTeam, req.UserID, ReasonTeamNotFound), nil
	}

	team, err := r.teams.GetByID(ctx, teamID)
	if errors.Is(err, storage.ErrTeamNotFound) {
		return deny(models.ModeTeam, req.UserID, ReasonTeamNotFound), nil
	}
	if err != nil {
		return nil, storeError("get team", err)
	}

	membership, err := r.teams.GetMembership(ctx, team.ID, req.UserID)
	if errors.Is(err, storage.ErrMembershipNotFound) {
		return deny(models.ModeTeam, req.UserID, ReasonNotAMember), nil
	}
	if err != nil {
		return nil, storeError("get membership", err)
	}

	credential, ok, err := r.credentials.Retrieve(ctx, models.TeamPrincipal(team.ID.String()))
	if err != nil {
		return nil, storeError("retrieve team credential", err)
	}
	if !ok {
		return deny(models.ModeTeam, req.UserID, ReasonTeamCredentialInvalid), nil
	}

	if membership.Quota.Exceeded(membership.ConsumedSeconds) {
		return deny(models.ModeTeam, req.UserID, ReasonQuotaExceeded), nil
	}

	var remaining *float64
	if left, limited := membership.Quota.Remaining(membership.ConsumedSeconds); limited {
		remaining = &left
	}

	d := allow(models.ModeTeam, req.UserID, credential, remaining)
	d.TeamID = &team.ID
	d.ProjectID = parseOptionalUUID(req.ProjectID)
	return d, nil
}

func (r *Resolver) resolveImplicit(ctx context.Context, req ResolveRequest) (*Decision, error) {
	pref, err := r.preferences.Get(ctx, req.UserID)
	if err != nil && !errors.Is(err, storage.ErrPreferenceNotFound) {
		return nil, storeError("get preference", err)
	}
	if pref == nil || !pref.PreferredMode.Valid() {
		return r.defaultChain(ctx, req)
	}

	switch pref.PreferredMode {
	case models.ModePersonal:
		d, err := r.tryPersonal(ctx, req.UserID)
		if err != nil || d != nil {
			return d, err
		}
		// A personal preference without a key falls through the remaining chain.
		return r.teamThenGuest(ctx, req)

	case models.ModeGuest:
		d, err := r.tryGuest(ctx, req.UserID)
		if err != nil || d != nil {
			return d, err
		}
		return deny(models.ModeGuest, req.UserID, ReasonGuestExhausted), nil

	default:
		// A broken team preference degrades to guest and never to personal.
		teamID := pref.ActiveTeamID
		if req.TeamID != "" {
			teamID = parseOptionalUUID(req.TeamID)
		}
		projectID := pref.ActiveProjectID
		if req.ProjectID != "" {
			projectID = parseOptionalUUID(req.ProjectID)
		}
		if teamID != nil {
			d, err := r.tryTeam(ctx, req.UserID, *teamID)
			if err != nil {
				return nil, err
			}
			if d != nil {
				d.ProjectID = projectID
				return d, nil
			}
		}
		r.logger.Info("Preferred team unusable, falling back to guest", "user_id", req.UserID)
		d, err := r.tryGuest(ctx, req.UserID)
		if err != nil || d != nil {
			return d, err
		}
		return deny("", req.UserID, ReasonNoBillingSource), nil
	}
}

// defaultChain is personal, then the user's first team when it has a key,
// then guest
func (r *Resolver) defaultChain(ctx context.Context, req ResolveRequest) (*Decision, error) {
	d, err := r.tryPersonal(ctx, req.UserID)
	if err != nil || d != nil {
		return d, err
	}
	return r.teamThenGuest(ctx, req)
}

func (r *Resolver) teamThenGuest(ctx context.Context, req ResolveRequest) (*Decision, error) {
	teams, err := r.teams.ListForMember(ctx, req.UserID)
	if err != nil {
		return nil, storeError("list member teams", err)
	}
	// Only the earliest-joined team is eligible; later teams are never tried.
	if len(teams) > 0 {
		d, err := r.tryTeam(ctx, req.UserID, teams[0].ID)
		if err != nil || d != nil {
			return d, err
		}
	}

	d, err := r.tryGuest(ctx, req.UserID)
	if err != nil || d != nil {
		return d, err
	}
	return deny("", req.UserID, ReasonNoBillingSource), nil
}

// tryPersonal returns nil when the user has no usable key
func (r *Resolver) tryPersonal(ctx context.Context, userID string) (*Decision, error) {
	credential, ok, err := r.credentials.Retrieve(ctx, models.UserPrincipal(userID))
	if err != nil {
		return nil, storeError("retrieve personal credential", err)
	}
	if !ok {
		return nil, nil
	}
	return allow(models.ModePersonal, userID, credential, nil), nil
}

// tryGuest returns nil when the allowance is used up
func (r *Resolver) tryGuest(ctx context.Context, userID string) (*Decision, error) {
	remaining, err := r.balances.Remaining(ctx, models.UserPrincipal(userID))
	if err != nil {
		return nil, storeError("get guest balance", err)
	}
	if remaining <= 0 {
		return nil, nil
	}
	if r.settings.FallbackCredential == "" {
		r.logger.Error("Guest billing selected without a fallback credential", "user_id", userID)
		return nil, ErrNoFallbackCredential
	}
	return allow(models.ModeGuest, userID, r.settings.FallbackCredential, &remaining), nil
}

// tryTeam returns nil when the team is missing, the user is not a member or
// the team has no usable key. The quota is not checked here.
func (r *Resolver) tryTeam(ctx context.Context, userID string, teamID uuid.UUID) (*Decision, error) {
	team, err := r.teams.GetByID(ctx, teamID)
	if errors.Is(err, storage.ErrTeamNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("get team", err)
	}

	membership, err := r.teams.GetMembership(ctx, team.ID, userID)
	if errors.Is(err, storage.ErrMembershipNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("get membership", err)
	}

	credential, ok, err := r.credentials.Retrieve(ctx, models.TeamPrincipal(team.ID.String()))
	if err != nil {
		return nil, storeError("retrieve team credential", err)
	}
	if !ok {
		return nil, nil
	}

	var remaining *float64
	if left, limited := membership.Quota.Remaining(membership.ConsumedSeconds); limited {
		remaining = &left
	}
	d := allow(models.ModeTeam, userID, credential, remaining)
	d.TeamID = &team.ID
	return d, nil
}

func parseOptionalUUID(s string) *uuid.UUID {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}
