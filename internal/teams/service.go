// Package teams manages teams, their members, quotas, projects and shared
// credentials. Every mutation is restricted to the team owner.
package teams

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"transcribe_gateway/internal/models"
	"transcribe_gateway/internal/utils"
)

var (
	// ErrNotOwner is returned when a non-owner attempts an owner-only action
	ErrNotOwner = errors.New("only the team owner can do this")

	// ErrOwnerCannotBeRemoved is returned when removing the owner's membership
	ErrOwnerCannotBeRemoved = errors.New("the team owner cannot be removed")

	// ErrInvalidInput is returned for blank names or ids
	ErrInvalidInput = errors.New("invalid input")
)

// Repository is the team storage used by the service
type Repository interface {
	CreateWithOwner(ctx context.Context, team *models.Team) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Team, error)
	ListMembers(ctx context.Context, teamID uuid.UUID) ([]*models.TeamMembership, error)
	AddMember(ctx context.Context, m *models.TeamMembership) error
	RemoveMember(ctx context.Context, teamID uuid.UUID, userID string) error
	UpdateMemberQuota(ctx context.Context, teamID uuid.UUID, userID string, quota models.Quota) error
}

// ProjectRepository stores team projects
type ProjectRepository interface {
	Create(ctx context.Context, p *models.Project) error
	ListByTeam(ctx context.Context, teamID uuid.UUID) ([]*models.Project, error)
}

// UsageReader sums recorded team usage
type UsageReader interface {
	TotalForTeam(ctx context.Context, teamID uuid.UUID) (float64, error)
}

// CredentialStore encrypts and saves credentials
type CredentialStore interface {
	Store(ctx context.Context, p models.Principal, plaintext string) (string, error)
}

// CredentialValidator checks a credential against the job gateway
type CredentialValidator interface {
	ValidateCredential(ctx context.Context, credential string) error
}

// Info is the owner's view of a team. The credential is never included.
type Info struct {
	ID            uuid.UUID                `json:"id"`
	Name          string                   `json:"name"`
	OwnerID       string                   `json:"owner_id"`
	HasCredential bool                     `json:"has_credential"`
	Members       []*models.TeamMembership `json:"members"`
	Projects      []*models.Project        `json:"projects"`
	TotalSeconds  float64                  `json:"total_seconds"`
}

// Service implements team management
type Service struct {
	teams       Repository
	projects    ProjectRepository
	usage       UsageReader
	credentials CredentialStore
	validator   CredentialValidator
	logger      *utils.Logger
}

// NewService creates a team service. validator may be nil to skip
// upstream credential checks.
func NewService(teams Repository, projects ProjectRepository, usage UsageReader, credentials CredentialStore, validator CredentialValidator) *Service {
	return &Service{
		teams:       teams,
		projects:    projects,
		usage:       usage,
		credentials: credentials,
		validator:   validator,
		logger:      utils.NewLogger("teams"),
	}
}

// CreateTeam creates a team owned by ownerID with a shared credential.
// The owner becomes an admin member with an unlimited quota.
func (s *Service) CreateTeam(ctx context.Context, ownerID, name, credential string) (*models.Team, error) {
	ownerID = strings.TrimSpace(ownerID)
	name = strings.TrimSpace(name)
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if name == "" {
		name = "Untitled Team"
	}
	if err := s.validate(ctx, credential); err != nil {
		return nil, err
	}

	team := &models.Team{Name: name, OwnerID: ownerID}
	if err := s.teams.CreateWithOwner(ctx, team); err != nil {
		return nil, err
	}

	encrypted, err := s.credentials.Store(ctx, models.TeamPrincipal(team.ID.String()), credential)
	if err != nil {
		return nil, fmt.Errorf("team %s created but its credential was not stored: %w", team.ID, err)
	}
	team.EncryptedCredential = &encrypted

	s.logger.Info("Team created", "team_id", team.ID.String(), "owner_id", ownerID)
	return team, nil
}

// AddMember adds userID to the team with quota
func (s *Service) AddMember(ctx context.Context, actorID string, teamID uuid.UUID, userID string, quota models.Quota) (*models.TeamMembership, error) {
	if _, err := s.requireOwner(ctx, actorID, teamID); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: member is required", ErrInvalidInput)
	}

	m := &models.TeamMembership{TeamID: teamID, UserID: userID, Quota: quota}
	if err := s.teams.AddMember(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info("Team member added", "team_id", teamID.String(), "user_id", userID, "quota", quota.String())
	return m, nil
}

// RemoveMember removes userID from the team. Usage already recorded stays.
func (s *Service) RemoveMember(ctx context.Context, actorID string, teamID uuid.UUID, userID string) error {
	team, err := s.requireOwner(ctx, actorID, teamID)
	if err != nil {
		return err
	}
	if team.IsOwner(userID) {
		return ErrOwnerCannotBeRemoved
	}
	if err := s.teams.RemoveMember(ctx, teamID, userID); err != nil {
		return err
	}

	s.logger.Info("Team member removed", "team_id", teamID.String(), "user_id", userID)
	return nil
}

// UpdateMemberQuota replaces a member's quota
func (s *Service) UpdateMemberQuota(ctx context.Context, actorID string, teamID uuid.UUID, userID string, quota models.Quota) error {
	if _, err := s.requireOwner(ctx, actorID, teamID); err != nil {
		return err
	}
	if err := s.teams.UpdateMemberQuota(ctx, teamID, userID, quota); err != nil {
		return err
	}

	s.logger.Info("Team member quota updated", "team_id", teamID.String(), "user_id", userID, "quota", quota.String())
	return nil
}

// SetCredential replaces the team's shared credential
func (s *Service) SetCredential(ctx context.Context, actorID string, teamID uuid.UUID, credential string) error {
	if _, err := s.requireOwner(ctx, actorID, teamID); err != nil {
		return err
	}
	if err := s.validate(ctx, credential); err != nil {
		return err
	}
	if _, err := s.credentials.Store(ctx, models.TeamPrincipal(teamID.String()), credential); err != nil {
		return err
	}
	return nil
}

// CreateProject adds a project quota scope to the team
func (s *Service) CreateProject(ctx context.Context, actorID string, teamID uuid.UUID, name string, quota models.Quota) (*models.Project, error) {
	if _, err := s.requireOwner(ctx, actorID, teamID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}

	p := &models.Project{TeamID: teamID, Name: name, Quota: quota}
	if err := s.projects.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Info returns members, projects and total usage of a team
func (s *Service) Info(ctx context.Context, actorID string, teamID uuid.UUID) (*Info, error) {
	team, err := s.requireOwner(ctx, actorID, teamID)
	if err != nil {
		return nil, err
	}

	members, err := s.teams.ListMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	projects, err := s.projects.ListByTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	total, err := s.usage.TotalForTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	return &Info{
		ID:            team.ID,
		Name:          team.Name,
		OwnerID:       team.OwnerID,
		HasCredential: team.EncryptedCredential != nil && *team.EncryptedCredential != "",
		Members:       members,
		Projects:      projects,
		TotalSeconds:  total,
	}, nil
}

func (s *Service) requireOwner(ctx context.Context, actorID string, teamID uuid.UUID) (*models.Team, error) {
	team, err := s.teams.GetByID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if !team.IsOwner(strings.TrimSpace(actorID)) {
		return nil, ErrNotOwner
	}
	return team, nil
}

func (s *Service) validate(ctx context.Context, credential string) error {
	if strings.TrimSpace(credential) == "" {
		return fmt.Errorf("%w: credential is required", ErrInvalidInput)
	}
	if s.validator == nil {
		return nil
	}
	if err := s.validator.ValidateCredential(ctx, strings.TrimSpace(credential)); err != nil {
		return fmt.Errorf("credential check failed: %w", err)
	}
	return nil
}
