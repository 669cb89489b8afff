package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"transcribe_gateway/internal/models"
	"transcribe_gateway/internal/storage"
)

var errConnection = errors.New("connection refused")

type fakeCredentials struct {
	mu      sync.Mutex
	secrets map[string]string
	err     error
}

func newFakeCredentials() *fakeCredentials {
	return &fakeCredentials{secrets: make(map[string]string)}
}

func (f *fakeCredentials) set(p models.Principal, secret string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets[p.String()] = secret
}

func (f *fakeCredentials) Retrieve(_ context.Context, p models.Principal) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", false, f.err
	}
	s, ok := f.secrets[p.String()]
	return s, ok, nil
}

type fakeTeams struct {
	mu      sync.Mutex
	teams   map[uuid.UUID]*models.Team
	members map[uuid.UUID]map[string]*models.TeamMembership
	order   []uuid.UUID
	events  map[string]*models.TeamUsageEvent
	project map[uuid.UUID]float64
	err     error
}

func newFakeTeams() *fakeTeams {
	return &fakeTeams{
		teams:   make(map[uuid.UUID]*models.Team),
		members: make(map[uuid.UUID]map[string]*models.TeamMembership),
		events:  make(map[string]*models.TeamUsageEvent),
		project: make(map[uuid.UUID]float64),
	}
}

func (f *fakeTeams) addTeam(owner string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.teams[id] = &models.Team{ID: id, Name: "team-" + id.String()[:8], OwnerID: owner}
	f.members[id] = make(map[string]*models.TeamMembership)
	f.order = append(f.order, id)
	return id
}

func (f *fakeTeams) addMember(teamID uuid.UUID, userID string, quota models.Quota, consumed float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[teamID][userID] = &models.TeamMembership{
		TeamID: teamID, UserID: userID, Quota: quota, ConsumedSeconds: consumed,
	}
}

func (f *fakeTeams) removeMember(teamID uuid.UUID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[teamID], userID)
}

func (f *fakeTeams) consumed(teamID uuid.UUID, userID string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[teamID][userID].ConsumedSeconds
}

func (f *fakeTeams) GetByID(_ context.Context, id uuid.UUID) (*models.Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.teams[id]
	if !ok {
		return nil, storage.ErrTeamNotFound
	}
	return t, nil
}

func (f *fakeTeams) GetMembership(_ context.Context, teamID uuid.UUID, userID string) (*models.TeamMembership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[teamID][userID]
	if !ok {
		return nil, storage.ErrMembershipNotFound
	}
	copied := *m
	return &copied, nil
}

func (f *fakeTeams) ListForMember(_ context.Context, userID string) ([]*models.Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.Team
	for _, id := range f.order {
		if _, ok := f.members[id][userID]; ok {
			out = append(out, f.teams[id])
		}
	}
	return out, nil
}

func (f *fakeTeams) RecordTeamUsage(_ context.Context, e *models.TeamUsageEvent) (*storage.TeamUsageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.teams[e.TeamID]; !ok {
		return nil, fmt.Errorf("failed to insert usage event: %w", storage.ErrIntegrityViolation)
	}
	if _, ok := f.events[e.JobID]; ok {
		return &storage.TeamUsageResult{Recorded: false}, nil
	}
	f.events[e.JobID] = e

	res := &storage.TeamUsageResult{Recorded: true}
	if m, ok := f.members[e.TeamID][e.UserID]; ok {
		m.ConsumedSeconds += e.ConsumedUnits
		v := m.ConsumedSeconds
		res.MemberConsumed = &v
	}
	if e.ProjectID != nil {
		if _, ok := f.project[*e.ProjectID]; ok {
			f.project[*e.ProjectID] += e.ConsumedUnits
			v := f.project[*e.ProjectID]
			res.ProjectConsumed = &v
		}
	}
	return res, nil
}

type fakePreferences struct {
	prefs map[string]*models.UserModePreference
	err   error
}

func newFakePreferences() *fakePreferences {
	return &fakePreferences{prefs: make(map[string]*models.UserModePreference)}
}

func (f *fakePreferences) Get(_ context.Context, userID string) (*models.UserModePreference, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.prefs[userID]
	if !ok {
		return nil, storage.ErrPreferenceNotFound
	}
	return p, nil
}
