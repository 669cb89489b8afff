// teamctl manages teams, member quotas, projects and stored credentials.
//
// Usage:
//
//	teamctl <command> [flags]
//
// Team commands act as the user given by -as and are restricted to the
// team owner.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"transcribe_gateway/internal/config"
	"transcribe_gateway/internal/jobs"
	"transcribe_gateway/internal/models"
	"transcribe_gateway/internal/storage"
	"transcribe_gateway/internal/teams"
	"transcribe_gateway/internal/vault"
)

type app struct {
	teams    *teams.Service
	vault    *vault.Vault
	accounts *storage.AccountRepository
	jobs     *jobs.HTTPClient
}

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"create-team":         {"-as OWNER -name NAME -credential KEY", createTeam},
	"add-member":          {"-as OWNER -team ID -user USER [-quota SECONDS|unlimited]", addMember},
	"remove-member":       {"-as OWNER -team ID -user USER", removeMember},
	"set-quota":           {"-as OWNER -team ID -user USER -quota SECONDS|unlimited", setQuota},
	"set-team-credential": {"-as OWNER -team ID -credential KEY", setTeamCredential},
	"create-project":      {"-as OWNER -team ID -name NAME [-quota SECONDS|unlimited]", createProject},
	"info":                {"-as OWNER -team ID", teamInfo},
	"set-credential":      {"-user USER -credential KEY", setPersonalCredential},
	"reset-guest":         {"-user USER", resetGuest},
	"set-guest-limit":     {"-user USER -limit USD", setGuestLimit},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "ERROR: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	// Load configuration (database, encryption key, job gateway)
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	dbConfig := storage.DefaultDBConfig()
	dbConfig.DSN = cfg.Database.URL
	dbConfig.MaxOpenConns = 2
	dbConfig.TeamCacheSize = 10
	db, err := storage.NewDB(dbConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	encryption, err := storage.NewEncryptionFromKeyMaterial(cfg.Vault.EncryptionKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to initialize encryption: %v\n", err)
		os.Exit(1)
	}

	v := vault.New(storage.NewCredentialRepository(db, cfg.Billing.DefaultGuestLimit), encryption)
	jobClient := jobs.NewHTTPClient(cfg.JobGateway.BaseURL, cfg.JobGateway.RequestTimeout)
	a := &app{
		teams:    teams.NewService(db.NewTeamRepository(), db.NewProjectRepository(), db.NewTeamUsageRepository(), v, jobClient),
		vault:    v,
		accounts: db.NewAccountRepository(),
		jobs:     jobClient,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := cmd.run(ctx, a, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: teamctl <command> [flags]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	for name, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %-20s %s\n", name, cmd.usage)
	}
}

// teamFlags holds the flags shared by team commands
type teamFlags struct {
	fs         *flag.FlagSet
	actor      *string
	team       *string
	user       *string
	name       *string
	credential *string
	quota      *string
}

func newTeamFlags(name string) *teamFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return &teamFlags{
		fs:         fs,
		actor:      fs.String("as", "", "acting user (the team owner)"),
		team:       fs.String("team", "", "team id"),
		user:       fs.String("user", "", "user id"),
		name:       fs.String("name", "", "team or project name"),
		credential: fs.String("credential", "", "provider credential"),
		quota:      fs.String("quota", "unlimited", "quota in seconds, or unlimited"),
	}
}

func (f *teamFlags) parse(args []string) error {
	return f.fs.Parse(args)
}

func (f *teamFlags) teamID() (uuid.UUID, error) {
	id, err := uuid.Parse(*f.team)
	if err != nil {
		return uuid.Nil, fmt.Errorf("-team must be a team id: %w", err)
	}
	return id, nil
}

func (f *teamFlags) parsedQuota() (models.Quota, error) {
	return parseQuota(*f.quota)
}

// parseQuota accepts "unlimited" or a non-negative number of seconds
func parseQuota(s string) (models.Quota, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "unlimited" {
		return models.Unlimited(), nil
	}
	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil || seconds < 0 {
		return models.Quota{}, fmt.Errorf("quota must be unlimited or a non-negative number of seconds, got %q", s)
	}
	return models.Limited(seconds), nil
}

func createTeam(ctx context.Context, a *app, args []string) error {
	f := newTeamFlags("create-team")
	if err := f.parse(args); err != nil {
		return err
	}
	team, err := a.teams.CreateTeam(ctx, *f.actor, *f.name, *f.credential)
	if err != nil {
		return err
	}
	fmt.Printf("Team created: %s (%s), owner %s\n", team.Name, team.ID, team.OwnerID)
	return nil
}

func addMember(ctx context.Context, a *app, args []string) error {
	f := newTeamFlags("add-member")
	if err := f.parse(args); err != nil {
		return err
	}
	teamID, err := f.teamID()
	if err != nil {
		return err
	}
	quota, err := f.parsedQuota()
	if err != nil {
		return err
	}
	m, err := a.teams.AddMember(ctx, *f.actor, teamID, *f.user, quota)
	if err != nil {
		if errors.Is(err, storage.ErrMembershipExists) {
			return fmt.Errorf("%s is already a member of %s", *f.user, teamID)
		}
		return err
	}
	fmt.Printf("Added %s to %s with quota %s\n", m.UserID, teamID, m.Quota)
	return nil
}

func removeMember(ctx context.Context, a *app, args []string) error {
	f := newTeamFlags("remove-member")
	if err := f.parse(args); err != nil {
		return err
	}
	teamID, err := f.teamID()
	if err != nil {
		return err
	}
	if err := a.teams.RemoveMember(ctx, *f.actor, teamID, *f.user); err != nil {
		return err
	}
	fmt.Printf("Removed %s from %s\n", *f.user, teamID)
	return nil
}

func setQuota(ctx context.Context, a *app, args []string) error {
	f := newTeamFlags("set-quota")
	if err := f.parse(args); err != nil {
		return err
	}
	teamID, err := f.teamID()
	if err != nil {
		return err
	}
	quota, err := f.parsedQuota()
	if err != nil {
		return err
	}
	if err := a.teams.UpdateMemberQuota(ctx, *f.actor, teamID, *f.user, quota); err != nil {
		return err
	}
	fmt.Printf("Quota of %s in %s set to %s\n", *f.user, teamID, quota)
	return nil
}

func setTeamCredential(ctx context.Context, a *app, args []string) error {
	f := newTeamFlags("set-team-credential")
	if err := f.parse(args); err != nil {
		return err
	}
	teamID, err := f.teamID()
	if err != nil {
		return err
	}
	if err := a.teams.SetCredential(ctx, *f.actor, teamID, *f.credential); err != nil {
		return err
	}
	fmt.Printf("Credential of %s updated\n", teamID)
	return nil
}

func createProject(ctx context.Context, a *app, args []string) error {
	f := newTeamFlags("create-project")
	if err := f.parse(args); err != nil {
		return err
	}
	teamID, err := f.teamID()
	if err != nil {
		return err
	}
	quota, err := f.parsedQuota()
	if err != nil {
		return err
	}
	p, err := a.teams.CreateProject(ctx, *f.actor, teamID, *f.name, quota)
	if err != nil {
		return err
	}
	fmt.Printf("Project created: %s (%s) with quota %s\n", p.Name, p.ID, p.Quota)
	return nil
}

func teamInfo(ctx context.Context, a *app, args []string) error {
	f := newTeamFlags("info")
	if err := f.parse(args); err != nil {
		return err
	}
	teamID, err := f.teamID()
	if err != nil {
		return err
	}
	info, err := a.teams.Info(ctx, *f.actor, teamID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func setPersonalCredential(ctx context.Context, a *app, args []string) error {
	f := newTeamFlags("set-credential")
	if err := f.parse(args); err != nil {
		return err
	}
	user := strings.TrimSpace(*f.user)
	if user == "" {
		return errors.New("-user is required")
	}
	if err := a.jobs.ValidateCredential(ctx, *f.credential); err != nil {
		return fmt.Errorf("credential rejected: %w", err)
	}
	if _, err := a.vault.Store(ctx, models.UserPrincipal(user), *f.credential); err != nil {
		return err
	}
	fmt.Printf("Personal credential of %s stored\n", user)
	return nil
}

func resetGuest(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("reset-guest", flag.ContinueOnError)
	user := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.accounts.ResetUsage(ctx, *user); err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return fmt.Errorf("%s has no guest account yet", *user)
		}
		return err
	}
	fmt.Printf("Guest usage of %s reset\n", *user)
	return nil
}

func setGuestLimit(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("set-guest-limit", flag.ContinueOnError)
	user := fs.String("user", "", "user id")
	limit := fs.Float64("limit", 0, "guest allowance in USD")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.accounts.SetLimit(ctx, *user, *limit); err != nil {
		return err
	}
	fmt.Printf("Guest limit of %s set to %.2f USD\n", *user, *limit)
	return nil
}
