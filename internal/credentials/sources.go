package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"batchgen/internal/infra"
	"batchgen/internal/sqlinline"
)

// EnvSource reads secrets from environment variables. Each variable may hold
// a comma separated list.
type EnvSource struct {
	Vars     []string
	Platform string
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// DefaultEnvVars are consulted when EnvSource.Vars is empty.
var DefaultEnvVars = []string{"BATCHGEN_API_KEYS", "DASHSCOPE_API_KEY"}

func (s EnvSource) Name() string { return "env" }

func (s EnvSource) Candidates(ctx context.Context) ([]Entry, error) {
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	vars := s.Vars
	if len(vars) == 0 {
		vars = DefaultEnvVars
	}
	var out []Entry
	for _, name := range vars {
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		for i, secret := range strings.Split(raw, ",") {
			secret = strings.TrimSpace(secret)
			if secret == "" {
				continue
			}
			out = append(out, Entry{
				Name:     fmt.Sprintf("%s#%d", strings.ToLower(name), i+1),
				Secret:   secret,
				Platform: s.Platform,
				Source:   s.Name(),
			})
		}
	}
	return out, nil
}

// SettingsSource serves the credentials listed in the settings file.
type SettingsSource struct {
	Label   string
	Entries []Entry
}

func (s SettingsSource) Name() string {
	if s.Label == "" {
		return "settings"
	}
	return s.Label
}

func (s SettingsSource) Candidates(ctx context.Context) ([]Entry, error) {
	out := make([]Entry, len(s.Entries))
	copy(out, s.Entries)
	return out, nil
}

// LibrarySource is the credential_library table. It is both a Source and the
// pool's UsageRecorder.
type LibrarySource struct {
	sql      infra.SQLExecutor
	platform string
}

// NewLibrarySource reads credentials for platform; an empty platform means all.
func NewLibrarySource(sql infra.SQLExecutor, platform string) *LibrarySource {
	return &LibrarySource{sql: sql, platform: strings.TrimSpace(platform)}
}

func (l *LibrarySource) Name() string { return "credential_library" }

func (l *LibrarySource) Candidates(ctx context.Context) ([]Entry, error) {
	return l.List(ctx)
}

// List returns the enabled credentials in creation order.
func (l *LibrarySource) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.sql.Query(ctx, sqlinline.QSelectCredentialLibrary, l.platform)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			lastUsed *time.Time
		)
		if err := rows.Scan(&e.Name, &e.Secret, &e.Platform, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		e.Secret = strings.TrimSpace(e.Secret)
		e.Source = l.Name()
		if lastUsed != nil {
			e.LastUsed = *lastUsed
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return out, nil
}

// Add stores or replaces a named credential.
func (l *LibrarySource) Add(ctx context.Context, name, platform, secret string) error {
	name = strings.TrimSpace(name)
	secret = strings.TrimSpace(secret)
	platform = strings.TrimSpace(platform)
	if name == "" {
		return errors.New("credential name is required")
	}
	if secret == "" {
		return errors.New("credential secret is required")
	}
	if platform == "" {
		platform = l.platform
	}
	if platform == "" {
		return errors.New("credential platform is required")
	}
	_, err := l.sql.Exec(ctx, sqlinline.QUpsertCredential, name, secret, platform)
	return err
}

// RecordUse bumps last_used_at. Entries from other sources are ignored.
func (l *LibrarySource) RecordUse(ctx context.Context, e Entry, at time.Time) error {
	if e.Source != l.Name() {
		return nil
	}
	_, err := l.sql.Exec(ctx, sqlinline.QTouchCredential, e.Platform, e.Name, at.UTC())
	return err
}
