// Package profile implements the Profile registry (spec §3 supplement):
// profiles are operator-configured, not persisted (spec.md §3 is
// explicit), and not hardcoded either — following original_source's
// config.py Settings.profiles/get_profile pattern, they load once from a
// JSON file (PROFILES_FILE) or from inline defaults, into an in-memory
// registry.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shipyard/sandboxd/internal/domain"
)

// fileEntry mirrors the on-disk shape of one profile in PROFILES_FILE.
type fileEntry struct {
	ID             string   `json:"id"`
	Image          string   `json:"image"`
	CPUs           float64  `json:"cpus"`
	MemoryMB       int64    `json:"memory_mb"`
	Capabilities   []string `json:"capabilities"`
	IdleTimeoutSec int      `json:"idle_timeout_seconds"`
	RuntimePort    int      `json:"runtime_port"`
	WarmPoolSize   int      `json:"warm_pool_size"`
	WarmRotateSec  int      `json:"warm_rotate_ttl_seconds"`
}

// Registry is an in-memory, read-only lookup table of Profiles, built
// once at process start.
type Registry struct {
	byID map[string]*domain.Profile
}

// Load reads PROFILES_FILE if set, otherwise falls back to a small set
// of built-in defaults mirroring original_source's "python-default" /
// "python-data" profiles.
func Load(profilesFile string) (*Registry, error) {
	var entries []fileEntry
	if profilesFile != "" {
		data, err := os.ReadFile(profilesFile)
		if err != nil {
			return nil, fmt.Errorf("profile: read %s: %w", profilesFile, err)
		}
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("profile: parse %s: %w", profilesFile, err)
		}
	} else {
		entries = defaultEntries()
	}

	byID := make(map[string]*domain.Profile, len(entries))
	for _, e := range entries {
		byID[e.ID] = toDomain(e)
	}
	return &Registry{byID: byID}, nil
}

func defaultEntries() []fileEntry {
	return []fileEntry{
		{
			ID:             "python-default",
			Image:          "sandboxd/ship:latest",
			CPUs:           1.0,
			MemoryMB:       1024,
			Capabilities:   []string{"filesystem", "shell", "python"},
			IdleTimeoutSec: 1800,
			RuntimePort:    8080,
			WarmPoolSize:   2,
			WarmRotateSec:  3600,
		},
		{
			ID:             "python-data",
			Image:          "sandboxd/ship:data",
			CPUs:           2.0,
			MemoryMB:       4096,
			Capabilities:   []string{"filesystem", "shell", "python"},
			IdleTimeoutSec: 1800,
			RuntimePort:    8080,
			WarmPoolSize:   0,
			WarmRotateSec:  3600,
		},
		{
			ID:             "browser-default",
			Image:          "sandboxd/browser:latest",
			CPUs:           1.0,
			MemoryMB:       2048,
			Capabilities:   []string{"filesystem", "shell", "browser"},
			IdleTimeoutSec: 900,
			RuntimePort:    8080,
			WarmPoolSize:   1,
			WarmRotateSec:  1800,
		},
	}
}

func toDomain(e fileEntry) *domain.Profile {
	return &domain.Profile{
		ID:            e.ID,
		Image:         e.Image,
		CPUs:          e.CPUs,
		MemoryBytes:   e.MemoryMB << 20,
		Capabilities:  e.Capabilities,
		IdleTimeout:   time.Duration(e.IdleTimeoutSec) * time.Second,
		RuntimePort:   e.RuntimePort,
		WarmPoolSize:  e.WarmPoolSize,
		WarmRotateTTL: time.Duration(e.WarmRotateSec) * time.Second,
	}
}

// Get looks up a profile by id.
func (r *Registry) Get(id string) (*domain.Profile, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// All returns every registered profile, in no particular order.
func (r *Registry) All() []*domain.Profile {
	out := make([]*domain.Profile, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	return out
}
