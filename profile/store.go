package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

const profilesDirName = "profiles"

// Store persists profiles as one JSON file per owner under
// <dataDir>/profiles. Files are written atomically via a rename.
type Store struct {
	dir    string
	logger zerolog.Logger

	mu sync.Mutex
}

// NewStore creates the profiles directory if needed.
func NewStore(dataDir string, logger zerolog.Logger) (*Store, error) {
	dir := filepath.Join(dataDir, profilesDirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create profiles dir %s: %w", dir, err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With().Str("component", "profile_store").Logger(),
	}, nil
}

// Load returns the owner's profile, or a fresh skeleton when none exists yet.
func (s *Store) Load(ownerID string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(ownerID))
	if os.IsNotExist(err) {
		return NewProfile(ownerID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile for %s: %w", ownerID, err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		// A corrupt file should not wedge the owner forever.
		s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("Corrupt profile file, starting fresh")
		return NewProfile(ownerID), nil
	}
	fillDefaults(&p, ownerID)
	return &p, nil
}

// Save writes the owner's profile to disk.
func (s *Store) Save(ownerID string, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile for %s: %w", ownerID, err)
	}

	path := s.path(ownerID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write profile for %s: %w", ownerID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace profile for %s: %w", ownerID, err)
	}
	return nil
}

// Clear deletes the owner's profile file. Missing files are not an error.
func (s *Store) Clear(ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(ownerID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete profile for %s: %w", ownerID, err)
	}
	return nil
}

// OwnerIDs lists owners with a stored profile.
func (s *Store) OwnerIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list profiles dir: %w", err)
	}
	var owners []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		owners = append(owners, name[:len(name)-len(".json")])
	}
	return owners, nil
}

func (s *Store) path(ownerID string) string {
	// Owner IDs come from chat platforms and may contain path separators.
	safe := filepath.Base(ownerID)
	return filepath.Join(s.dir, safe+".json")
}

// fillDefaults backfills fields added after a profile file was written.
func fillDefaults(p *Profile, ownerID string) {
	fresh := NewProfile(ownerID)
	if p.BasicInfo == nil {
		p.BasicInfo = fresh.BasicInfo
	} else {
		for k, v := range fresh.BasicInfo {
			if _, ok := p.BasicInfo[k]; !ok {
				p.BasicInfo[k] = v
			}
		}
	}
	if p.Attributes == nil {
		p.Attributes = fresh.Attributes
	}
	if p.Preferences == nil {
		p.Preferences = fresh.Preferences
	}
	if p.SocialGraph.RelationshipStatus == "" {
		p.SocialGraph.RelationshipStatus = fresh.SocialGraph.RelationshipStatus
	}
	if p.SocialGraph.ImportantPeople == nil {
		p.SocialGraph.ImportantPeople = []string{}
	}
	if p.DevMetadata == nil {
		p.DevMetadata = fresh.DevMetadata
	}
	if p.PendingProposals == nil {
		p.PendingProposals = []Proposal{}
	}
}
