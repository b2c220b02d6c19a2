// Package profile stores the local player identity as a JSON file under the
// user config directory. There is no account system: the generated player id
// is the only identity the protocol knows.
package profile

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	configDirName = "glitchduel"
	fileName      = "profile.json"
)

var defaultAvatars = []string{"fox", "owl", "bear", "lynx", "otter", "raven"}

// Profile is the locally owned player identity.
type Profile struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
}

// Store reads and writes the profile file.
type Store struct {
	path   string
	logger zerolog.Logger
}

// NewStore places the profile under os.UserConfigDir. An empty dir override
// uses the platform default.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		dir = filepath.Join(base, configDirName)
	}
	return &Store{
		path:   filepath.Join(dir, fileName),
		logger: logger.With().Str("component", "profile").Logger(),
	}, nil
}

// Load returns the stored profile. A missing or corrupt file yields a fresh
// default profile which is written back immediately.
func (s *Store) Load() Profile {
	data, err := os.ReadFile(s.path)
	if err == nil {
		var p Profile
		if jsonErr := json.Unmarshal(data, &p); jsonErr == nil && p.PlayerID != "" {
			return p
		}
		s.logger.Warn().Str("path", s.path).Msg("corrupt profile, regenerating")
	}

	p := Profile{
		PlayerID: uuid.NewString(),
		Name:     "Player",
		Avatar:   defaultAvatars[rand.Intn(len(defaultAvatars))],
	}
	if err := s.Save(p); err != nil {
		s.logger.Warn().Err(err).Msg("could not persist default profile")
	}
	return p
}

// Save writes the profile, creating the directory if needed.
func (s *Store) Save(p Profile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}
