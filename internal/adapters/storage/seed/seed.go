// Package seed imports the pre-migration user directory from a YAML file.
//
// The file holds a single list:
//
//	legacy_users:
//	  - id: zzz
//	    username: ABC
//	    email: abc@test.test
//	    password_hash: $2a$08$...
package seed

import (
	"context"
	"errors"
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/scoreboard/internal/adapters/storage"
	"github.com/okian/scoreboard/internal/domain/model"
)

// ErrInvalidSeed is returned when the seed file cannot be read or an entry
// is incomplete.
var ErrInvalidSeed = errors.New("invalid legacy seed")

type legacyUser struct {
	ID           string `koanf:"id"`
	Username     string `koanf:"username"`
	Email        string `koanf:"email"`
	PasswordHash string `koanf:"password_hash"`
}

type seedFile struct {
	LegacyUsers []legacyUser `koanf:"legacy_users"`
}

// LoadLegacyUsers reads path and writes every entry through imp. Entries
// replace existing users with the same id, so loading twice is harmless.
func LoadLegacyUsers(ctx context.Context, path string, imp storage.LegacyUserImporter) (int, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return 0, fmt.Errorf("%w: reading %s: %w", ErrInvalidSeed, path, err)
	}
	var f seedFile
	if err := k.UnmarshalWithConf("", &f, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}

	users := make([]model.LegacyUser, 0, len(f.LegacyUsers))
	for i, u := range f.LegacyUsers {
		if u.ID == "" || u.Username == "" || u.PasswordHash == "" {
			return 0, fmt.Errorf("%w: entry %d needs id, username and password_hash", ErrInvalidSeed, i)
		}
		users = append(users, model.LegacyUser{
			ID:             u.ID,
			Username:       u.Username,
			Email:          u.Email,
			HashedPassword: u.PasswordHash,
		})
	}
	for _, u := range users {
		if err := imp.PutLegacyUser(ctx, u); err != nil {
			return 0, fmt.Errorf("importing legacy user %s: %w", u.ID, err)
		}
	}
	return len(users), nil
}
