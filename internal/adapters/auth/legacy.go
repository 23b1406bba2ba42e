package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/okian/scoreboard/internal/adapters/storage"
	"github.com/okian/scoreboard/internal/domain/model"
)

// dummyHash is compared when the user is unknown so both failure paths
// cost one bcrypt comparison.
const dummyHash = "$2a$08$slf.HjrpyEjFgg/HvVW0FuWzCoRNI8eW0Ei4PM.5o6ImHt7lA/Xze"

// LegacyVerifier checks credentials against the legacy user directory.
type LegacyVerifier struct {
	users  storage.LegacyUserStore
	apiKey string
}

// NewLegacyVerifier gates the legacy path behind apiKey.
func NewLegacyVerifier(users storage.LegacyUserStore, apiKey string) *LegacyVerifier {
	return &LegacyVerifier{users: users, apiKey: apiKey}
}

// CheckAPIKey returns model.ErrBadAPIKey unless key matches. An
// unconfigured key rejects everything.
func (v *LegacyVerifier) CheckAPIKey(key string) error {
	if v.apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(v.apiKey)) != 1 {
		return model.ErrBadAPIKey
	}
	return nil
}

// Verify returns the legacy user whose username or email matches and
// whose stored hash accepts password.
func (v *LegacyVerifier) Verify(ctx context.Context, usernameOrEmail, password string) (model.LegacyUser, error) {
	u, err := v.users.FindLegacyUser(ctx, usernameOrEmail)
	if errors.Is(err, storage.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return model.LegacyUser{}, fmt.Errorf("%w: unknown user", model.ErrInvalidCredential)
	}
	if err != nil {
		return model.LegacyUser{}, fmt.Errorf("finding legacy user: %w", err)
	}
	if !Compare(password, u.HashedPassword) {
		return model.LegacyUser{}, fmt.Errorf("%w: wrong password", model.ErrInvalidCredential)
	}
	return u, nil
}

// Compare reports whether plaintext matches a bcrypt hash.
func Compare(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
