package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxNameLength bounds player names in runes.
const MaxNameLength = 32

// Player is a scoreboard identity. LinkedLegacyUserID is set at most once.
type Player struct {
	ID                 string
	Name               string
	LinkedLegacyUserID string
	CreatedAt          time.Time
}

// Linked reports whether a legacy account has been attached.
func (p Player) Linked() bool { return p.LinkedLegacyUserID != "" }

// ValidateName checks a registration name. Names are matched exactly and
// case-sensitively; no normalization is applied.
func ValidateName(name string) error {
	n := utf8.RuneCountInString(name)
	switch {
	case n == 0:
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case n > MaxNameLength:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxNameLength)
	case strings.TrimSpace(name) != name:
		return fmt.Errorf("%w: surrounding whitespace", ErrInvalidName)
	}
	return nil
}

// LegacyUser is an account from the pre-migration system. Read-only here.
type LegacyUser struct {
	ID             string
	Username       string
	Email          string
	HashedPassword string
}

// IdentityClaim is what a resolved token asserts about its bearer. Either
// field may be empty, but not both.
type IdentityClaim struct {
	PlayerID     string
	LegacyUserID string
}

// CredentialProof is presented when linking. Exactly one of Token or the
// username/password pair is used; APIKey gates the password path.
type CredentialProof struct {
	Token           string
	UsernameOrEmail string
	Password        string
	APIKey          string
}

// UsesPassword reports whether the proof carries legacy credentials.
func (c CredentialProof) UsesPassword() bool {
	return c.Token == "" && (c.UsernameOrEmail != "" || c.Password != "")
}
