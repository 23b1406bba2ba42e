package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/okian/scoreboard/internal/adapters/storage"
	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
	"github.com/okian/scoreboard/pkg/metrics"
)

// RegisterPlayer creates a new identity. Names are unique and matched
// exactly.
func (s *Service) RegisterPlayer(ctx context.Context, name string) (model.Player, error) {
	if err := model.ValidateName(name); err != nil {
		return model.Player{}, err
	}
	p, err := s.store.CreatePlayer(ctx, model.Player{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: s.clock(),
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return model.Player{}, fmt.Errorf("%w: %q", model.ErrDuplicateName, name)
	}
	if err != nil {
		return model.Player{}, fmt.Errorf("creating player: %w", err)
	}
	metrics.RecordPlayerRegistered()
	s.logger.Info(ctx, "player registered", logger.String("player_id", p.ID), logger.String("name", p.Name))
	return p, nil
}

// GetPlayer looks a player up by name. An unknown name is not an error:
// it returns nil.
func (s *Service) GetPlayer(ctx context.Context, name string) (*model.Player, error) {
	p, err := s.store.FindPlayerByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil //nolint:nilnil // absence is a valid answer
	}
	if err != nil {
		return nil, fmt.Errorf("finding player: %w", err)
	}
	return &p, nil
}

// LinkPlayer attaches a legacy account to a player, permanently. The proof
// is either a token naming the legacy account or the account's username
// and password behind the legacy API key. With a token, playerID may be
// empty and is taken from the token.
func (s *Service) LinkPlayer(ctx context.Context, playerID string, proof model.CredentialProof) (model.Player, error) {
	p, err := s.linkPlayer(ctx, playerID, proof)
	metrics.RecordLinkOutcome(linkOutcome(err))
	return p, err
}

func (s *Service) linkPlayer(ctx context.Context, playerID string, proof model.CredentialProof) (model.Player, error) {
	var legacyUserID string
	if proof.UsesPassword() {
		if err := s.legacy.CheckAPIKey(proof.APIKey); err != nil {
			return model.Player{}, err
		}
		u, err := s.legacy.Verify(ctx, proof.UsernameOrEmail, proof.Password)
		if err != nil {
			return model.Player{}, err
		}
		legacyUserID = u.ID
	} else {
		claim, err := s.tokens.Resolve(ctx, proof.Token)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return model.Player{}, ctxErr
			}
			return model.Player{}, fmt.Errorf("%w: %w", model.ErrInvalidCredential, err)
		}
		if claim.LegacyUserID == "" {
			return model.Player{}, fmt.Errorf("%w: token carries no legacy account", model.ErrInvalidCredential)
		}
		switch {
		case playerID == "":
			playerID = claim.PlayerID
		case claim.PlayerID != "" && claim.PlayerID != playerID:
			return model.Player{}, fmt.Errorf("%w: token was issued to another player", model.ErrInvalidCredential)
		}
		legacyUserID = claim.LegacyUserID
	}
	if playerID == "" {
		return model.Player{}, fmt.Errorf("%w: player id required", model.ErrNotFound)
	}
	if err := ctx.Err(); err != nil {
		return model.Player{}, err
	}

	p, err := s.store.LinkLegacyAccount(ctx, playerID, legacyUserID)
	switch {
	case errors.Is(err, storage.ErrAlreadyLinked):
		return model.Player{}, fmt.Errorf("%w: player %s", model.ErrAlreadyLinked, playerID)
	case errors.Is(err, storage.ErrLinkConflict):
		return model.Player{}, fmt.Errorf("%w: legacy account %s", model.ErrConflict, legacyUserID)
	case errors.Is(err, storage.ErrNotFound):
		return model.Player{}, fmt.Errorf("%w: player %s", model.ErrNotFound, playerID)
	case err != nil:
		return model.Player{}, fmt.Errorf("linking player: %w", err)
	}
	s.logger.Info(ctx, "legacy account linked",
		logger.String("player_id", p.ID),
		logger.String("legacy_user_id", legacyUserID),
	)
	return p, nil
}

func linkOutcome(err error) string {
	switch {
	case err == nil:
		return "linked"
	case errors.Is(err, model.ErrAlreadyLinked):
		return "already_linked"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, model.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, model.ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// CheckLegacyUser verifies legacy credentials behind the API key gate. A
// bad key fails with model.ErrBadAPIKey; an unknown user or wrong password
// with model.ErrInvalidCredential.
func (s *Service) CheckLegacyUser(ctx context.Context, usernameOrEmail, password, apiKey string) (model.LegacyUser, error) {
	if err := s.legacy.CheckAPIKey(apiKey); err != nil {
		metrics.RecordLegacyCheck("bad_api_key")
		return model.LegacyUser{}, err
	}
	u, err := s.legacy.Verify(ctx, usernameOrEmail, password)
	if err != nil {
		metrics.RecordLegacyCheck("rejected")
		return model.LegacyUser{}, err
	}
	metrics.RecordLegacyCheck("ok")
	return u, nil
}
