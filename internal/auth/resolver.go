package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/nfps-dev/nfp-bootloader/internal/cache"
	"github.com/nfps-dev/nfp-bootloader/internal/tokenloc"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

var ErrNoPrompter = errors.New("auth: value not cached and no prompter configured")

// Resolver applies the precedence chain explicit override → cache → prompt for each
// identity field of one token location. Overrides and prompt answers are written through
// to the cache so later boots find them.
type Resolver struct {
	Store     cache.Store
	Prompter  Prompter
	Location  tokenloc.Location
	Overrides tokenloc.Overrides

	// ValidateOwner checks prompted owner addresses. Optional.
	ValidateOwner func(string) error
}

// Owner resolves the token owner address.
func (r *Resolver) Owner(ctx context.Context) (string, error) {
	return r.resolve(ctx, r.Location.OwnerKey(), r.Overrides.Owner, Request{
		Field:    "owner",
		Label:    fmt.Sprintf("Owner address of token %s", r.Location.TokenID),
		Validate: r.ValidateOwner,
	})
}

// ViewingKey resolves the viewing key for the token.
func (r *Resolver) ViewingKey(ctx context.Context) (string, error) {
	return r.resolve(ctx, r.Location.ViewingKeyKey(), r.Overrides.ViewingKey, Request{
		Field:  "vk",
		Label:  fmt.Sprintf("Viewing key for token %s", r.Location.TokenID),
		Secret: true,
	})
}

// Resolve returns the cached permit if one exists, otherwise a viewing key credential.
func (r *Resolver) Resolve(ctx context.Context) (Credential, error) {
	permit, ok, err := cache.ReadJSON[Permit](ctx, r.Store, r.Location.PermitKey())
	if err != nil {
		return Credential{}, fmt.Errorf("auth: load permit: %w", err)
	}
	if ok {
		return FromPermit(permit), nil
	}

	owner, err := r.Owner(ctx)
	if err != nil {
		return Credential{}, err
	}
	vk, err := r.ViewingKey(ctx)
	if err != nil {
		return Credential{}, err
	}
	return FromViewingKey(vk, owner), nil
}

// SavePermit verifies p and caches it for this token location.
func (r *Resolver) SavePermit(ctx context.Context, p Permit) error {
	if err := VerifyPermit(p); err != nil {
		return err
	}
	if _, err := cache.WriteJSON(ctx, r.Store, r.Location.PermitKey(), p); err != nil {
		return fmt.Errorf("auth: save permit: %w", err)
	}
	return nil
}

// IssuePermit signs a permit for this token's contract and chain and caches it, so later
// boots query with it instead of a viewing key.
func (r *Resolver) IssuePermit(ctx context.Context, s Signer, name string, permissions []string) (Permit, error) {
	p, err := SignPermit(s, PermitParams{
		PermitName:    name,
		AllowedTokens: []string{r.Location.Contract},
		ChainID:       r.Location.ChainID,
		Permissions:   permissions,
	})
	if err != nil {
		return Permit{}, err
	}
	if err := r.SavePermit(ctx, p); err != nil {
		return Permit{}, err
	}
	return p, nil
}

// ForgetPermit drops the cached permit so the viewing key path is used again.
func (r *Resolver) ForgetPermit(ctx context.Context) error {
	return r.Store.Delete(ctx, r.Location.PermitKey())
}

func (r *Resolver) resolve(ctx context.Context, key string, override *string, req Request) (string, error) {
	if override != nil {
		if _, err := cache.WriteString(ctx, r.Store, key, *override); err != nil {
			return "", fmt.Errorf("auth: cache %s: %w", req.Field, err)
		}
		return *override, nil
	}

	v, ok, err := cache.ReadString(ctx, r.Store, key)
	if err != nil {
		return "", fmt.Errorf("auth: load %s: %w", req.Field, err)
	}
	if ok {
		return v, nil
	}

	if r.Prompter == nil {
		return "", fmt.Errorf("%w: %s", ErrNoPrompter, req.Field)
	}
	answer, err := r.Prompter.Prompt(ctx, req)
	if err != nil {
		return "", fmt.Errorf("auth: prompt %s: %w", req.Field, err)
	}

	// A dismissed prompt caches "" and is not asked again.
	if answer == "" {
		log.Warn("prompt dismissed, caching empty answer", "field", req.Field, "token", r.Location.String())
	}
	if _, err := cache.WriteString(ctx, r.Store, key, answer); err != nil {
		return "", fmt.Errorf("auth: cache %s: %w", req.Field, err)
	}
	return answer, nil
}
