package auth

import (
	"context"
	"errors"
	"fmt"

	"lingkod.org/internal/portal"
)

// Directory resolves the profile and role attached to an identity. Absence
// or mismatch is treated as "unauthenticated" by callers.
type Directory interface {
	Resolve(ctx context.Context, identity string) (portal.Principal, error)
}

// StoreDirectory resolves principals from the account store and the portal
// profile table. Officials are described entirely by their account record;
// residents must also have a profile.
type StoreDirectory struct {
	Accounts AccountStore
	Profiles portal.Store
}

func (d StoreDirectory) Resolve(ctx context.Context, identity string) (portal.Principal, error) {
	account, err := d.Accounts.Find(ctx, identity)
	if err != nil {
		return portal.Principal{}, err
	}
	switch account.Role {
	case portal.RoleOfficial:
		return portal.Principal{
			Identity: identity,
			Role:     portal.RoleOfficial,
			Official: &portal.Official{
				ID:    account.ID,
				Name:  account.Name,
				Email: account.Email,
			},
		}, nil
	case portal.RoleResident:
		profile, err := d.Profiles.Profiles(ctx).FindByIdentity(ctx, identity)
		if err != nil {
			if errors.Is(err, portal.ErrNotFound) {
				return portal.Principal{}, ErrNotFound
			}
			return portal.Principal{}, err
		}
		return portal.Principal{
			Identity: identity,
			Role:     portal.RoleResident,
			Resident: profile,
		}, nil
	default:
		return portal.Principal{}, fmt.Errorf("%w: unknown role %q", ErrNotFound, account.Role)
	}
}

var _ Directory = StoreDirectory{}
