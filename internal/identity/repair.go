package identity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ProfileRepairer recreates profile rows for identities that lost theirs,
// typically because the profile upsert after account creation failed.
type ProfileRepairer struct {
	provider *LocalProvider
	profiles *ProfileStore
}

// NewProfileRepairer constructs a ProfileRepairer.
func NewProfileRepairer(provider *LocalProvider, profiles *ProfileStore) (*ProfileRepairer, error) {
	if provider == nil || profiles == nil {
		return nil, errors.New("profile repairer: provider and profiles are required")
	}
	return &ProfileRepairer{provider: provider, profiles: profiles}, nil
}

// RepairMissingProfiles upserts up to limit missing profiles and returns how
// many were written.
func (r *ProfileRepairer) RepairMissingProfiles(ctx context.Context, limit int) (int, error) {
	idents, err := r.provider.MissingProfiles(ctx, limit)
	if err != nil {
		return 0, err
	}

	var (
		repaired int
		errs     error
	)
	for i := range idents {
		if err := r.profiles.Upsert(ctx, ProfileFromIdentity(&idents[i])); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("identity %s: %w", idents[i].ID, err))
			continue
		}
		repaired++
	}
	return repaired, errs
}
