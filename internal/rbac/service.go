package rbac

import "context"

// RepositoryPort abstracts role loading for the service.
type RepositoryPort interface {
	ActiveRolesForUser(ctx context.Context, userID int64) ([]Role, error)
}

// Service resolves administrative identities and their capability sets.
type Service struct {
	repo  RepositoryPort
	cache *Cache
}

// NewService constructs a Service. The cache may be nil, in which case every
// lookup hits the repository.
func NewService(repo RepositoryPort, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// IdentityFor computes the per-request identity for the given user id.
func (s *Service) IdentityFor(ctx context.Context, userID int64) (Identity, error) {
	loader := func(ctx context.Context) (Identity, error) {
		roles, err := s.repo.ActiveRolesForUser(ctx, userID)
		if err != nil {
			return Identity{}, err
		}
		return NewIdentity(userID, roles), nil
	}
	if s.cache == nil {
		return loader(ctx)
	}
	return s.cache.FetchIdentity(ctx, userID, loader)
}

// Invalidate drops all cached identities after a grant or revocation.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Bump(ctx)
}
