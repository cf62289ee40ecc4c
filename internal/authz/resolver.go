package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultResolutionTTL bounds how long a cached resolution may be served
// without a repository round-trip.
const DefaultResolutionTTL = 5 * time.Minute

// CacheMetrics observes resolver cache behaviour.
type CacheMetrics interface {
	CacheLookup(hit bool)
}

// ResolverConfig collects the resolver's collaborators.
type ResolverConfig struct {
	Assignments AssignmentRepository
	Roles       RoleRepository
	Grants      PermissionRepository
	Cache       ResolutionCache
	TTL         time.Duration
	Logger      *slog.Logger
	Metrics     CacheMetrics
	Clock       func() time.Time
}

// Resolver computes effective role and permission sets for a user, with a
// time-bounded cache in front of the repositories.
type Resolver struct {
	assignments AssignmentRepository
	roles       RoleRepository
	grants      PermissionRepository
	cache       ResolutionCache
	ttl         time.Duration
	logger      *slog.Logger
	metrics     CacheMetrics
	now         func() time.Time
	group       singleflight.Group

	// Invalidation generations. A fetch only writes its result to the
	// cache when the generation it started under is still current, so a
	// mutation landing mid-fetch cannot be overwritten by the stale
	// snapshot.
	genMu     sync.Mutex
	globalGen uint64
	userGen   map[int64]uint64
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultResolutionTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{
		assignments: cfg.Assignments,
		roles:       cfg.Roles,
		grants:      cfg.Grants,
		cache:       cache,
		ttl:         ttl,
		logger:      logger,
		metrics:     cfg.Metrics,
		now:         clock,
		userGen:     make(map[int64]uint64),
	}
}

// TTL returns the configured cache lifetime.
func (r *Resolver) TTL() time.Duration {
	return r.ttl
}

// Resolve returns the effective resolution for userID, serving from cache
// when a fresh entry exists. Repository failures surface as
// ErrResolutionUnavailable; callers must treat that as a deny, never as an
// empty permission set.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (Resolution, error) {
	if userID <= 0 {
		return Resolution{}, fmt.Errorf("%w: invalid user id %d", ErrResolutionUnavailable, userID)
	}

	cached, err := r.cache.Get(ctx, userID)
	if err != nil {
		r.logger.Warn("resolution cache read", slog.Int64("user_id", userID), slog.Any("error", err))
	} else if cached != nil {
		r.observe(true)
		return *cached, nil
	}
	r.observe(false)

	// Concurrent misses for the same user share one repository fetch. The
	// flight key carries the invalidation generation, so a caller arriving
	// after an administrative eviction never joins a pre-eviction fetch.
	gen := r.generation(userID)
	key := strconv.FormatInt(userID, 10) + ":" + strconv.FormatUint(gen, 10)
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.fetch(ctx, userID, gen)
	})
	if err != nil {
		return Resolution{}, err
	}
	return v.(Resolution), nil
}

func (r *Resolver) fetch(ctx context.Context, userID int64, gen uint64) (Resolution, error) {
	now := r.now().UTC()

	assignments, err := r.assignments.ListActiveAssignments(ctx, userID)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: list assignments for user %d: %v", ErrResolutionUnavailable, userID, err)
	}

	seen := make(map[int64]struct{}, len(assignments))
	permSet := make(map[string]struct{})
	roles := make([]EffectiveRole, 0, len(assignments))

	for _, assignment := range assignments {
		if !assignment.EffectiveAt(now) {
			continue
		}
		if _, ok := seen[assignment.RoleID]; ok {
			continue
		}
		seen[assignment.RoleID] = struct{}{}

		role, err := r.roles.Get(ctx, assignment.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Dangling assignment; contributes nothing.
				continue
			}
			return Resolution{}, fmt.Errorf("%w: load role %d: %v", ErrResolutionUnavailable, assignment.RoleID, err)
		}
		if !role.IsActive {
			continue
		}
		roles = append(roles, EffectiveRole{ID: role.ID, Name: role.Name, Level: role.Level})

		grants, err := r.grants.ListGrantsForRole(ctx, role.ID)
		if err != nil {
			return Resolution{}, fmt.Errorf("%w: list grants for role %d: %v", ErrResolutionUnavailable, role.ID, err)
		}
		for _, grant := range grants {
			if !grant.EffectiveAt(now) {
				continue
			}
			name := grant.PermissionName
			if name == "" && grant.Resource != "" {
				name = PermissionName(grant.Resource, grant.Action)
			}
			if name == "" {
				continue
			}
			permSet[normalize(name)] = struct{}{}
		}
	}

	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level < roles[j].Level
		}
		return roles[i].Name < roles[j].Name
	})
	perms := make([]string, 0, len(permSet))
	for name := range permSet {
		perms = append(perms, name)
	}
	sort.Strings(perms)

	res := Resolution{UserID: userID, Roles: roles, Permissions: perms, ResolvedAt: now}
	// An invalidation may have landed while the repositories were being
	// read; caching this snapshot would resurrect the pre-mutation set for
	// a full TTL.
	if r.generation(userID) == gen {
		if err := r.cache.Set(ctx, userID, res, r.ttl); err != nil {
			r.logger.Warn("resolution cache write", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	return res, nil
}

func (r *Resolver) generation(userID int64) uint64 {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	return r.globalGen + r.userGen[userID]
}

// Invalidate evicts the cached resolution for one user. Administration calls
// this synchronously before returning, so the next Resolve is guaranteed a
// fresh fetch. The generation bump happens before the cache delete: a fetch
// already past its repository reads will then refuse to write, and it cannot
// slip a stale entry in behind the eviction.
func (r *Resolver) Invalidate(ctx context.Context, userID int64) error {
	r.genMu.Lock()
	r.userGen[userID]++
	r.genMu.Unlock()
	if err := r.cache.Delete(ctx, userID); err != nil {
		return fmt.Errorf("authz: invalidate user %d: %w", userID, err)
	}
	return nil
}

// InvalidateAll evicts every cached resolution. Used for role-level changes
// that affect an unknown set of users.
func (r *Resolver) InvalidateAll(ctx context.Context) error {
	r.genMu.Lock()
	r.globalGen++
	r.genMu.Unlock()
	if err := r.cache.Flush(ctx); err != nil {
		return fmt.Errorf("authz: invalidate all: %w", err)
	}
	return nil
}

func (r *Resolver) observe(hit bool) {
	if r.metrics != nil {
		r.metrics.CacheLookup(hit)
	}
}
