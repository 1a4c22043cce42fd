// Package rbac implements the role-based evaluation engine: transitive role
// closure, deny-over-allow precedence and resource-scope matching.
package rbac

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/internal/storage"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// Evaluator answers authorization questions from the data model. It is
// stateless; callers layer caching on top.
type Evaluator struct {
	store    storage.Store
	maxDepth int
	logger   logger.Logger
}

func NewEvaluator(store storage.Store, maxDepth int, log logger.Logger) *Evaluator {
	if maxDepth <= 0 {
		maxDepth = models.MaxRoleDepth
	}
	return &Evaluator{store: store, maxDepth: maxDepth, logger: log}
}

// Evaluate runs the RBAC algorithm for one request. It returns an error only
// for storage failures; every policy outcome is expressed as a decision.
func (e *Evaluator) Evaluate(ctx context.Context, req *models.DecisionRequest) (*models.DecisionResult, error) {
	now := time.Now()

	user, err := e.store.Users().GetByExternalID(ctx, req.TenantID, req.Principal.ID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return deny(fmt.Sprintf("user not found: %s", req.Principal.ID)), nil
		}
		return nil, err
	}
	if user.Status != models.UserStatusActive {
		return deny(fmt.Sprintf("user inactive: %s", req.Principal.ID)), nil
	}

	grants, err := e.store.Roles().GrantsForUser(ctx, user.ID, now)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return deny("no roles: user has no active role assignments"), nil
	}

	roleByID, err := e.loadClosure(ctx, grants)
	if err != nil {
		return nil, err
	}

	closureIDs := make([]string, 0, len(roleByID))
	for id := range roleByID {
		closureIDs = append(closureIDs, id)
	}
	permsByRole, err := e.store.Roles().PermissionsByRole(ctx, closureIDs)
	if err != nil {
		return nil, err
	}

	// Permissions matching (resource type, action), grouped by effect, with
	// the roles that hold each.
	type holder struct {
		perm *models.Permission
		role *models.Role
	}
	var denies, allows []holder
	for roleID, perms := range permsByRole {
		role := roleByID[roleID]
		if role == nil {
			continue
		}
		for _, p := range perms {
			if p.ResourceType != req.Resource.Type || p.Action != req.Action {
				continue
			}
			h := holder{perm: p, role: role}
			if p.Effect == models.EffectDeny {
				denies = append(denies, h)
			} else {
				allows = append(allows, h)
			}
		}
	}

	if len(denies) > 0 {
		sort.Slice(denies, func(i, j int) bool { return denies[i].perm.Name < denies[j].perm.Name })
		return deny(fmt.Sprintf("denied: %s", denies[0].perm.Name)), nil
	}
	if len(allows) == 0 {
		return deny(fmt.Sprintf("lacks permission: %s:%s", req.Resource.Type, req.Action)), nil
	}

	// An allow permission counts only when some grant whose role closure
	// contains the holding role is scoped to the requested resource.
	closureOf := e.grantClosures(grants, roleByID)

	type match struct {
		role *models.Role
		perm *models.Permission
	}
	var matches []match
	for _, h := range allows {
		for _, g := range grants {
			if _, ok := closureOf[g.ID][h.role.ID]; !ok {
				continue
			}
			if g.ScopeMatches(req.Resource.Type, req.Resource.ID) {
				matches = append(matches, match{role: h.role, perm: h.perm})
				break
			}
		}
	}
	if len(matches) == 0 {
		return deny(fmt.Sprintf("role not scoped to resource: %s/%s", req.Resource.Type, req.Resource.ID)), nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].role.Name != matches[j].role.Name {
			return matches[i].role.Name < matches[j].role.Name
		}
		return matches[i].perm.Name < matches[j].perm.Name
	})

	roleNames := make([]string, 0, len(matches))
	permNames := make([]string, 0, len(matches))
	seenRole := map[string]bool{}
	seenPerm := map[string]bool{}
	for _, m := range matches {
		if !seenRole[m.role.Name] {
			seenRole[m.role.Name] = true
			roleNames = append(roleNames, m.role.Name)
		}
		if !seenPerm[m.perm.Name] {
			seenPerm[m.perm.Name] = true
			permNames = append(permNames, m.perm.Name)
		}
	}

	return &models.DecisionResult{
		Decision:                models.DecisionAllow,
		Reason:                  fmt.Sprintf("%s: %s", matches[0].role.Name, matches[0].perm.Name),
		ContributingRoles:       roleNames,
		ContributingPermissions: permNames,
	}, nil
}

// loadClosure loads every directly granted role plus all ancestors, bounded
// by maxDepth and cycle-safe via the visited map.
func (e *Evaluator) loadClosure(ctx context.Context, grants []*models.UserRole) (map[string]*models.Role, error) {
	visited := make(map[string]*models.Role)

	frontier := make([]string, 0, len(grants))
	seen := make(map[string]bool, len(grants))
	for _, g := range grants {
		if !seen[g.RoleID] {
			seen[g.RoleID] = true
			frontier = append(frontier, g.RoleID)
		}
	}

	for depth := 0; depth <= e.maxDepth && len(frontier) > 0; depth++ {
		roles, err := e.store.Roles().GetByIDs(ctx, frontier)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, r := range roles {
			visited[r.ID] = r
			if r.ParentID != "" && visited[r.ParentID] == nil && !seen[r.ParentID] {
				seen[r.ParentID] = true
				next = append(next, r.ParentID)
			}
		}
		frontier = next
	}
	if len(frontier) > 0 {
		e.logger.Warn("role hierarchy truncated at max depth", "max_depth", e.maxDepth)
	}
	return visited, nil
}

// grantClosures maps each grant to the set of role ids it reaches: its role
// plus ancestors.
func (e *Evaluator) grantClosures(grants []*models.UserRole, roleByID map[string]*models.Role) map[string]map[string]struct{} {
	result := make(map[string]map[string]struct{}, len(grants))
	for _, g := range grants {
		set := make(map[string]struct{})
		id := g.RoleID
		for steps := 0; id != "" && steps <= e.maxDepth; steps++ {
			if _, ok := set[id]; ok {
				break // cycle guard
			}
			role := roleByID[id]
			if role == nil {
				break
			}
			set[id] = struct{}{}
			id = role.ParentID
		}
		result[g.ID] = set
	}
	return result
}

func deny(reason string) *models.DecisionResult {
	return &models.DecisionResult{Decision: models.DecisionDeny, Reason: reason}
}
