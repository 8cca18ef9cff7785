package memory

import (
	"log/slog"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// OwnerRelationship is the relationship component of the owner's own scope.
// Visitors are identified by their relationship token instead.
const OwnerRelationship = "owner"

// ScopeKey identifies the isolation boundary of a set of fragments:
// (owner user, avatar, relationship token or "owner").
//
// The zero value is invalid. Keys are only produced by ResolveScope, so
// every key seen by a Store has already been validated.
type ScopeKey struct {
	owner        string
	avatar       string
	relationship string
}

// ResolveScope derives the ScopeKey for a turn. An empty relationship token
// selects the owner's scope.
func ResolveScope(ownerUserID, avatarID, relationshipToken string) (ScopeKey, error) {
	owner := strings.TrimSpace(ownerUserID)
	avatar := strings.TrimSpace(avatarID)
	token := strings.TrimSpace(relationshipToken)

	if owner == "" {
		return ScopeKey{}, goerr.Wrap(ErrInvalidScope, "owner user id is empty")
	}
	if avatar == "" {
		return ScopeKey{}, goerr.Wrap(ErrInvalidScope, "avatar id is empty", goerr.V("owner", owner))
	}
	if token == OwnerRelationship {
		// A visitor token spelled "owner" would read the owner's fragments.
		return ScopeKey{}, goerr.Wrap(ErrInvalidScope, "relationship token is reserved",
			goerr.V("owner", owner), goerr.V("avatar", avatar))
	}
	if token == "" {
		token = OwnerRelationship
	}

	return ScopeKey{owner: owner, avatar: avatar, relationship: token}, nil
}

// OwnerScope is shorthand for ResolveScope with no relationship token.
func OwnerScope(ownerUserID, avatarID string) (ScopeKey, error) {
	return ResolveScope(ownerUserID, avatarID, "")
}

func (k ScopeKey) OwnerUserID() string  { return k.owner }
func (k ScopeKey) AvatarID() string     { return k.avatar }
func (k ScopeKey) Relationship() string { return k.relationship }

// IsOwner reports whether the key addresses the owner's own fragments.
func (k ScopeKey) IsOwner() bool { return k.relationship == OwnerRelationship }

// Validate rejects keys that did not come from ResolveScope.
func (k ScopeKey) Validate() error {
	if k.owner == "" || k.avatar == "" || k.relationship == "" {
		return goerr.Wrap(ErrInvalidScope, "scope key is not resolved")
	}
	return nil
}

func (k ScopeKey) String() string {
	return k.owner + "/" + k.avatar + "/" + k.relationship
}

// LogValue implements slog.LogValuer.
func (k ScopeKey) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("owner", k.owner),
		slog.String("avatar", k.avatar),
		slog.String("relationship", k.relationship),
	)
}

// key is an unambiguous encoding used for cache keys and hashing.
func (k ScopeKey) key() string {
	return k.owner + "\x00" + k.avatar + "\x00" + k.relationship
}
