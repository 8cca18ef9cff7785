package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/avatarmem/memory"
)

func TestResolveScope(t *testing.T) {
	tests := []struct {
		name                  string
		owner, avatar, token  string
		wantErr               bool
		wantRelationship      string
		wantOwner, wantAvatar string
	}{
		{name: "owner speaking", owner: "u1", avatar: "a1", wantRelationship: "owner", wantOwner: "u1", wantAvatar: "a1"},
		{name: "visitor", owner: "u1", avatar: "a1", token: "tok-9", wantRelationship: "tok-9", wantOwner: "u1", wantAvatar: "a1"},
		{name: "blank token is owner", owner: "u1", avatar: "a1", token: "   ", wantRelationship: "owner", wantOwner: "u1", wantAvatar: "a1"},
		{name: "trims ids", owner: " u1 ", avatar: "\ta1\n", token: " t ", wantRelationship: "t", wantOwner: "u1", wantAvatar: "a1"},
		{name: "missing owner", avatar: "a1", wantErr: true},
		{name: "missing avatar", owner: "u1", token: "t", wantErr: true},
		{name: "reserved token", owner: "u1", avatar: "a1", token: "owner", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := memory.ResolveScope(tt.owner, tt.avatar, tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, memory.ErrInvalidScope)
				assert.Error(t, k.Validate())
				return
			}
			require.NoError(t, err)
			assert.NoError(t, k.Validate())
			assert.Equal(t, tt.wantOwner, k.OwnerUserID())
			assert.Equal(t, tt.wantAvatar, k.AvatarID())
			assert.Equal(t, tt.wantRelationship, k.Relationship())
			assert.Equal(t, tt.wantRelationship == memory.OwnerRelationship, k.IsOwner())
		})
	}
}

func TestScopeKeysAreDistinct(t *testing.T) {
	owner := mustScope(t, "u1", "a1", "")
	visitor := mustScope(t, "u1", "a1", "tok")
	otherAvatar := mustScope(t, "u1", "a2", "tok")

	assert.NotEqual(t, owner, visitor)
	assert.NotEqual(t, visitor, otherAvatar)
	assert.Equal(t, visitor, mustScope(t, "u1", "a1", "tok"), "resolution is deterministic")
	assert.Equal(t, "u1/a1/tok", visitor.String())

	var zero memory.ScopeKey
	assert.ErrorIs(t, zero.Validate(), memory.ErrInvalidScope)
}
