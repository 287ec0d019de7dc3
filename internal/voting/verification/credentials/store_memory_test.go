package credentials

import (
	"context"
	"testing"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/sentinel"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	ana, ben := id.NewMemberID(), id.NewMemberID()

	require.NoError(t, s.Save(ctx, ana, webauthn.Credential{ID: []byte("k1")}))
	require.NoError(t, s.Save(ctx, ana, webauthn.Credential{ID: []byte("k2")}))

	updated := webauthn.Credential{ID: []byte("k1"), Authenticator: webauthn.Authenticator{SignCount: 7}}
	require.NoError(t, s.Save(ctx, ana, updated))

	creds, err := s.List(ctx, ana)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, uint32(7), creds[0].Authenticator.SignCount)

	assert.ErrorIs(t, s.Save(ctx, ben, webauthn.Credential{ID: []byte("k1")}), sentinel.ErrConflict)

	require.NoError(t, s.Delete(ctx, ana, []byte("k2")))
	assert.ErrorIs(t, s.Delete(ctx, ana, []byte("k2")), sentinel.ErrNotFound)
	creds, _ = s.List(ctx, ana)
	assert.Len(t, creds, 1)
}
