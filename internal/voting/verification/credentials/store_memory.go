// Package credentials stores members' registered WebAuthn credentials.
package credentials

import (
	"bytes"
	"context"
	"sync"

	"github.com/go-webauthn/webauthn/webauthn"

	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	creds map[id.MemberID][]webauthn.Credential
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{creds: make(map[id.MemberID][]webauthn.Credential)}
}

func (s *InMemoryStore) List(_ context.Context, memberID id.MemberID) ([]webauthn.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]webauthn.Credential, len(s.creds[memberID]))
	copy(out, s.creds[memberID])
	return out, nil
}

// Save inserts cred or replaces the stored credential with the same ID.
// A credential ID registered to another member is a conflict.
func (s *InMemoryStore) Save(_ context.Context, memberID id.MemberID, cred webauthn.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for owner, list := range s.creds {
		for i := range list {
			if !bytes.Equal(list[i].ID, cred.ID) {
				continue
			}
			if owner != memberID {
				return sentinel.ErrConflict
			}
			list[i] = cred
			return nil
		}
	}
	s.creds[memberID] = append(s.creds[memberID], cred)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, memberID id.MemberID, credentialID []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.creds[memberID]
	for i := range list {
		if bytes.Equal(list[i].ID, credentialID) {
			s.creds[memberID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return sentinel.ErrNotFound
}
