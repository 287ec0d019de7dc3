package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"unionvote/internal/voting/models"
	"unionvote/internal/voting/ports"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
	"unionvote/pkg/platform/sentinel"
)

// CredentialStore persists registered passkeys. See package credentials.
type CredentialStore interface {
	List(ctx context.Context, memberID id.MemberID) ([]webauthn.Credential, error)
	Save(ctx context.Context, memberID id.MemberID, cred webauthn.Credential) error
}

type PasskeyConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	// ChallengeTTL bounds how long a begun ceremony may be finished.
	ChallengeTTL time.Duration
}

// PasskeyOracle treats a user-verified WebAuthn assertion as biometric
// proof: the authenticator matched the member's fingerprint or face
// locally and signed the challenge. Evidence is the assertion JSON
// produced by navigator.credentials.get.
type PasskeyOracle struct {
	webauthn  *webauthn.WebAuthn
	directory ports.MemberDirectory
	store     CredentialStore
	sessions  *sessionStore
}

func NewPasskeyOracle(cfg PasskeyConfig, directory ports.MemberDirectory, store CredentialStore) (*PasskeyOracle, error) {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	w, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return &PasskeyOracle{
		webauthn:  w,
		directory: directory,
		store:     store,
		sessions:  newSessionStore(cfg.ChallengeTTL),
	}, nil
}

type passkeyUser struct {
	id    id.MemberID
	name  string
	creds []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte {
	b := uuid.UUID(u.id)
	return b[:]
}
func (u *passkeyUser) WebAuthnName() string                       { return u.id.String() }
func (u *passkeyUser) WebAuthnDisplayName() string                { return u.name }
func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func (o *PasskeyOracle) user(ctx context.Context, memberID id.MemberID) (*passkeyUser, error) {
	member, err := o.directory.GetMember(ctx, memberID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "member not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "member directory unavailable")
	}
	creds, err := o.store.List(ctx, memberID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load passkeys")
	}
	name := member.Name
	if name == "" {
		name = memberID.String()
	}
	return &passkeyUser{id: memberID, name: name, creds: creds}, nil
}

// BeginRegistration starts enrolling a new passkey. The returned options
// are handed to navigator.credentials.create.
func (o *PasskeyOracle) BeginRegistration(ctx context.Context, memberID id.MemberID) (*protocol.CredentialCreation, error) {
	u, err := o.user(ctx, memberID)
	if err != nil {
		return nil, err
	}
	exclude := make([]protocol.CredentialDescriptor, 0, len(u.creds))
	for _, c := range u.creds {
		exclude = append(exclude, c.Descriptor())
	}
	creation, session, err := o.webauthn.BeginRegistration(u,
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			UserVerification: protocol.VerificationRequired,
		}),
		webauthn.WithExclusions(exclude),
	)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to begin passkey registration")
	}
	o.sessions.put(registerKey(memberID), *session)
	return creation, nil
}

// FinishRegistration verifies the attestation in body and stores the new
// credential.
func (o *PasskeyOracle) FinishRegistration(ctx context.Context, memberID id.MemberID, body []byte) error {
	session, ok := o.sessions.take(registerKey(memberID))
	if !ok {
		return dErrors.New(dErrors.CodeBadRequest, "no passkey registration in progress")
	}
	u, err := o.user(ctx, memberID)
	if err != nil {
		return err
	}
	parsed, err := protocol.ParseCredentialCreationResponseBytes(body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed passkey attestation")
	}
	cred, err := o.webauthn.CreateCredential(u, session, parsed)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "passkey attestation rejected")
	}
	if err := o.store.Save(ctx, memberID, *cred); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "passkey already registered")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store passkey")
	}
	return nil
}

// BeginChallenge issues the assertion challenge a ballot's biometric
// evidence must answer. A new challenge replaces any outstanding one.
func (o *PasskeyOracle) BeginChallenge(ctx context.Context, memberID id.MemberID) (*protocol.CredentialAssertion, error) {
	u, err := o.user(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if len(u.creds) == 0 {
		return nil, dErrors.New(dErrors.CodeVerificationRequired, "no passkey registered")
	}
	assertion, session, err := o.webauthn.BeginLogin(u, webauthn.WithUserVerification(protocol.VerificationRequired))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to begin passkey challenge")
	}
	o.sessions.put(loginKey(memberID), *session)
	return assertion, nil
}

// Verify consumes the member's outstanding challenge. Any assertion
// problem is a rejection; only storage failures are errors.
func (o *PasskeyOracle) Verify(ctx context.Context, req models.VerificationRequest) (*models.VerificationResult, error) {
	session, ok := o.sessions.take(loginKey(req.MemberID))
	if !ok {
		return rejected(models.VerificationBiometric, "no_challenge"), nil
	}
	u, err := o.user(ctx, req.MemberID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return rejected(models.VerificationBiometric, "unknown_member"), nil
		}
		return nil, err
	}
	parsed, err := protocol.ParseCredentialRequestResponseBytes([]byte(req.Evidence))
	if err != nil {
		return rejected(models.VerificationBiometric, "malformed_assertion"), nil
	}
	cred, err := o.webauthn.ValidateLogin(u, session, parsed)
	if err != nil {
		return rejected(models.VerificationBiometric, "assertion_invalid"), nil
	}
	if !cred.Flags.UserVerified {
		return rejected(models.VerificationBiometric, "user_not_verified"), nil
	}
	if cred.Authenticator.CloneWarning {
		return rejected(models.VerificationBiometric, "clone_warning"), nil
	}
	if err := o.store.Save(ctx, req.MemberID, *cred); err != nil {
		return nil, fmt.Errorf("update passkey sign count: %w", err)
	}
	return &models.VerificationResult{Verified: true, Method: models.VerificationBiometric}, nil
}

func loginKey(memberID id.MemberID) string    { return "login:" + memberID.String() }
func registerKey(memberID id.MemberID) string { return "register:" + memberID.String() }

// sessionStore holds in-flight ceremonies. Entries are single use.
type sessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]sessionEntry
}

type sessionEntry struct {
	data    webauthn.SessionData
	expires time.Time
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{ttl: ttl, now: time.Now, entries: make(map[string]sessionEntry)}
}

func (s *sessionStore) put(key string, data webauthn.SessionData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = sessionEntry{data: data, expires: now.Add(s.ttl)}
}

func (s *sessionStore) take(key string) (webauthn.SessionData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return webauthn.SessionData{}, false
	}
	delete(s.entries, key)
	if s.now().After(e.expires) {
		return webauthn.SessionData{}, false
	}
	return e.data, true
}
