package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"unionvote/internal/voting/models"
	"unionvote/internal/voting/ports"
	"unionvote/pkg/platform/sentinel"
)

// PasswordOracle re-checks the member's password against the directory hash.
// bcrypt hashes and argon2id PHC strings are both accepted.
type PasswordOracle struct {
	directory ports.MemberDirectory
}

func NewPasswordOracle(directory ports.MemberDirectory) *PasswordOracle {
	return &PasswordOracle{directory: directory}
}

func (o *PasswordOracle) Verify(ctx context.Context, req models.VerificationRequest) (*models.VerificationResult, error) {
	member, err := o.directory.GetMember(ctx, req.MemberID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return rejected(models.VerificationPassword, "unknown_member"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load member: %w", err)
	}
	if member.PasswordHash == "" {
		return rejected(models.VerificationPassword, "no_password"), nil
	}
	// Hashing is CPU-bound and ignores ctx; bail out first if the caller
	// already gave up.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ok, err := checkPassword(req.Evidence, member.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return rejected(models.VerificationPassword, "mismatch"), nil
	}
	return &models.VerificationResult{Verified: true, Method: models.VerificationPassword}, nil
}

func rejected(method models.VerificationMethod, reason string) *models.VerificationResult {
	return &models.VerificationResult{Method: method, FailureReason: reason}
}

func checkPassword(password, hash string) (bool, error) {
	if strings.HasPrefix(hash, "$argon2id$") {
		return verifyArgon2id(password, hash)
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare bcrypt hash: %w", err)
	}
	return true, nil
}

const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// HashArgon2id encodes password as $argon2id$v=19$m=..,t=..,p=..$salt$hash.
func HashArgon2id(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2id(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false, errors.New("invalid argon2id hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, errors.New("unsupported argon2id version")
	}
	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, errors.New("invalid argon2id parameters")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errors.New("invalid argon2id salt")
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, errors.New("invalid argon2id hash")
	}
	got := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}
