package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type CreateShareInput struct {
	UserID    string
	GalleryID string
	// Password is optional; when set, resolution requires it.
	Password  string
	ExpiresAt *time.Time
}

// CreateShareLink mints an unguessable gallery share token. Passwords are
// stored as salted digests; the plaintext never persists.
func (s *Service) CreateShareLink(ctx context.Context, in CreateShareInput) (ShareLink, error) {
	if s == nil {
		return ShareLink{}, fmt.Errorf("core: service is nil")
	}
	if s.shareLinkStore == nil {
		return ShareLink{}, fmt.Errorf("core: share link store is not configured")
	}
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.GalleryID) == "" {
		return ShareLink{}, s.mapError(NewValidationError("core: user id and gallery id are required"))
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(time.Now().UTC()) {
		return ShareLink{}, s.mapError(NewValidationError("core: share expiry must be in the future"))
	}

	create := CreateShareLinkInput{
		GalleryID: strings.TrimSpace(in.GalleryID),
		Token:     uuid.NewString(),
		ExpiresAt: cloneTimePointer(in.ExpiresAt),
	}
	if password := strings.TrimSpace(in.Password); password != "" {
		salt, err := newShareSalt()
		if err != nil {
			return ShareLink{}, s.mapError(err)
		}
		create.PasswordSalt = salt
		create.PasswordHash = hashSharePassword(password, salt)
	}

	link, err := s.shareLinkStore.Create(ctx, create)
	if err != nil {
		return ShareLink{}, s.mapError(err)
	}
	s.auditRecorder().LogShareOperation(ctx, strings.TrimSpace(in.UserID), "share.create", link.ID, "success", map[string]any{
		"gallery_id":   link.GalleryID,
		"has_password": create.PasswordHash != "",
		"expires_at":   link.ExpiresAt,
	})
	return link, nil
}

// ResolveShareLink validates a share token for public gallery access. The
// same not-found error covers unknown, revoked, and expired tokens so a
// caller cannot probe which case applies.
func (s *Service) ResolveShareLink(ctx context.Context, token string, password string) (ShareLink, error) {
	if s == nil {
		return ShareLink{}, fmt.Errorf("core: service is nil")
	}
	if s.shareLinkStore == nil {
		return ShareLink{}, fmt.Errorf("core: share link store is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ShareLink{}, s.mapError(NewValidationError("core: share token is required"))
	}

	link, err := s.shareLinkStore.GetByToken(ctx, token)
	if err != nil {
		return ShareLink{}, s.mapError(err)
	}
	if link.RevokedAt != nil {
		return ShareLink{}, s.mapError(NewNotFoundError("core: share link not found"))
	}
	if link.ExpiresAt != nil && !link.ExpiresAt.After(time.Now().UTC()) {
		return ShareLink{}, s.mapError(NewNotFoundError("core: share link not found"))
	}
	if link.PasswordHash != "" {
		supplied := hashSharePassword(strings.TrimSpace(password), link.PasswordSalt)
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(link.PasswordHash)) != 1 {
			return ShareLink{}, s.mapError(NewAuthExpiredError("core: share password is incorrect"))
		}
	}
	return link, nil
}

// RevokeShareLink disables a share token immediately. Revocation is
// idempotent.
func (s *Service) RevokeShareLink(ctx context.Context, userID string, shareID string) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	if s.shareLinkStore == nil {
		return fmt.Errorf("core: share link store is not configured")
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(shareID) == "" {
		return s.mapError(NewValidationError("core: user id and share id are required"))
	}
	if err := s.shareLinkStore.Revoke(ctx, strings.TrimSpace(shareID), time.Now().UTC()); err != nil {
		return s.mapError(err)
	}
	s.auditRecorder().LogShareOperation(ctx, strings.TrimSpace(userID), "share.revoke", strings.TrimSpace(shareID), "success", nil)
	return nil
}

func newShareSalt() (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("core: salt generation failed: %w", err)
	}
	return hex.EncodeToString(salt), nil
}

func hashSharePassword(password string, salt string) string {
	digest := sha256.Sum256([]byte(salt + ":" + password))
	return hex.EncodeToString(digest[:])
}
