package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TokenState captures access/refresh lifecycle flags derived from a
// decrypted credential.
type TokenState struct {
	ExpiresAt       *time.Time
	HasAccessToken  bool
	HasRefreshToken bool
	IsExpired       bool
	IsExpiringSoon  bool
}

// ResolveTokenState evaluates expiry flags against the refresh lead window.
func ResolveTokenState(now time.Time, token ActiveToken, leadWindow time.Duration) TokenState {
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	if leadWindow <= 0 {
		leadWindow = DefaultRefreshLeadWindow
	}

	state := TokenState{
		HasAccessToken:  strings.TrimSpace(token.AccessToken) != "",
		HasRefreshToken: strings.TrimSpace(token.RefreshToken) != "",
	}
	if token.ExpiresAt == nil {
		return state
	}
	expiresAt := token.ExpiresAt.UTC()
	state.ExpiresAt = &expiresAt
	if !expiresAt.After(now) {
		state.IsExpired = true
		return state
	}
	state.IsExpiringSoon = !expiresAt.After(now.Add(leadWindow))
	return state
}

// ShouldRefreshToken reports whether a refresh must run before the token is
// handed to a provider call.
func ShouldRefreshToken(state TokenState) bool {
	if !state.HasRefreshToken {
		return false
	}
	if !state.HasAccessToken {
		return true
	}
	return state.IsExpired || state.IsExpiringSoon
}

type ConnectInput struct {
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	IPAddress    string
}

// Connect persists a freshly authorized credential, encrypting it at rest.
// Called from the OAuth callback after the code exchange.
func (s *Service) Connect(ctx context.Context, in ConnectInput) (Connection, error) {
	if s == nil {
		return Connection{}, fmt.Errorf("core: service is nil")
	}
	if err := validateUserProvider(in.UserID, in.Provider); err != nil {
		return Connection{}, s.mapError(NewValidationError(err.Error()))
	}
	if strings.TrimSpace(in.AccessToken) == "" {
		return Connection{}, s.mapError(NewValidationError("core: access token is required"))
	}
	if _, err := s.resolveProvider(in.Provider); err != nil {
		return Connection{}, s.mapError(err)
	}

	credential, err := s.sealCredential(ctx, in.AccessToken, in.RefreshToken, in.ExpiresAt)
	if err != nil {
		return Connection{}, s.mapError(err)
	}

	connection, err := s.connectionStore.Upsert(ctx, UpsertConnectionInput{
		UserID:     strings.TrimSpace(in.UserID),
		Provider:   strings.TrimSpace(in.Provider),
		Credential: credential,
		Status:     ConnectionStatusActive,
	})
	if err != nil {
		return Connection{}, s.mapError(err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.InvalidateProviders(ctx, connection.UserID); cacheErr != nil {
			s.logWarn("provider list cache invalidation failed", "user_id", connection.UserID, "error", cacheErr)
		}
	}
	s.auditRecorder().LogConnection(ctx, connection.UserID, connection.Provider, "connected", map[string]any{
		"ip_address": strings.TrimSpace(in.IPAddress),
	})
	return connection, nil
}

// GetValidToken returns a currently valid access token for the connection,
// refreshing through the provider adapter when expiry is inside the lead
// window. Two callers refreshing concurrently is tolerated; the later
// persisted credential wins.
func (s *Service) GetValidToken(ctx context.Context, userID string, provider string) (ActiveToken, error) {
	if s == nil {
		return ActiveToken{}, fmt.Errorf("core: service is nil")
	}
	if err := validateUserProvider(userID, provider); err != nil {
		return ActiveToken{}, s.mapError(NewValidationError(err.Error()))
	}

	connection, err := s.connectionStore.Get(ctx, strings.TrimSpace(userID), strings.TrimSpace(provider))
	if err != nil {
		return ActiveToken{}, s.mapError(err)
	}
	if connection.Status != ConnectionStatusActive {
		return ActiveToken{}, s.mapError(NewAuthExpiredError(
			fmt.Sprintf("core: connection for provider %s is %s; reconnect required", connection.Provider, connection.Status),
		))
	}

	stored, err := s.connectionStore.GetCredential(ctx, connection.ID)
	if err != nil {
		return ActiveToken{}, s.mapError(err)
	}
	token, err := s.openCredential(ctx, connection, stored)
	if err != nil {
		return ActiveToken{}, s.mapError(err)
	}

	state := ResolveTokenState(time.Now().UTC(), token, s.config.Vault.RefreshLeadWindow)
	if !ShouldRefreshToken(state) {
		if state.IsExpired {
			return ActiveToken{}, s.failConnection(ctx, connection, NewAuthExpiredError(
				"core: access token expired and no refresh token is available",
			))
		}
		return token, nil
	}

	refreshed, err := s.refreshToken(ctx, connection, token)
	if err != nil {
		return ActiveToken{}, err
	}
	return refreshed, nil
}

// InvalidateConnection flips the connection to disconnected and clears the
// cached provider list for the user. The row is never hard-deleted.
func (s *Service) InvalidateConnection(ctx context.Context, userID string, provider string, reason string) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	if err := validateUserProvider(userID, provider); err != nil {
		return s.mapError(NewValidationError(err.Error()))
	}
	connection, err := s.connectionStore.Get(ctx, strings.TrimSpace(userID), strings.TrimSpace(provider))
	if err != nil {
		return s.mapError(err)
	}
	if err := s.connectionStore.UpdateStatus(ctx, connection.ID, ConnectionStatusDisconnected, strings.TrimSpace(reason)); err != nil {
		return s.mapError(err)
	}
	if s.cache != nil {
		if cacheErr := s.cache.InvalidateProviders(ctx, connection.UserID); cacheErr != nil {
			s.logWarn("provider list cache invalidation failed", "user_id", connection.UserID, "error", cacheErr)
		}
	}
	s.auditRecorder().LogConnection(ctx, connection.UserID, connection.Provider, "disconnected", map[string]any{
		"reason": strings.TrimSpace(reason),
	})
	return nil
}

func (s *Service) refreshToken(ctx context.Context, connection Connection, token ActiveToken) (ActiveToken, error) {
	adapter, err := s.resolveProvider(connection.Provider)
	if err != nil {
		return ActiveToken{}, s.mapError(err)
	}

	var result RefreshedToken
	err = Retry(ctx, s.retryPolicy, func(ctx context.Context) error {
		return s.governedCall(ctx, connection.Provider, OperationClassAPI, func(ctx context.Context) error {
			refreshed, refreshErr := adapter.RefreshAccessToken(ctx, token.RefreshToken)
			if refreshErr != nil {
				return refreshErr
			}
			result = refreshed
			return nil
		})
	})
	if err != nil {
		if IsAuthError(err) {
			return ActiveToken{}, s.failConnection(ctx, connection, err)
		}
		return ActiveToken{}, s.mapError(err)
	}

	next := ActiveToken{
		UserID:       connection.UserID,
		Provider:     connection.Provider,
		AccessToken:  strings.TrimSpace(result.AccessToken),
		RefreshToken: strings.TrimSpace(result.RefreshToken),
		ExpiresAt:    cloneTimePointer(result.ExpiresAt),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = token.RefreshToken
	}
	if next.AccessToken == "" {
		return ActiveToken{}, s.failConnection(ctx, connection, NewAuthExpiredError(
			"core: provider returned an empty access token on refresh",
		))
	}

	credential, err := s.sealCredential(ctx, next.AccessToken, next.RefreshToken, next.ExpiresAt)
	if err != nil {
		return ActiveToken{}, s.mapError(err)
	}
	if err := s.connectionStore.SaveCredential(ctx, connection.ID, credential); err != nil {
		return ActiveToken{}, s.mapError(err)
	}
	return next, nil
}

// failConnection records a terminal credential failure; callers surface the
// mapped error as "reconnect required".
func (s *Service) failConnection(ctx context.Context, connection Connection, cause error) error {
	reason := strings.TrimSpace(fmt.Sprint(cause))
	if err := s.connectionStore.UpdateStatus(ctx, connection.ID, ConnectionStatusError, reason); err != nil {
		s.logWarn("connection status update failed", "connection_id", connection.ID, "error", err)
	}
	s.auditRecorder().LogError(ctx, connection.UserID, "token.refresh", cause, map[string]any{
		"provider": connection.Provider,
	})
	return s.mapError(cause)
}

func (s *Service) sealCredential(ctx context.Context, accessToken string, refreshToken string, expiresAt *time.Time) (EncryptedCredential, error) {
	if s.secretProvider == nil {
		return EncryptedCredential{}, fmt.Errorf("core: secret provider is not configured")
	}
	accessCiphertext, err := s.secretProvider.Encrypt(ctx, []byte(strings.TrimSpace(accessToken)))
	if err != nil {
		return EncryptedCredential{}, fmt.Errorf("core: encrypt access token: %w", err)
	}
	credential := EncryptedCredential{
		AccessCiphertext: accessCiphertext,
		ExpiresAt:        cloneTimePointer(expiresAt),
	}
	if trimmed := strings.TrimSpace(refreshToken); trimmed != "" {
		refreshCiphertext, err := s.secretProvider.Encrypt(ctx, []byte(trimmed))
		if err != nil {
			return EncryptedCredential{}, fmt.Errorf("core: encrypt refresh token: %w", err)
		}
		credential.RefreshCiphertext = refreshCiphertext
	}
	return credential, nil
}

func (s *Service) openCredential(ctx context.Context, connection Connection, stored EncryptedCredential) (ActiveToken, error) {
	if s.secretProvider == nil {
		return ActiveToken{}, fmt.Errorf("core: secret provider is not configured")
	}
	if len(stored.AccessCiphertext) == 0 {
		return ActiveToken{}, NewAuthExpiredError("core: connection has no stored credential")
	}
	accessToken, err := s.secretProvider.Decrypt(ctx, stored.AccessCiphertext)
	if err != nil {
		return ActiveToken{}, fmt.Errorf("core: decrypt access token: %w", err)
	}
	token := ActiveToken{
		UserID:      connection.UserID,
		Provider:    connection.Provider,
		AccessToken: string(accessToken),
		ExpiresAt:   cloneTimePointer(stored.ExpiresAt),
	}
	if len(stored.RefreshCiphertext) > 0 {
		refreshToken, err := s.secretProvider.Decrypt(ctx, stored.RefreshCiphertext)
		if err != nil {
			return ActiveToken{}, fmt.Errorf("core: decrypt refresh token: %w", err)
		}
		token.RefreshToken = string(refreshToken)
	}
	return token, nil
}
