package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gallerio/go-storage/core"
)

// TokenEndpointConfig describes a provider's OAuth token endpoint for the
// refresh grant.
type TokenEndpointConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

type tokenEndpointPayload struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// RefreshAccessToken performs the refresh_token grant. An invalid_grant
// answer surfaces as an auth error so the vault marks the connection for
// reconnection instead of retrying.
func RefreshAccessToken(ctx context.Context, client Client, cfg TokenEndpointConfig, refreshToken string) (core.RefreshedToken, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.RefreshedToken{}, core.NewAuthExpiredError(
			fmt.Sprintf("providers: %s refresh requires a refresh token", client.providerID),
		)
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return core.RefreshedToken{}, fmt.Errorf("providers: %s token url is not configured", client.providerID)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", strings.TrimSpace(cfg.ClientID))
	if secret := strings.TrimSpace(cfg.ClientSecret); secret != "" {
		form.Set("client_secret", secret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSpace(cfg.TokenURL), strings.NewReader(form.Encode()))
	if err != nil {
		return core.RefreshedToken{}, fmt.Errorf("providers: build %s token request: %w", client.providerID, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := client.Do(req)
	if err != nil {
		return core.RefreshedToken{}, err
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes))
	if readErr != nil {
		return core.RefreshedToken{}, core.NewTransientError(
			fmt.Sprintf("providers: %s token response read failed", client.providerID), readErr,
		)
	}

	var payload tokenEndpointPayload
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil && response.StatusCode < 300 {
			return core.RefreshedToken{}, core.NewTransientError(
				fmt.Sprintf("providers: %s token response decode failed", client.providerID), err,
			)
		}
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		if payload.ErrorCode == "invalid_grant" {
			return core.RefreshedToken{}, core.NewAuthExpiredError(
				fmt.Sprintf("providers: %s refresh token is no longer valid", client.providerID),
			)
		}
		return core.RefreshedToken{}, NormalizeHTTPError(client.providerID, response.StatusCode, response.Header, body)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return core.RefreshedToken{}, core.NewAuthExpiredError(
			fmt.Sprintf("providers: %s token response is missing access_token", client.providerID),
		)
	}

	refreshed := core.RefreshedToken{
		AccessToken:  strings.TrimSpace(payload.AccessToken),
		RefreshToken: strings.TrimSpace(payload.RefreshToken),
	}
	if payload.ExpiresIn > 0 {
		expiresAt := time.Now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second)
		refreshed.ExpiresAt = &expiresAt
	}
	return refreshed, nil
}
