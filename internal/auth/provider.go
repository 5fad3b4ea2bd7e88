package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/jun/drivebot/internal/model"
)

// Google's device-grant endpoints. The token endpoint comes from the
// oauth2.Config so tests can point everything at a local server.
const (
	DefaultDeviceCodeURL = "https://oauth2.googleapis.com/device/code"
	DefaultRevokeURL     = "https://oauth2.googleapis.com/revoke"
)

const requestTimeout = 30 * time.Second

// DeviceCodeGrant is the provider's response to a device-code request.
type DeviceCodeGrant struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// Provider talks to the OAuth2 device-grant endpoints: requesting device
// codes, polling the token endpoint, refreshing and revoking tokens.
type Provider struct {
	oauthConfig   *oauth2.Config
	deviceCodeURL string
	revokeURL     string
	httpClient    *http.Client
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithDeviceCodeURL overrides the device-code endpoint.
func WithDeviceCodeURL(u string) ProviderOption {
	return func(p *Provider) { p.deviceCodeURL = u }
}

// WithRevokeURL overrides the revocation endpoint.
func WithRevokeURL(u string) ProviderOption {
	return func(p *Provider) { p.revokeURL = u }
}

// WithHTTPClient overrides the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.httpClient = c }
}

// NewProvider creates a Provider. The oauthConfig supplies client id and
// secret, scopes, and the token endpoint used for polling and refresh.
func NewProvider(oauthConfig *oauth2.Config, opts ...ProviderOption) *Provider {
	p := &Provider{
		oauthConfig:   oauthConfig,
		deviceCodeURL: DefaultDeviceCodeURL,
		revokeURL:     DefaultRevokeURL,
		httpClient:    &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RequestDeviceCode asks the provider for a device code + user code pair
// covering the configured scopes.
func (p *Provider) RequestDeviceCode(ctx context.Context) (*DeviceCodeGrant, error) {
	form := url.Values{
		"client_id": {p.oauthConfig.ClientID},
		"scope":     {strings.Join(p.oauthConfig.Scopes, " ")},
	}

	body, status, err := p.postForm(ctx, p.deviceCodeURL, form)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: device code request failed: %s", ErrProviderUnavailable, providerErrorText(body))
	}

	var grant DeviceCodeGrant
	if err := json.Unmarshal(body, &grant); err != nil {
		return nil, fmt.Errorf("%w: malformed device code response: %v", ErrProviderUnavailable, err)
	}
	if grant.Interval < 1 {
		grant.Interval = 5
	}
	return &grant, nil
}

// PollToken polls the token endpoint once with the device code. It returns
// a Credential on success, or one of ErrAuthorizationPending, ErrSlowDown,
// ErrDeviceFlowExpired, ErrDeviceFlowDenied, ErrProviderUnavailable.
func (p *Provider) PollToken(ctx context.Context, deviceCode string) (*model.Credential, error) {
	form := url.Values{
		"client_id":     {p.oauthConfig.ClientID},
		"client_secret": {p.oauthConfig.ClientSecret},
		"device_code":   {deviceCode},
		"grant_type":    {"urn:ietf:params:oauth:grant-type:device_code"},
	}

	body, status, err := p.postForm(ctx, p.oauthConfig.Endpoint.TokenURL, form)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if status != http.StatusOK {
		var e struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		_ = json.Unmarshal(body, &e)
		switch e.Error {
		case "authorization_pending":
			return nil, ErrAuthorizationPending
		case "slow_down":
			return nil, ErrSlowDown
		case "expired_token":
			return nil, ErrDeviceFlowExpired
		case "access_denied":
			return nil, ErrDeviceFlowDenied
		}
		if status >= 500 {
			return nil, fmt.Errorf("%w: token poll failed: %s", ErrProviderUnavailable, providerErrorText(body))
		}
		return nil, fmt.Errorf("token poll failed: %s", providerErrorText(body))
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("%w: malformed token response: %v", ErrProviderUnavailable, err)
	}

	cred := &model.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if tok.ExpiresIn > 0 {
		cred.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return cred, nil
}

// Refresh exchanges a refresh token for a fresh credential. A rejected
// refresh token yields ErrAuthExpired; transient failures yield
// ErrProviderUnavailable. If the provider does not rotate the refresh
// token, the original one is carried over.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*model.Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	src := p.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
				return nil, fmt.Errorf("%w: token refresh failed: %v", ErrProviderUnavailable, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrAuthExpired, err)
		}
		return nil, fmt.Errorf("%w: token refresh failed: %v", ErrProviderUnavailable, err)
	}

	cred := &model.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}
	return cred, nil
}

// Revoke invalidates an access token with the provider.
func (p *Provider) Revoke(ctx context.Context, accessToken string) error {
	form := url.Values{"token": {accessToken}}

	body, status, err := p.postForm(ctx, p.revokeURL, form)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("token revocation failed: %s", providerErrorText(body))
	}
	return nil
}

func (p *Provider) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// providerErrorText extracts a short error description from a provider
// error body for logging. Raw provider text is logged, never shown to users.
func providerErrorText(body []byte) string {
	var e struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		if e.Description != "" {
			return e.Error + ": " + e.Description
		}
		return e.Error
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
