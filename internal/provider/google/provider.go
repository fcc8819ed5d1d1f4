// Package google adapts golang.org/x/oauth2 to the authorization
// orchestrator: consent URLs, code exchange, refresh and revocation.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"classauth/internal/authz/models"
)

// RevokeURL is Google's token revocation endpoint.
const RevokeURL = "https://oauth2.googleapis.com/revoke"

// Provider talks to Google's OAuth 2.0 endpoints for one client registration.
type Provider struct {
	clientID     string
	clientSecret string
	endpoint     oauth2.Endpoint
	revokeURL    string
	httpClient   *http.Client
}

type Option func(*Provider)

// WithEndpoint overrides the authorization and token endpoints.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

func WithRevokeURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.revokeURL = u
		}
	}
}

// WithHTTPClient sets the client used for token and revocation calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

func New(clientID, clientSecret string, opts ...Option) *Provider {
	p := &Provider{
		clientID:     clientID,
		clientSecret: clientSecret,
		endpoint:     googleoauth.Endpoint,
		revokeURL:    RevokeURL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *Provider) config(scopes models.ScopeSet, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		Endpoint:     p.endpoint,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
	}
}

func (p *Provider) withClient(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// AuthCodeURL builds the consent screen URL.
func (p *Provider) AuthCodeURL(req models.AuthRequest) string {
	var opts []oauth2.AuthCodeOption
	if req.Offline {
		opts = append(opts, oauth2.AccessTypeOffline)
	}
	if req.IncludeGrantedScopes {
		opts = append(opts, oauth2.SetAuthURLParam("include_granted_scopes", "true"))
	}
	if req.LoginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", req.LoginHint))
	}
	if req.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", req.Prompt))
	}
	return p.config(req.Scopes, req.RedirectURI).AuthCodeURL(req.State, opts...)
}

// Exchange trades an authorization code for tokens. GrantedScopes is left
// for the caller to reconcile.
func (p *Provider) Exchange(ctx context.Context, code, redirectURI string) (*models.TokenRecord, error) {
	tok, err := p.config(nil, redirectURI).Exchange(p.withClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrExchangeFailed, describe(err), err)
	}
	return recordFromToken(tok), nil
}

// Refresh mints a new access token from rec's refresh token. A rejected
// grant wraps models.ErrTokenExpired; provider outages and transport errors
// do not.
func (p *Provider) Refresh(ctx context.Context, rec *models.TokenRecord) (*models.TokenRecord, error) {
	if rec.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", models.ErrTokenExpired)
	}
	src := p.config(nil, "").TokenSource(p.withClient(ctx), &oauth2.Token{RefreshToken: rec.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		if grantRejected(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrTokenExpired, describe(err))
		}
		return nil, fmt.Errorf("refresh token: %s: %w", describe(err), err)
	}
	return recordFromToken(tok), nil
}

// Revoke invalidates token and every grant derived from it.
func (p *Provider) Revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := p.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke token: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func recordFromToken(tok *oauth2.Token) *models.TokenRecord {
	rec := &models.TokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		Expiry:       tok.Expiry,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		rec.IDToken = idToken
	}
	return rec
}

// grantRejected reports whether the token endpoint refused the refresh token
// itself. 5xx responses are outages and leave the grant alive.
func grantRejected(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.ErrorCode != "" {
		return re.ErrorCode == "invalid_grant"
	}
	return re.Response != nil && re.Response.StatusCode >= 400 && re.Response.StatusCode < 500
}

func describe(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		if re.ErrorDescription != "" {
			return re.ErrorCode + ": " + re.ErrorDescription
		}
		return re.ErrorCode
	}
	return err.Error()
}
