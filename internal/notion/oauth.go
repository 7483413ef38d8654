// Package notion imports a Notion workspace's page hierarchy into a space.
package notion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// ErrInvalidCode is returned when Notion rejects the authorization code,
// usually because it was already used or has expired.
var ErrInvalidCode = errors.New("invalid code. Please try importing again")

type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	APIURL       string
	PublicURL    string
}

// Grant is what a successful code exchange yields.
type Grant struct {
	Token         *oauth2.Token
	WorkspaceName string
	WorkspaceIcon string
}

type Client struct {
	cfg    Config
	oauth  oauth2.Config
	apiURL string
}

func New(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
	}
}

// Enabled reports whether OAuth credentials are configured.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// RedirectURI must match the URI the authorization started with. Local
// development hosts call back to themselves.
func RedirectURI(host, publicURL string) string {
	if strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.0.0.1") {
		return "http://" + host + "/api/notion/callback"
	}
	return strings.TrimRight(publicURL, "/") + "/api/notion/callback"
}

// Exchange trades a temporary authorization code for an access token.
func (c *Client) Exchange(ctx context.Context, code, host string) (Grant, error) {
	if strings.TrimSpace(code) == "" {
		return Grant{}, ErrInvalidCode
	}
	conf := c.oauth
	conf.RedirectURL = RedirectURI(host, c.cfg.PublicURL)

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			switch retrieveErr.ErrorCode {
			case "invalid_grant", "invalid_request":
				return Grant{}, ErrInvalidCode
			}
		}
		return Grant{}, fmt.Errorf("notion token exchange: %w", err)
	}

	grant := Grant{Token: token}
	if name, ok := token.Extra("workspace_name").(string); ok {
		grant.WorkspaceName = name
	}
	if icon, ok := token.Extra("workspace_icon").(string); ok {
		grant.WorkspaceIcon = icon
	}
	return grant, nil
}
