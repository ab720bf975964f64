// Package auth resolves the credentials used to talk to the GitHub API:
// a personal token, GitHub App installation tokens, or none at all.
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/go-github/v68/github"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jenian/iswith/internal/config"
	"github.com/jenian/iswith/internal/model"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// ExpiryBuffer is subtracted from an installation token's expiry before reuse
	ExpiryBuffer = 5 * time.Minute

	jwtBackdate = 60 * time.Second
	jwtLifetime = 10 * time.Minute
	cacheSize   = 64
	cacheTTL    = time.Hour
)

// Option configures an App
type Option func(*App)

// WithBaseURL points the App at a different API root, e.g. GitHub Enterprise
func WithBaseURL(u *url.URL) Option {
	return func(a *App) { a.baseURL = u }
}

// WithHTTPClient sets the client used for app requests
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.httpClient = c }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// App issues installation access tokens for a GitHub App. It is safe for
// concurrent use; concurrent refreshes for the same installation collapse
// into one issuance request.
type App struct {
	id         string
	key        *rsa.PrivateKey
	baseURL    *url.URL
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time

	tokens *expirable.LRU[string, *oauth2.Token]
	group  singleflight.Group

	mu            sync.Mutex
	installations map[string]int64 // lower-cased owner -> installation id
}

// NewApp creates an App from its id and PEM encoded private key
func NewApp(appID string, privateKeyPEM []byte, opts ...Option) (*App, error) {
	if appID == "" {
		return nil, fmt.Errorf("%w: app id is empty", model.ErrAuth)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing private key: %w", model.ErrAuth, err)
	}
	a := &App{
		id:            appID,
		key:           key,
		httpClient:    http.DefaultClient,
		log:           zerolog.Nop(),
		now:           time.Now,
		tokens:        expirable.NewLRU[string, *oauth2.Token](cacheSize, nil, cacheTTL),
		installations: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// JWT returns a short-lived RS256 token identifying the app itself
func (a *App) JWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-jwtBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
		Issuer:    a.id,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("%w: signing app token: %w", model.ErrAuth, err)
	}
	return signed, nil
}

func (a *App) client() (*github.Client, error) {
	token, err := a.JWT()
	if err != nil {
		return nil, err
	}
	c := github.NewClient(a.httpClient).WithAuthToken(token)
	if a.baseURL != nil {
		c.BaseURL = a.baseURL
	}
	return c, nil
}

// InstallationID finds the installation of the app on the given account
func (a *App) InstallationID(ctx context.Context, owner string) (int64, error) {
	key := strings.ToLower(owner)
	a.mu.Lock()
	id, ok := a.installations[key]
	a.mu.Unlock()
	if ok {
		return id, nil
	}

	c, err := a.client()
	if err != nil {
		return 0, err
	}
	opts := &github.ListOptions{PerPage: 100}
	for {
		installs, resp, err := c.Apps.ListInstallations(ctx, opts)
		if err != nil {
			return 0, classify(err, "listing app installations")
		}
		for _, inst := range installs {
			if strings.EqualFold(inst.GetAccount().GetLogin(), owner) {
				a.mu.Lock()
				a.installations[key] = inst.GetID()
				a.mu.Unlock()
				return inst.GetID(), nil
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return 0, fmt.Errorf("%w: no installation of app %s found for owner %s", model.ErrAuth, a.id, owner)
}

// InstallationToken returns a cached token for the installation, issuing a
// new one when none is cached or the cached one expires within ExpiryBuffer.
func (a *App) InstallationToken(ctx context.Context, installationID int64) (*oauth2.Token, error) {
	key := a.id + "/" + strconv.FormatInt(installationID, 10)
	if tok, ok := a.cached(key); ok {
		return tok, nil
	}

	v, err, shared := a.group.Do(key, func() (any, error) {
		if tok, ok := a.cached(key); ok {
			return tok, nil
		}
		return a.issue(ctx, key, installationID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		a.log.Debug().Int64("installation_id", installationID).Msg("shared installation token refresh")
	}
	return v.(*oauth2.Token), nil
}

func (a *App) cached(key string) (*oauth2.Token, bool) {
	tok, ok := a.tokens.Get(key)
	if !ok {
		return nil, false
	}
	if !tok.Expiry.Add(-ExpiryBuffer).After(a.now()) {
		a.tokens.Remove(key)
		return nil, false
	}
	return tok, true
}

func (a *App) issue(ctx context.Context, key string, installationID int64) (*oauth2.Token, error) {
	c, err := a.client()
	if err != nil {
		return nil, err
	}
	it, _, err := c.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return nil, classify(err, "creating installation token")
	}
	tok := &oauth2.Token{
		AccessToken: it.GetToken(),
		TokenType:   "token",
		Expiry:      it.GetExpiresAt().Time,
	}
	a.tokens.Add(key, tok)
	a.log.Debug().Int64("installation_id", installationID).Time("expires_at", tok.Expiry).Msg("issued installation token")
	return tok, nil
}

// TokenSource returns an oauth2.TokenSource yielding installation tokens for owner
func (a *App) TokenSource(ctx context.Context, owner string) oauth2.TokenSource {
	return &installationSource{ctx: ctx, app: a, owner: owner}
}

type installationSource struct {
	ctx   context.Context
	app   *App
	owner string
}

func (s *installationSource) Token() (*oauth2.Token, error) {
	id, err := s.app.InstallationID(s.ctx, s.owner)
	if err != nil {
		return nil, err
	}
	return s.app.InstallationToken(s.ctx, id)
}

// Resolve picks the credentials for requests against owner's repositories:
// an explicit token first, then GitHub App credentials. It returns a nil
// source when nothing is configured, meaning unauthenticated access.
func Resolve(ctx context.Context, owner string, creds config.Credentials, opts ...Option) (oauth2.TokenSource, error) {
	if creds.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.Token}), nil
	}
	if !creds.HasApp() {
		return nil, nil
	}

	pem, err := os.ReadFile(creds.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading private key: %w", model.ErrAuth, err)
	}
	app, err := NewApp(creds.AppID, pem, opts...)
	if err != nil {
		return nil, err
	}
	src := app.TokenSource(ctx, owner)
	// fail early on bad app credentials rather than on the first API call
	if _, err := src.Token(); err != nil {
		return nil, err
	}
	return src, nil
}

func classify(err error, action string) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return fmt.Errorf("%w: %s: %s", model.ErrAuth, action, ghErr.Response.Status)
	}
	return fmt.Errorf("%w: %s: %w", model.ErrTransport, action, err)
}
