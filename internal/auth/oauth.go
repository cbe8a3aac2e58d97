package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/pavelanni/interviewer/internal/model"
)

// ErrOAuth covers a failed or tampered provider round trip.
var ErrOAuth = errors.New("oauth sign-in failed")

// Intent tells the shared OAuth callback why the user went to the provider.
type Intent string

const (
	IntentLogin    Intent = "login"
	IntentRegister Intent = "register"
)

// ParseIntent validates an intent taken from a URL or state value.
func ParseIntent(s string) (Intent, error) {
	switch Intent(s) {
	case IntentLogin, IntentRegister:
		return Intent(s), nil
	}
	return "", fmt.Errorf("%w: unknown intent %q", ErrOAuth, s)
}

// NewState returns an unguessable OAuth state value carrying intent.
func NewState(intent Intent) (string, error) {
	nonce, err := randomToken()
	if err != nil {
		return "", err
	}
	return string(intent) + "." + nonce, nil
}

// ParseState extracts the intent from a state produced by NewState.
func ParseState(state string) (Intent, error) {
	intent, nonce, ok := strings.Cut(state, ".")
	if !ok || nonce == "" {
		return "", fmt.Errorf("%w: malformed state", ErrOAuth)
	}
	return ParseIntent(intent)
}

// Provider is an external identity provider yielding a verified email.
type Provider interface {
	AuthCodeURL(state string) string
	Email(ctx context.Context, code string) (string, error)
}

const googleUserinfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// GoogleProvider signs users in with Google.
type GoogleProvider struct {
	config      *oauth2.Config
	userinfoURL string
}

// NewGoogleProvider configures Google sign-in. redirectURL must be the
// absolute URL of the callback route.
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email"},
		},
		userinfoURL: googleUserinfoURL,
	}
}

// AuthCodeURL returns the consent page URL.
func (g *GoogleProvider) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type userinfo struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// Email exchanges the authorization code and fetches the account's email.
// Unverified provider emails are refused.
func (g *GoogleProvider) Email(ctx context.Context, code string) (string, error) {
	tok, err := g.config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: exchange code: %v", ErrOAuth, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userinfoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := g.config.Client(ctx, tok).Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch userinfo: %v", ErrOAuth, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: userinfo status %d", ErrOAuth, resp.StatusCode)
	}

	var info userinfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&info); err != nil {
		return "", fmt.Errorf("%w: decode userinfo: %v", ErrOAuth, err)
	}
	if info.Email == "" || !info.EmailVerified {
		return "", fmt.Errorf("%w: provider email missing or unverified", ErrOAuth)
	}
	return info.Email, nil
}

// OAuthOutcome is what the callback should do next.
type OAuthOutcome struct {
	// User is set when an account matched and the session can sign in.
	User *model.User
	// NeedsSetup means no account matched; Email awaits confirmation.
	NeedsSetup bool
	Email      string
}

// ResolveOAuth decides the result of a provider callback. A login for an
// existing account signs in and a registration for one is refused. With no
// matching account both intents lead to the setup step.
func (s *Service) ResolveOAuth(ctx context.Context, intent Intent, email string) (OAuthOutcome, error) {
	u, err := s.Resolve(ctx, email)
	if err != nil {
		return OAuthOutcome{}, err
	}
	switch {
	case u == nil:
		return OAuthOutcome{NeedsSetup: true, Email: email}, nil
	case intent == IntentRegister:
		return OAuthOutcome{}, ErrDuplicateEmail
	default:
		return OAuthOutcome{User: u, Email: u.Email}, nil
	}
}
