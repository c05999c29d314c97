package combivox

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

// SessionState is the authentication state machine.
type SessionState int32

const (
	Unauthenticated SessionState = iota
	Authenticating
	Authenticated
	// Degraded means authentication keeps failing while unauthenticated
	// status polling still works: reads continue, commands fail fast.
	Degraded
)

func (s SessionState) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Degraded:
		return "degraded"
	default:
		return "unauthenticated"
	}
}

// Credential derives the submitted login password from the 6-digit master
// code. The derivation is firmware specific, so it is pluggable; the
// default is the permutation scheme observed on AmicaWeb interfaces.
type Credential interface {
	Derive(code string) (user, password string)
}

// permManual is the fixed permutation every observed firmware applies
// before the session-generated one.
var permManual = [8]int{2, 7, 6, 1, 4, 5, 8, 3}

// webCredential implements the observed challenge-response: the code plus
// two random digits is shuffled by the fixed permutation, then by a random
// one, and the random permutation is disclosed (zero-based) as the
// password suffix so the panel can undo it.
type webCredential struct {
	user string
	rng  *rand.Rand
}

// NewWebCredential returns the default derivation strategy. A nil source
// seeds from the clock.
func NewWebCredential(rng *rand.Rand) Credential {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &webCredential{user: "admin", rng: rng}
}

func (c *webCredential) Derive(code string) (string, string) {
	begin := fmt.Sprintf("%02d", c.rng.Intn(100))
	last := fmt.Sprintf("%02d", c.rng.Intn(100))

	t1 := padCode(code) + last
	var t2 strings.Builder
	for _, p := range permManual {
		t2.WriteByte(t1[p-1])
	}

	perm := c.rng.Perm(8)
	var t3, disclosed strings.Builder
	for _, p := range perm {
		t3.WriteByte(t2.String()[p])
		fmt.Fprintf(&disclosed, "%d", p)
	}

	return c.user, begin + t3.String() + disclosed.String()
}

// Session owns the cookie and the authentication state machine for one
// panel connection. It is created at startup and torn down on unload;
// Coordinator and Dispatcher share the single instance.
type Session struct {
	mu     sync.Mutex
	base   *url.URL
	http   *http.Client
	code   string
	cred   Credential
	state  SessionState
	cookie string

	// login2 needs a moment after login before it hands out the cookie.
	settle   time.Duration
	attempts int
}

// SessionOption tweaks a Session at construction.
type SessionOption func(*Session)

// WithCredential swaps the credential derivation strategy.
func WithCredential(c Credential) SessionOption {
	return func(s *Session) { s.cred = c }
}

// WithSettle changes the wait between cookie-extraction attempts.
func WithSettle(d time.Duration) SessionOption {
	return func(s *Session) { s.settle = d }
}

// NewSession builds the session for a panel at host:port. The master code
// is right-padded to 6 digits as the panel expects.
func NewSession(host, port, code string, timeout time.Duration, opts ...SessionOption) (*Session, error) {
	base, err := url.Parse(fmt.Sprintf("http://%s", joinHostPort(host, port)))
	if err != nil {
		return nil, fmt.Errorf("could not parse panel address: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("could not create cookie jar: %w", err)
	}
	s := &Session{
		base:     base,
		http:     &http.Client{Jar: jar, Timeout: timeout},
		code:     padCode(code),
		cred:     NewWebCredential(nil),
		settle:   time.Second,
		attempts: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func joinHostPort(host, port string) string {
	if port == "" {
		return host
	}
	return host + ":" + port
}

// State returns the current authentication state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cookie returns the raw session cookie for diagnostics, empty when none.
func (s *Session) Cookie() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cookie
}

// Authenticate runs the challenge-response login once: derive the
// credential, submit it, pull the cookie out of the response. Retry
// policy belongs to the caller.
func (s *Session) Authenticate(ctx context.Context) error {
	s.setState(Authenticating)

	user, pass := s.cred.Derive(s.code)
	b64 := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))

	if err := s.postLogin(ctx, loginPath, b64); err != nil {
		return err
	}

	for i := 0; i < s.attempts; i++ {
		if err := sleepCtx(ctx, s.settle); err != nil {
			s.setState(Unauthenticated)
			return err
		}
		if err := s.postLogin(ctx, login2Path, b64); err != nil {
			return err
		}
		if cookie := s.jarCookie(); cookie != "" {
			s.mu.Lock()
			s.cookie = cookie
			s.state = Authenticated
			s.mu.Unlock()
			log.Info("authenticated", "panel", s.base.Host)
			return nil
		}
	}

	s.setState(Degraded)
	return fmt.Errorf("could not establish session: %w", ErrNoCookie)
}

// EnsureAuthenticated is a no-op when authenticated and a single
// authentication attempt otherwise. In degraded state it fails fast so
// commands never hit the transport; recovery goes through a forced
// Authenticate. Both methods expect the caller to hold the client's
// transport lock, which also serializes the credential derivation.
func (s *Session) EnsureAuthenticated(ctx context.Context) error {
	switch s.State() {
	case Authenticated:
		return nil
	case Degraded:
		return ErrNotAuthenticated
	default:
		return s.Authenticate(ctx)
	}
}

// Expire drops the cookie after a response was recognized as the login
// page. The next EnsureAuthenticated will log in again.
func (s *Session) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropCookie()
	s.state = Unauthenticated
}

// Close tears the session down and discards the cookie.
func (s *Session) Close() {
	s.Expire()
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// dropCookie swaps in a fresh jar; the stdlib jar has no delete.
// Callers hold s.mu.
func (s *Session) dropCookie() {
	s.cookie = ""
	if jar, err := cookiejar.New(nil); err == nil {
		s.http.Jar = jar
	}
}

func (s *Session) postLogin(ctx context.Context, path, b64 string) error {
	u := *s.base
	u.Path = path
	u.RawQuery = "Basic%20" + b64

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		u.String(), strings.NewReader("Basic="+b64))
	if err != nil {
		s.setState(Unauthenticated)
		return fmt.Errorf("could not build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		s.setState(Unauthenticated)
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.setState(Degraded)
		return fmt.Errorf("login %s answered %d: %w", path, resp.StatusCode, ErrInvalidCredential)
	}
	return nil
}

func (s *Session) jarCookie() string {
	for _, c := range s.http.Jar.Cookies(s.base) {
		if c.Value != "" {
			return c.Name + "=" + c.Value
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
