package combivox

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/sync/cio"
)

const (
	defaultTimeout = 10 * time.Second
	readTimeout    = 5 * time.Second
)

// Client talks to one AmicaWeb panel. All transport access, polls and
// commands alike, is serialized on a single lock: the firmware's embedded
// server misbehaves under concurrent requests.
type Client struct {
	mu      sync.Mutex
	session *Session
}

// New creates a client and its session. No network traffic happens until
// the first call.
func New(host, port, code string, opts ...SessionOption) (*Client, error) {
	sess, err := NewSession(host, port, code, defaultTimeout, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{session: sess}, nil
}

// Session exposes the underlying session for state inspection. Callers
// must not authenticate through it directly; use the Client methods,
// which hold the transport lock.
func (c *Client) Session() *Session {
	return c.session
}

// Authenticate forces a fresh login. It takes the transport lock, so a
// login never interleaves with an in-flight poll or command.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Authenticate(ctx)
}

// EnsureAuthenticated logs in only when the session needs it, serialized
// like every other panel access.
func (c *Client) EnsureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.EnsureAuthenticated(ctx)
}

// Close discards the session cookie.
func (c *Client) Close() error {
	c.session.Close()
	return nil
}

// statusXML is the envelope around the hex blob.
type statusXML struct {
	Clock string `xml:"cd"`
	Raw   string `xml:"si"`
}

// Status fetches and decodes the current panel status. It works with or
// without a session; the panel serves status9.xml to anonymous callers
// on most firmwares.
func (c *Client) Status(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status(ctx)
}

func (c *Client) status(ctx context.Context) (Snapshot, error) {
	body, err := c.get(ctx, statusPath)
	if err != nil {
		return Snapshot{}, err
	}
	if isLoginPage(body) {
		c.session.Expire()
		return Snapshot{}, fmt.Errorf("status answered with the login page: %w", ErrSessionExpired)
	}

	var st statusXML
	if err := xml.Unmarshal(body, &st); err != nil {
		return Snapshot{}, fmt.Errorf("could not parse status envelope: %w: %v", ErrBadStatus, err)
	}

	snap := Decode(st.Raw)
	if !snap.Decoded {
		return snap, fmt.Errorf("could not decode status blob %q: %w", st.Raw, ErrBadStatus)
	}
	if clock, err := ParseClock(st.Clock); err == nil {
		snap.Clock = clock
	}
	return snap, nil
}

// Dispatch authenticates if needed, encodes the request and sends it.
// A response recognized as the login page triggers exactly one
// re-authentication and retry; a second expiry is returned to the caller.
// In degraded session state it fails fast without touching the transport.
func (c *Client) Dispatch(ctx context.Context, req CommandRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatch(ctx, req)
}

func (c *Client) dispatch(ctx context.Context, req CommandRequest) error {
	if err := c.session.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("cannot dispatch %s: %w", req.Kind, err)
	}

	cmd, err := c.encode(ctx, req)
	if err != nil {
		return err
	}

	body, err := c.post(ctx, cmd)
	if err != nil {
		return err
	}
	if isLoginPage(body) {
		c.session.Expire()
		log.Warn("session expired mid-command, logging in again", "kind", req.Kind)
		if err := c.session.Authenticate(ctx); err != nil {
			return err
		}
		if body, err = c.post(ctx, cmd); err != nil {
			return err
		}
		if isLoginPage(body) {
			c.session.Expire()
			return fmt.Errorf("%s rejected after re-login: %w", req.Kind, ErrSessionExpired)
		}
	}

	if req.Kind == KindMacro {
		want := fmt.Sprintf("<nc>%d</nc>", macroAck)
		if !strings.Contains(string(body), want) {
			return fmt.Errorf("macro %d not acknowledged, panel answered %q: %w",
				req.Macro, strings.TrimSpace(string(body)), ErrRejected)
		}
	}
	return nil
}

func (c *Client) encode(ctx context.Context, req CommandRequest) (command, error) {
	switch req.Kind {
	case KindArm:
		return encodeArm(req.Areas, req.Mode), nil
	case KindDisarm:
		// the panel takes an absolute mask, so we need the armed set first
		snap, err := c.status(ctx)
		if errors.Is(err, ErrSessionExpired) {
			log.Warn("session expired before disarm, logging in again")
			if aerr := c.session.Authenticate(ctx); aerr != nil {
				return command{}, aerr
			}
			snap, err = c.status(ctx)
		}
		if err != nil {
			return command{}, fmt.Errorf("cannot disarm without current state: %w", err)
		}
		return encodeDisarm(snap.Areas, req.Areas), nil
	case KindBypass:
		return encodeBypass(req.Zone), nil
	case KindMacro:
		return encodeMacro(req.Macro, c.session.code), nil
	case KindClearMemory:
		return encodeClearMemory(), nil
	case KindSwitch:
		return encodeSwitch(req.Command, req.On), nil
	default:
		return command{}, fmt.Errorf("unknown command kind %d", req.Kind)
	}
}

// Arm arms the given areas. Empty means all areas.
func (c *Client) Arm(ctx context.Context, areas []int, mode ArmMode) error {
	if len(areas) == 0 {
		areas = allAreas()
	}
	return c.Dispatch(ctx, CommandRequest{Kind: KindArm, Areas: areas, Mode: mode})
}

// Disarm disarms the given areas, leaving the rest armed. Empty means all.
func (c *Client) Disarm(ctx context.Context, areas []int) error {
	return c.Dispatch(ctx, CommandRequest{Kind: KindDisarm, Areas: areas})
}

// Bypass toggles the inclusion state of a zone.
func (c *Client) Bypass(ctx context.Context, zone int) error {
	return c.Dispatch(ctx, CommandRequest{Kind: KindBypass, Zone: zone})
}

// RunMacro executes a panel scenario by id.
func (c *Client) RunMacro(ctx context.Context, macro int) error {
	return c.Dispatch(ctx, CommandRequest{Kind: KindMacro, Macro: macro})
}

// SetSwitch drives a command output or domotic channel.
func (c *Client) SetSwitch(ctx context.Context, cmd int, on bool) error {
	return c.Dispatch(ctx, CommandRequest{Kind: KindSwitch, Command: cmd, On: on})
}

// ClearMemory wipes the alarm memory.
func (c *Client) ClearMemory(ctx context.Context) error {
	return c.Dispatch(ctx, CommandRequest{Kind: KindClearMemory})
}

func allAreas() []int {
	areas := make([]int, MaxAreas)
	for i := range areas {
		areas[i] = i + 1
	}
	return areas
}

// Variant is the firmware flavor advertised by the web UI script.
type Variant struct {
	VerType int
	TypWeb  int
}

var (
	reVerType = regexp.MustCompile(`vertype\s*=\s*(\d+)`)
	reTypWeb  = regexp.MustCompile(`typWeb\s*=\s*(\d+)`)
)

// FirmwareVariant scrapes jscript9.js for the vertype and typWeb values
// the web UI branches on. Purely informational: blob layout detection is
// dynamic and does not depend on it.
func (c *Client) FirmwareVariant(ctx context.Context) (Variant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, err := c.get(ctx, scriptPath)
	if err != nil {
		return Variant{}, err
	}
	var v Variant
	if m := reVerType.FindSubmatch(body); m != nil {
		v.VerType, _ = strconv.Atoi(string(m[1]))
	}
	if m := reTypWeb.FindSubmatch(body); m != nil {
		v.TypWeb, _ = strconv.Atoi(string(m[1]))
	}
	return v, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.session.base.String()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("could not build request for %s: %w", path, err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, cmd command) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.session.base.String()+cmd.path, strings.NewReader(cmd.body))
	if err != nil {
		return nil, fmt.Errorf("could not build request for %s: %w", cmd.path, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cmd.referer != "" {
		req.Header.Set("Referer", c.session.base.String()+cmd.referer)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.session.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(cio.TimeoutReader(resp.Body, readTimeout))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("could not read %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s answered %d: %w", req.URL.Path, resp.StatusCode, ErrBadStatus)
	}
	return body, nil
}

// isLoginPage spots the firmware's habit of answering any unauthenticated
// request with the HTML login page instead of an error status.
func isLoginPage(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<html") ||
		strings.Contains(head, "<!doctype") ||
		strings.Contains(head, "login.cgi")
}
