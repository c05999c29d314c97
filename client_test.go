package combivox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakePanel mimics the firmware's embedded server: login endpoints that
// hand out a cookie, a status file, and command endpoints that record
// what they were sent.
type fakePanel struct {
	mu        sync.Mutex
	statusHex string
	clockHex  string
	requests  []panelRequest
	// per-path canned responses, login page simulation included
	responses map[string][]string
}

type panelRequest struct {
	path    string
	body    string
	referer string
}

func newFakePanel(statusHex string) *fakePanel {
	return &fakePanel{
		statusHex: statusHex,
		clockHex:  "1d081a0f2d00",
		responses: map[string][]string{},
	}
}

func (p *fakePanel) respond(path string, bodies ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[path] = append(p.responses[path], bodies...)
}

func (p *fakePanel) recorded(path string) []panelRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []panelRequest
	for _, r := range p.requests {
		if r.path == path {
			out = append(out, r)
		}
	}
	return out
}

func (p *fakePanel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	canned := func() (string, bool) {
		rs := p.responses[r.URL.Path]
		if len(rs) == 0 {
			return "", false
		}
		p.responses[r.URL.Path] = rs[1:]
		return rs[0], true
	}

	switch r.URL.Path {
	case loginPath:
		return
	case login2Path:
		http.SetCookie(w, &http.Cookie{Name: "SessionId", Value: "ok", Path: "/"})
		return
	case statusPath:
		if resp, ok := canned(); ok {
			fmt.Fprint(w, resp)
			return
		}
		fmt.Fprintf(w, "<risp><cd>%s</cd><si>%s</si></risp>", p.clockHex, p.statusHex)
		return
	}

	body, _ := io.ReadAll(r.Body)
	p.requests = append(p.requests, panelRequest{
		path:    r.URL.Path,
		body:    string(body),
		referer: r.Referer(),
	})
	if resp, ok := canned(); ok {
		fmt.Fprint(w, resp)
		return
	}
	fmt.Fprintf(w, "<risp><nc>%d</nc></risp>", macroAck)
}

func testClient(t *testing.T, panel *fakePanel) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(panel)
	t.Cleanup(srv.Close)
	return &Client{session: testSession(t, srv)}, srv
}

func TestClientStatus(t *testing.T) {
	cli, _ := testClient(t, newFakePanel(testBlob(false).hex()))

	snap, err := cli.Status(context.Background())
	require.NoError(t, err)
	require.True(t, snap.Decoded)
	require.Equal(t, StateDisarmed, snap.State)
	require.Equal(t, []int{3, 4}, snap.Areas.Areas())
	require.Equal(t, 2026, snap.Clock.Year())
}

func TestClientStatusUndecodable(t *testing.T) {
	cli, _ := testClient(t, newFakePanel("deadbeef"))

	snap, err := cli.Status(context.Background())
	require.ErrorIs(t, err, ErrBadStatus)
	require.False(t, snap.Decoded)
	require.Equal(t, "deadbeef", snap.RawHex)
}

func TestClientStatusLoginPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>please login</body></html>")
	}))
	t.Cleanup(srv.Close)
	cli := &Client{session: testSession(t, srv)}

	_, err := cli.Status(context.Background())
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, Unauthenticated, cli.Session().State())
}

func TestClientArm(t *testing.T) {
	panel := newFakePanel(testBlob(false).hex())
	cli, _ := testClient(t, panel)
	ctx := context.Background()

	require.NoError(t, cli.Arm(ctx, []int{1}, ArmNormal))
	require.NoError(t, cli.Arm(ctx, nil, ArmForced))

	reqs := panel.recorded(armPath)
	require.Len(t, reqs, 2)
	require.Equal(t, "bIns0=1&idc=49&fIns=0", reqs[0].body)
	require.Equal(t, "bIns0=255&idc=49&fIns=1", reqs[1].body)
}

func TestClientDisarm(t *testing.T) {
	// blob reports areas 3 and 4 armed
	panel := newFakePanel(testBlob(false).hex())
	cli, _ := testClient(t, panel)

	require.NoError(t, cli.Disarm(context.Background(), []int{3}))

	reqs := panel.recorded(armPath)
	require.Len(t, reqs, 1)
	require.Equal(t, "bIns0=8&idc=49&fIns=0", reqs[0].body)
}

func TestClientDisarmAll(t *testing.T) {
	panel := newFakePanel(testBlob(false).hex())
	cli, _ := testClient(t, panel)

	require.NoError(t, cli.Disarm(context.Background(), nil))

	reqs := panel.recorded(armPath)
	require.Len(t, reqs, 1)
	require.Equal(t, "bIns0=0&idc=49&fIns=0", reqs[0].body)
}

func TestClientDisarmReauthAfterExpiredStatus(t *testing.T) {
	panel := newFakePanel(testBlob(false).hex())
	// the pre-disarm status fetch bounces to the login page once
	panel.respond(statusPath, "<html>login</html>")
	cli, _ := testClient(t, panel)

	require.NoError(t, cli.Disarm(context.Background(), []int{3}))

	reqs := panel.recorded(armPath)
	require.Len(t, reqs, 1)
	require.Equal(t, "bIns0=8&idc=49&fIns=0", reqs[0].body)
}

func TestClientDisarmGivesUpAfterRepeatedExpiry(t *testing.T) {
	panel := newFakePanel(testBlob(false).hex())
	panel.respond(statusPath, "<html>login</html>", "<html>login</html>")
	cli, _ := testClient(t, panel)

	err := cli.Disarm(context.Background(), []int{3})
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Empty(t, panel.recorded(armPath))
}

func TestClientBypass(t *testing.T) {
	panel := newFakePanel(testBlob(false).hex())
	cli, _ := testClient(t, panel)

	require.NoError(t, cli.Bypass(context.Background(), 12))

	reqs := panel.recorded(bypassPath)
	require.Len(t, reqs, 1)
	require.Equal(t, "nCmd=12&idc=49", reqs[0].body)
}

func TestClientRunMacro(t *testing.T) {
	panel := newFakePanel(testBlob(false).hex())
	cli, srv := testClient(t, panel)

	require.NoError(t, cli.RunMacro(context.Background(), 5))

	reqs := panel.recorded("/execChangeImp.xml")
	require.Len(t, reqs, 1)
	require.Equal(t, "comandi=5;49;123400;", reqs[0].body)
	require.Equal(t, srv.URL+"/index.htm?id=2", reqs[0].referer)
}

func TestClientRunMacroRejected(t *testing.T) {
	panel := newFakePanel(testBlob(false).hex())
	panel.respond("/execChangeImp.xml", "<risp><nc>0</nc></risp>")
	cli, _ := testClient(t, panel)

	err := cli.RunMacro(context.Background(), 5)
	require.ErrorIs(t, err, ErrRejected)
}

func TestClientSetSwitch(t *testing.T) {
	panel := newFakePanel(testBlob(false).hex())
	cli, _ := testClient(t, panel)
	ctx := context.Background()

	require.NoError(t, cli.SetSwitch(ctx, 7, true))
	require.NoError(t, cli.SetSwitch(ctx, 150, false))

	reqs := panel.recorded(switchPath)
	require.Len(t, reqs, 2)
	require.Equal(t, "nCmd=7&idc=49&val=7", reqs[0].body)
	require.Equal(t, "nCmd=150&idc=49&val=0", reqs[1].body)
}

func TestClientClearMemory(t *testing.T) {
	panel := newFakePanel(testBlob(false).hex())
	cli, _ := testClient(t, panel)

	require.NoError(t, cli.ClearMemory(context.Background()))

	reqs := panel.recorded(clearMemPath)
	require.Len(t, reqs, 1)
	require.Equal(t, "comandi=del", reqs[0].body)
}

func TestClientDispatchReauth(t *testing.T) {
	panel := newFakePanel(testBlob(false).hex())
	// first attempt bounces to the login page, the retry succeeds
	panel.respond(armPath, "<html>login</html>")
	cli, _ := testClient(t, panel)

	require.NoError(t, cli.Arm(context.Background(), []int{1}, ArmNormal))
	require.Len(t, panel.recorded(armPath), 2)
}

func TestClientDispatchReauthGivesUp(t *testing.T) {
	panel := newFakePanel(testBlob(false).hex())
	panel.respond(armPath, "<html>login</html>", "<html>login</html>")
	cli, _ := testClient(t, panel)

	err := cli.Arm(context.Background(), []int{1}, ArmNormal)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Len(t, panel.recorded(armPath), 2)
}

func TestClientFirmwareVariant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, scriptPath, r.URL.Path)
		fmt.Fprint(w, "var vertype = 2;\nvar typWeb=1;\n")
	}))
	t.Cleanup(srv.Close)
	cli := &Client{session: testSession(t, srv)}

	v, err := cli.FirmwareVariant(context.Background())
	require.NoError(t, err)
	require.Equal(t, Variant{VerType: 2, TypWeb: 1}, v)
}
