package combivox

import "errors"

var (
	// ErrInvalidCredential means the panel rejected the login submission.
	// This is a configuration problem, not a transient one.
	ErrInvalidCredential = errors.New("panel rejected the credential")

	// ErrNoCookie means the panel answered the login flow but never set a
	// session cookie. The session degrades to read-only polling.
	ErrNoCookie = errors.New("panel did not establish a session")

	// ErrNotAuthenticated is returned by command dispatch when no
	// authenticated session exists and none could be established.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrRejected means the panel answered a command with something other
	// than the expected acknowledgement. The raw response is attached.
	ErrRejected = errors.New("command rejected by panel")

	// ErrSessionExpired means a response was recognized as the panel's
	// login page instead of the expected content.
	ErrSessionExpired = errors.New("session expired")

	// ErrUnreachable wraps transport failures talking to the panel.
	ErrUnreachable = errors.New("panel unreachable")

	// ErrBadStatus means the fetched status blob could not be decoded.
	ErrBadStatus = errors.New("unparseable status blob")
)
