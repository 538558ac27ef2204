package bridge

import "errors"

var (
	// ErrSessionActive is returned by StartSession while another session
	// is still running. The caller must stop it first.
	ErrSessionActive = errors.New("analyzer session already active")

	// ErrNoActiveSession is returned by document, feature and diagnostics
	// operations while the bridge is idle.
	ErrNoActiveSession = errors.New("no active analyzer session")
)
