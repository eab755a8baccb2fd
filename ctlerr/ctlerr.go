// Package ctlerr defines the error kinds used across the controller,
// following the teacher's ovs.Error pattern of a small concrete error
// type plus Is*-style predicate helpers (see ovs.IsPortNotExist), so
// callers never need to string-match error text.
package ctlerr

import "errors"

// Sentinel errors for the kinds enumerated in the controller's error
// handling design. Every one of these is recovered as locally as
// possible by its caller; none of them are fatal to the process.
var (
	// ErrSwitchGone is returned when an operation targets a dpid that
	// has since disconnected.
	ErrSwitchGone = errors.New("switch gone")

	// ErrNoRoute is returned when no path exists between two hosts in
	// the current topology snapshot.
	ErrNoRoute = errors.New("no route")

	// ErrUnknownHost is returned when a MAC has no host-map entry.
	ErrUnknownHost = errors.New("unknown host")

	// ErrBufferOverflow names the capture-ring-full condition. Nothing
	// returns it: capture.Ring.Push counts such drops instead.
	ErrBufferOverflow = errors.New("capture buffer overflow")

	// ErrClassifierUnavailable names a missing or unparsable
	// classification table. Nothing returns it: the classify loaders
	// return the underlying file or CSV error.
	ErrClassifierUnavailable = errors.New("classifier unavailable")

	// ErrInstallFailed is returned when a FLOW_MOD is rejected twice.
	ErrInstallFailed = errors.New("flow install failed")

	// ErrProtocol is returned when a malformed OpenFlow message is
	// received; the session that returns it must be closed.
	ErrProtocol = errors.New("openflow protocol error")
)

// A SwitchError attaches the dpid that an error concerns, mirroring
// how ovs.Error attaches the captured stdout/stderr of a failed CLI
// invocation to the underlying error.
type SwitchError struct {
	DPID uint64
	Err  error
}

func (e *SwitchError) Error() string {
	return e.Err.Error()
}

func (e *SwitchError) Unwrap() error {
	return e.Err
}

// IsSwitchGone reports whether err is, or wraps, ErrSwitchGone.
func IsSwitchGone(err error) bool {
	return errors.Is(err, ErrSwitchGone)
}

// IsNoRoute reports whether err is, or wraps, ErrNoRoute.
func IsNoRoute(err error) bool {
	return errors.Is(err, ErrNoRoute)
}

// IsUnknownHost reports whether err is, or wraps, ErrUnknownHost.
func IsUnknownHost(err error) bool {
	return errors.Is(err, ErrUnknownHost)
}
