package devctl

import "github.com/pkg/errors"

// Error kinds surfaced by the controller. ErrUncalibrated and
// ErrConfigError are defined in coords.go, next to the component that
// raises them.
var (
	// ErrEmptyScreenshot is returned by ScreenshotCache.EncodePNG (and so
	// by ControllerCore.GetImageEncoded) when no frame is cached. An empty
	// screencap, or a resize that collapses to empty, is logged and fails
	// its Screencap job with StatusFailed; it is not surfaced as this error.
	ErrEmptyScreenshot = errors.New("controller: empty screenshot")
	// ErrInvalidId names the "unknown job Id" error kind. No operation in
	// this package returns it: Status and Wait report an Id the runner never
	// issued (or whose status was wiped by Clear) as StatusInvalid.
	ErrInvalidId = errors.New("controller: invalid job id")
)

// errEmptyScreenshot is the screenshot.go-local alias, to avoid import
// ordering games between the two files; both name the same sentinel.
var errEmptyScreenshot = ErrEmptyScreenshot

// DriverError wraps a DeviceDriver failure that is returned to a caller
// with an action kind attached. The controller produces it only when the
// Resolution lookup fails while mapping touch coordinates for PostClick,
// PostSwipe, ClickPoint or SwipePoints; nothing is posted in that case.
// Driver failures inside a dispatched job are logged and mark the job
// StatusFailed (with a Failed notification if tracked) without producing
// a DriverError.
type DriverError struct {
	Kind ActionKind
	Err  error
}

func (e *DriverError) Error() string {
	return "controller: driver error during " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

func wrapDriverErr(kind ActionKind, err error) error {
	if err == nil {
		return nil
	}
	return &DriverError{Kind: kind, Err: err}
}
