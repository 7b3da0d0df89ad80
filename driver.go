package devctl

import (
	"context"
	"image"
)

// DeviceDriver is the external collaborator the controller demands from
// whatever transport drives the device (ADB, a socket, a custom IPC). Every
// operation is blocking and carries its own internal timeout; the
// controller treats the call itself as opaque and does not impose a
// further bound.
type DeviceDriver interface {
	// Connect establishes (or re-validates) a session. Idempotent.
	Connect(ctx context.Context) (bool, error)
	// Resolution reports the device-native screen dimensions.
	Resolution(ctx context.Context) (width, height int, err error)
	// Click performs a single tap at device-space (x, y).
	Click(ctx context.Context, x, y int) error
	// SwipeSteps replays an ordered sequence of waypoints, honouring each
	// step's delay.
	SwipeSteps(ctx context.Context, steps []SwipeStep) error
	// PressKey sends a single key event.
	PressKey(ctx context.Context, keycode int) error
	// Screencap captures the current frame. An empty image is a failure.
	Screencap(ctx context.Context) (image.Image, error)
	// StartApp launches pkg.
	StartApp(ctx context.Context, pkg string) (bool, error)
	// StopApp force-stops pkg.
	StopApp(ctx context.Context, pkg string) (bool, error)
	// UUID reports a stable device identifier.
	UUID(ctx context.Context) (string, error)
}

// ActionKind tags the variant held by an Action.
type ActionKind int

const (
	ActionConnect ActionKind = iota
	ActionClick
	ActionSwipe
	ActionPressKey
	ActionScreencap
	ActionStartApp
	ActionStopApp
)

func (k ActionKind) String() string {
	switch k {
	case ActionConnect:
		return "connect"
	case ActionClick:
		return "click"
	case ActionSwipe:
		return "swipe"
	case ActionPressKey:
		return "press_key"
	case ActionScreencap:
		return "screencap"
	case ActionStartApp:
		return "start_app"
	case ActionStopApp:
		return "stop_app"
	default:
		return "unknown"
	}
}

// ClickParam is the Click variant's payload, in device space. Valid is
// false when the coordinate mapper could not map the original client-space
// point because it is not yet calibrated; the dispatcher fails such a job
// without ever calling the driver (§8 scenario S3).
type ClickParam struct {
	X, Y  int
	Valid bool
}

// SwipeParam is the Swipe variant's payload: an ordered sequence of
// device-space waypoints. Valid mirrors ClickParam.Valid.
type SwipeParam struct {
	Steps []SwipeStep
	Valid bool
}

// PressKeyParam is the PressKey variant's payload.
type PressKeyParam struct {
	Keycode int
}

// AppParam is the StartApp/StopApp variant's payload.
type AppParam struct {
	Package string
}

// Action is a tagged union of the controller job variants named in the
// spec's data model. Fixed fields rather than an any-typed payload keep
// the dispatcher in ControllerCore.dispatch exhaustively checkable
// without virtual dispatch — the set of kinds is closed by design.
type Action struct {
	Kind     ActionKind
	Click    ClickParam
	Swipe    SwipeParam
	PressKey PressKeyParam
	App      AppParam
}
