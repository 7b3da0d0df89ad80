package devctl

import (
	"context"
	"image"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// OptionKey names a recognised ControllerCore.SetOption key.
type OptionKey string

const (
	OptionScreenshotTargetLongSide  OptionKey = "ScreenshotTargetLongSide"
	OptionScreenshotTargetShortSide OptionKey = "ScreenshotTargetShortSide"
	OptionDefaultAppPackageEntry    OptionKey = "DefaultAppPackageEntry"
	OptionDefaultAppPackage         OptionKey = "DefaultAppPackage"
)

// ControllerCore glues AsyncRunner, Notifier, CoordinateMapper and
// ScreenshotCache into the public device-control surface: translating
// Post* calls into typed Action jobs, post-processing screenshots, and
// emitting lifecycle notifications keyed by job Id and device UUID.
type ControllerCore struct {
	driver   DeviceDriver
	notifier *Notifier
	coords   *CoordinateMapper
	image    *ScreenshotCache
	runner   *AsyncRunner[Action]

	mu                  sync.Mutex
	connected           bool
	defaultPackage      string
	defaultPackageEntry string

	postIDsMu sync.Mutex
	postIDs   map[Id]struct{}

	uuidOnce sync.Once
	uuid     string
}

// NewControllerCore builds a controller bound to driver, dispatching
// lifecycle notifications through the optional callback. Close must be
// called to stop the worker goroutine before the controller's other
// fields (notably driver) are torn down.
func NewControllerCore(driver DeviceDriver, callback NotifyFunc) *ControllerCore {
	c := &ControllerCore{
		driver:   driver,
		notifier: NewNotifier(callback),
		coords:   NewCoordinateMapper(),
		image:    NewScreenshotCache(),
		postIDs:  make(map[Id]struct{}),
	}
	c.runner = NewAsyncRunner[Action](c.runAction)
	return c
}

// Close releases the worker goroutine. It must be called before any of the
// controller's other fields are destroyed, to avoid the worker observing a
// torn-down driver.
func (c *ControllerCore) Close() {
	c.runner.Release()
}

// SetOption applies a recognised controller option. Unknown keys are
// rejected, returning false.
func (c *ControllerCore) SetOption(key OptionKey, value []byte) bool {
	switch key {
	case OptionScreenshotTargetLongSide:
		v, ok := decodeUint32Option(value)
		if !ok {
			return false
		}
		c.coords.SetTargetLongSide(v)
		return true
	case OptionScreenshotTargetShortSide:
		v, ok := decodeUint32Option(value)
		if !ok {
			return false
		}
		c.coords.SetTargetShortSide(v)
		return true
	case OptionDefaultAppPackageEntry:
		c.mu.Lock()
		c.defaultPackageEntry = string(value)
		c.mu.Unlock()
		return true
	case OptionDefaultAppPackage:
		c.mu.Lock()
		c.defaultPackage = string(value)
		c.mu.Unlock()
		return true
	default:
		log().Error("unknown controller option", zap.String("key", string(key)))
		return false
	}
}

// decodeUint32Option accepts either a 4-byte little-endian encoding (the
// wire-format style the original C ABI uses) or a decimal string, so
// callers setting options from Go literals don't need to hand-encode. The
// decimal reading is tried first, so a four-digit string such as "1280" is
// read as a number rather than as four raw bytes.
func decodeUint32Option(value []byte) (uint32, bool) {
	if n, err := parseUint32(string(value)); err == nil {
		return n, true
	}
	if len(value) == 4 {
		return uint32(value[0]) | uint32(value[1])<<8 | uint32(value[2])<<16 | uint32(value[3])<<24, true
	}
	return 0, false
}

// EncodeUint32Option little-endian encodes v for SetOption callers that
// want to mirror the original C ABI's fixed-width wire format.
func EncodeUint32Option(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// --- non-blocking Post* path -------------------------------------------

// PostConnection posts a Connect job and returns its Id.
func (c *ControllerCore) PostConnection() Id {
	return c.postTracked(Action{Kind: ActionConnect}, false)
}

// PostClick posts a Click job, mapping (x, y) from client to device space.
// If the mapping cannot be done because the coordinate mapper has not been
// calibrated yet, the job is still posted (and still gets Started/Failed
// notifications if tracked) but is marked Failed by the worker with
// ErrUncalibrated rather than rejected here — see §8 scenario S3. A hard
// driver error fetching the device's resolution, by contrast, is reported
// immediately and nothing is posted.
func (c *ControllerCore) PostClick(x, y int) (Id, error) {
	dx, dy, ok, err := c.mapTouch(x, y)
	if err != nil {
		return InvalidId, err
	}
	return c.postTracked(Action{Kind: ActionClick, Click: ClickParam{X: dx, Y: dy, Valid: ok}}, false), nil
}

// PostSwipe posts a Swipe job built from parallel xs/ys/delays slices,
// mapping each point from client to device space. See PostClick for the
// Uncalibrated-vs-driver-error distinction.
func (c *ControllerCore) PostSwipe(xs, ys, delays []int) (Id, error) {
	steps := make([]SwipeStep, len(xs))
	valid := true
	for i := range xs {
		dx, dy, ok, err := c.mapTouch(xs[i], ys[i])
		if err != nil {
			return InvalidId, err
		}
		if !ok {
			valid = false
		}
		steps[i] = SwipeStep{X: dx, Y: dy, Delay: delays[i]}
	}
	return c.postTracked(Action{Kind: ActionSwipe, Swipe: SwipeParam{Steps: steps, Valid: valid}}, false), nil
}

// PostScreencap posts a Screencap job and returns its Id.
func (c *ControllerCore) PostScreencap() Id {
	return c.postTracked(Action{Kind: ActionScreencap}, false)
}

// mapTouch maps a client-space point to device space. ok is false (with a
// nil err) when the coordinate mapper is not yet calibrated — a condition
// the caller turns into a Failed job rather than a rejected Post call. err
// is non-nil only for a genuine driver failure fetching the resolution.
func (c *ControllerCore) mapTouch(x, y int) (dx, dy int, ok bool, err error) {
	resW, resH, err := c.driver.Resolution(context.Background())
	if err != nil {
		return 0, 0, false, wrapDriverErr(ActionClick, err)
	}
	dx, dy, mapErr := c.coords.MapClientToDevice(x, y, resW, resH)
	if mapErr != nil {
		return 0, 0, false, nil
	}
	return dx, dy, true, nil
}

// postTracked posts job, recording its Id in postIDs so run_action knows
// to emit Started/Completed/Failed notifications for it. Synchronous
// helpers below post directly through c.runner instead, skipping this, so
// they emit no notifications (§4.6).
func (c *ControllerCore) postTracked(a Action, block bool) Id {
	// Hold postIDsMu across the Post so the worker cannot reach runAction's
	// postIDs lookup for this Id before it has been recorded.
	c.postIDsMu.Lock()
	id := c.runner.Post(a, false)
	c.postIDs[id] = struct{}{}
	c.postIDsMu.Unlock()
	if block {
		c.runner.Wait(id)
	}
	return id
}

// --- synchronous helpers (block=true, untracked) ------------------------

// Click taps a randomised point drawn by RandPoint from r (centre-biased and
// not clamped, so it can land just past r's far edges), blocking until the
// tap completes.
// Synchronous helpers post without recording the Id in postIDs, so they
// emit no Started/Completed/Failed notifications (§4.6).
func (c *ControllerCore) Click(r image.Rectangle) error {
	return c.ClickPoint(RandPoint(r))
}

// ClickPoint is Click for an exact point instead of a random point in a
// rectangle.
func (c *ControllerCore) ClickPoint(p image.Point) error {
	dx, dy, ok, err := c.mapTouch(p.X, p.Y)
	if err != nil {
		return err
	}
	id := c.runner.Post(Action{Kind: ActionClick, Click: ClickParam{X: dx, Y: dy, Valid: ok}}, true)
	return c.terminalErr(id)
}

// Swipe synthesises a human-like gesture between randomised points drawn by
// RandPoint from r1 and r2 (not clamped to the rectangles) over duration
// milliseconds, blocking until it completes.
func (c *ControllerCore) Swipe(r1, r2 image.Rectangle, durationMs int) error {
	return c.SwipePoints(RandPoint(r1), RandPoint(r2), durationMs)
}

// SwipePoints is Swipe for exact endpoints instead of random points in
// rectangles.
func (c *ControllerCore) SwipePoints(p1, p2 image.Point, durationMs int) error {
	dx1, dy1, ok1, err := c.mapTouch(p1.X, p1.Y)
	if err != nil {
		return err
	}
	dx2, dy2, ok2, err := c.mapTouch(p2.X, p2.Y)
	if err != nil {
		return err
	}
	steps := Steps(image.Pt(dx1, dy1), image.Pt(dx2, dy2), durationMs)
	id := c.runner.Post(Action{Kind: ActionSwipe, Swipe: SwipeParam{Steps: steps, Valid: ok1 && ok2}}, true)
	return c.terminalErr(id)
}

// PressKey sends keycode, blocking until it completes.
func (c *ControllerCore) PressKey(keycode int) error {
	id := c.runner.Post(Action{Kind: ActionPressKey, PressKey: PressKeyParam{Keycode: keycode}}, true)
	return c.terminalErr(id)
}

// Screencap posts and awaits a Screencap job, then returns a clone of the
// freshly cached target-space image.
func (c *ControllerCore) Screencap() (image.Image, error) {
	id := c.runner.Post(Action{Kind: ActionScreencap}, true)
	if err := c.terminalErr(id); err != nil {
		return nil, err
	}
	return c.image.Clone(), nil
}

// StartApp launches the configured default package entry, blocking until
// it completes.
func (c *ControllerCore) StartApp() error {
	c.mu.Lock()
	entry := c.defaultPackageEntry
	c.mu.Unlock()
	if entry == "" {
		log().Error("default app package entry is empty")
		return ErrConfigError
	}
	return c.StartAppPackage(entry)
}

// StartAppPackage launches pkg, blocking until it completes.
func (c *ControllerCore) StartAppPackage(pkg string) error {
	id := c.runner.Post(Action{Kind: ActionStartApp, App: AppParam{Package: pkg}}, true)
	return c.terminalErr(id)
}

// StopApp force-stops the configured default package, blocking until it
// completes.
func (c *ControllerCore) StopApp() error {
	c.mu.Lock()
	pkg := c.defaultPackage
	c.mu.Unlock()
	if pkg == "" {
		log().Error("default app package is empty")
		return ErrConfigError
	}
	return c.StopAppPackage(pkg)
}

// StopAppPackage force-stops pkg, blocking until it completes.
func (c *ControllerCore) StopAppPackage(pkg string) error {
	id := c.runner.Post(Action{Kind: ActionStopApp, App: AppParam{Package: pkg}}, true)
	return c.terminalErr(id)
}

func (c *ControllerCore) terminalErr(id Id) error {
	if c.runner.Status(id) == StatusFailed {
		return ErrActionFailed
	}
	return nil
}

// --- observation ---------------------------------------------------------

func (c *ControllerCore) Status(id Id) Status { return c.runner.Status(id) }
func (c *ControllerCore) Wait(id Id) Status {
	c.runner.Wait(id)
	return c.runner.Status(id)
}

func (c *ControllerCore) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// GetImageEncoded returns the cached target-space image, PNG-encoded.
func (c *ControllerCore) GetImageEncoded() ([]byte, error) {
	return c.image.EncodePNG()
}

// Image returns a clone of the cached target-space image.
func (c *ControllerCore) Image() image.Image {
	return c.image.Clone()
}

// InvalidateTargetSize clears the derived target image size. Exposed so
// an optional collaborator like RotationWatcher (rotation.go) can trigger
// recalibration on an orientation change that StartApp/StopApp would not
// otherwise catch; see SPEC_FULL.md §11.
func (c *ControllerCore) InvalidateTargetSize() {
	c.coords.Invalidate()
}

// ErrActionFailed is returned by the synchronous helpers when the
// underlying job finished with StatusFailed; the specific cause was
// already logged and notified (if tracked) at the point of failure.
var ErrActionFailed = errors.New("controller: action failed")

// --- dispatch -------------------------------------------------------------

// runAction is the AsyncRunner ProcessFunc bound to this controller. It
// runs on the single worker goroutine.
func (c *ControllerCore) runAction(id Id, a Action) bool {
	c.postIDsMu.Lock()
	_, notify := c.postIDs[id]
	delete(c.postIDs, id)
	c.postIDsMu.Unlock()

	payload := NotifyPayload{Id: id, UUID: c.deviceUUID()}
	if notify {
		c.notifier.Notify(MsgControllerActionStarted, payload)
	}

	ok := c.dispatch(a)

	if notify {
		if ok {
			c.notifier.Notify(MsgControllerActionCompleted, payload)
		} else {
			c.notifier.Notify(MsgControllerActionFailed, payload)
		}
	}
	return ok
}

func (c *ControllerCore) dispatch(a Action) bool {
	ctx := context.Background()
	switch a.Kind {
	case ActionConnect:
		ok, err := c.driver.Connect(ctx)
		if err != nil {
			log().Error("connect failed", zap.Error(err))
		}
		c.mu.Lock()
		c.connected = ok
		c.mu.Unlock()
		return ok

	case ActionClick:
		if !a.Click.Valid {
			log().Error("click: uncalibrated coordinate mapper", zap.Error(ErrUncalibrated))
			return false
		}
		if err := c.driver.Click(ctx, a.Click.X, a.Click.Y); err != nil {
			log().Error("click failed", zap.Error(err))
			return false
		}
		return true

	case ActionSwipe:
		if !a.Swipe.Valid {
			log().Error("swipe: uncalibrated coordinate mapper", zap.Error(ErrUncalibrated))
			return false
		}
		if err := c.driver.SwipeSteps(ctx, a.Swipe.Steps); err != nil {
			log().Error("swipe failed", zap.Error(err))
			return false
		}
		return true

	case ActionPressKey:
		if err := c.driver.PressKey(ctx, a.PressKey.Keycode); err != nil {
			log().Error("press_key failed", zap.Error(err))
			return false
		}
		return true

	case ActionScreencap:
		raw, err := c.driver.Screencap(ctx)
		if err != nil {
			log().Error("screencap failed", zap.Error(err))
			return false
		}
		return c.postprocScreenshot(raw)

	case ActionStartApp:
		ok, err := c.driver.StartApp(ctx, a.App.Package)
		if err != nil {
			log().Error("start_app failed", zap.Error(err))
		}
		c.coords.Invalidate()
		return ok

	case ActionStopApp:
		ok, err := c.driver.StopApp(ctx, a.App.Package)
		if err != nil {
			log().Error("stop_app failed", zap.Error(err))
		}
		c.coords.Invalidate()
		return ok

	default:
		log().Error("unknown action kind", zap.Int("kind", int(a.Kind)))
		return false
	}
}

// postprocScreenshot implements §4.6's screenshot post-processing: reject
// empty images, warn (but continue) on a resolution mismatch against the
// driver's reported resolution, derive the target size if not already
// derived, resize, and store.
func (c *ControllerCore) postprocScreenshot(raw image.Image) bool {
	if raw == nil || raw.Bounds().Empty() {
		log().Error("empty screenshot")
		return false
	}

	resW, resH, err := c.driver.Resolution(context.Background())
	if err == nil {
		b := raw.Bounds()
		if b.Dx() != resW || b.Dy() != resH {
			log().Warn("screenshot size does not match reported resolution",
				zap.Int("got_w", b.Dx()), zap.Int("got_h", b.Dy()),
				zap.Int("res_w", resW), zap.Int("res_h", resH))
		}
	}

	if err := c.coords.EnsureTargetSize(raw.Bounds().Dx(), raw.Bounds().Dy()); err != nil {
		log().Error("invalid target image size", zap.Error(err))
		return false
	}

	tw, th := c.coords.TargetSize()
	resized := resizeToTarget(raw, int(tw), int(th))
	if resized == nil || resized.Bounds().Empty() {
		log().Error("empty screenshot after resize")
		return false
	}

	c.image.set(resized)
	return true
}

// deviceUUID returns a stable identifier for notification payloads. It
// tries the driver's own UUID once and falls back to a minted uuid if the
// driver cannot report one (see DESIGN.md's "uuid() driver op vs
// controller-level identity").
func (c *ControllerCore) deviceUUID() string {
	c.uuidOnce.Do(func() {
		if id, err := c.driver.UUID(context.Background()); err == nil && id != "" {
			c.uuid = id
			return
		}
		c.uuid = uuid.NewString()
	})
	return c.uuid
}
