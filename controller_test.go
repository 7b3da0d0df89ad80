package devctl

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeDriver is a DeviceDriver test double that never touches adb, letting
// the controller's dispatch and notification logic be exercised without a
// connected device.
type fakeDriver struct {
	mu sync.Mutex

	width, height int
	uuid          string
	uuidErr       error
	connectErr    error
	resolutionErr error
	screencapErr  error
	screencapImg  image.Image

	clicks []image.Point
	swipes [][]SwipeStep
	keys   []int
	starts []string
	stops  []string
}

func newFakeDriver(w, h int) *fakeDriver {
	return &fakeDriver{width: w, height: h, uuid: "fake-serial"}
}

func (f *fakeDriver) Connect(ctx context.Context) (bool, error) {
	if f.connectErr != nil {
		return false, f.connectErr
	}
	return true, nil
}

func (f *fakeDriver) Resolution(ctx context.Context) (int, int, error) {
	if f.resolutionErr != nil {
		return 0, 0, f.resolutionErr
	}
	return f.width, f.height, nil
}

func (f *fakeDriver) Click(ctx context.Context, x, y int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, image.Pt(x, y))
	return nil
}

func (f *fakeDriver) SwipeSteps(ctx context.Context, steps []SwipeStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swipes = append(f.swipes, steps)
	return nil
}

func (f *fakeDriver) PressKey(ctx context.Context, keycode int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, keycode)
	return nil
}

func (f *fakeDriver) Screencap(ctx context.Context) (image.Image, error) {
	if f.screencapErr != nil {
		return nil, f.screencapErr
	}
	if f.screencapImg != nil {
		return f.screencapImg, nil
	}
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	for y := 0; y < f.height; y++ {
		for x := 0; x < f.width; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img, nil
}

func (f *fakeDriver) StartApp(ctx context.Context, pkg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, pkg)
	return true, nil
}

func (f *fakeDriver) StopApp(ctx context.Context, pkg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, pkg)
	return true, nil
}

func (f *fakeDriver) UUID(ctx context.Context) (string, error) {
	if f.uuidErr != nil {
		return "", f.uuidErr
	}
	return f.uuid, nil
}

func newTestController(t *testing.T, driver *fakeDriver, callback NotifyFunc) *ControllerCore {
	c := NewControllerCore(driver, callback)
	t.Cleanup(c.Close)
	return c
}

func TestControllerClickBeforeCalibrationFails(t *testing.T) {
	driver := newFakeDriver(1080, 1920)
	c := newTestController(t, driver, nil)

	err := c.ClickPoint(image.Pt(10, 10))
	assert.ErrorIs(t, err, ErrActionFailed)

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Empty(t, driver.clicks)
}

func TestControllerPostClickUncalibratedStillPostsAndNotifiesFailed(t *testing.T) {
	driver := newFakeDriver(1080, 1920)

	var mu sync.Mutex
	var codes []MessageCode
	c := newTestController(t, driver, func(code MessageCode, payload NotifyPayload) {
		mu.Lock()
		codes = append(codes, code)
		mu.Unlock()
	})

	id := c.PostConnection()
	c.Wait(id)

	clickID, err := c.PostClick(0, 0)
	assert.NoError(t, err)
	assert.NotEqual(t, InvalidId, clickID)

	status := c.Wait(clickID)
	assert.Equal(t, StatusFailed, status)

	driver.mu.Lock()
	assert.Empty(t, driver.clicks)
	driver.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, codes, MsgControllerActionStarted)
	assert.Contains(t, codes, MsgControllerActionFailed)
	assert.NotContains(t, codes, MsgControllerActionCompleted)
}

func TestControllerScreencapThenClickMapsCoordinates(t *testing.T) {
	driver := newFakeDriver(1080, 1920)
	c := newTestController(t, driver, nil)
	c.SetOption(OptionScreenshotTargetLongSide, EncodeUint32Option(1280))

	img, err := c.Screencap()
	assert.NoError(t, err)
	assert.Equal(t, 720, img.Bounds().Dx())
	assert.Equal(t, 1280, img.Bounds().Dy())

	err = c.ClickPoint(image.Pt(360, 640))
	assert.NoError(t, err)

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Len(t, driver.clicks, 1)
	assert.Equal(t, image.Pt(540, 960), driver.clicks[0])
}

func TestControllerStartAppInvalidatesCalibration(t *testing.T) {
	driver := newFakeDriver(1080, 1920)
	c := newTestController(t, driver, nil)
	c.SetOption(OptionScreenshotTargetLongSide, EncodeUint32Option(1280))

	_, err := c.Screencap()
	assert.NoError(t, err)
	w, h := c.coords.TargetSize()
	assert.NotZero(t, w)
	assert.NotZero(t, h)

	err = c.StartAppPackage("com.example.app")
	assert.NoError(t, err)

	w, h = c.coords.TargetSize()
	assert.Zero(t, w)
	assert.Zero(t, h)

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Equal(t, []string{"com.example.app"}, driver.starts)
}

func TestControllerSynchronousHelpersEmitNoNotifications(t *testing.T) {
	driver := newFakeDriver(1080, 1920)
	var notified bool
	c := newTestController(t, driver, func(code MessageCode, payload NotifyPayload) {
		notified = true
	})

	err := c.PressKey(4)
	assert.NoError(t, err)
	assert.False(t, notified)
}

func TestControllerSetOptionRejectsUnknownKey(t *testing.T) {
	driver := newFakeDriver(1080, 1920)
	c := newTestController(t, driver, nil)
	ok := c.SetOption(OptionKey("NotARealOption"), []byte("1"))
	assert.False(t, ok)
}

func TestControllerSetOptionAcceptsDecimalString(t *testing.T) {
	driver := newFakeDriver(1080, 1920)
	c := newTestController(t, driver, nil)
	ok := c.SetOption(OptionScreenshotTargetShortSide, []byte("540"))
	assert.True(t, ok)
	assert.EqualValues(t, 540, c.coords.TargetShortSide())
}

func TestControllerStartAppWithoutDefaultEntryIsConfigError(t *testing.T) {
	driver := newFakeDriver(1080, 1920)
	c := newTestController(t, driver, nil)
	err := c.StartApp()
	assert.ErrorIs(t, err, ErrConfigError)
}

func TestControllerDeviceUUIDFallsBackToMintedID(t *testing.T) {
	driver := newFakeDriver(1080, 1920)
	driver.uuidErr = assert.AnError
	c := newTestController(t, driver, nil)

	id := c.deviceUUID()
	assert.NotEmpty(t, id)
	assert.NotEqual(t, "fake-serial", id)
}

func TestControllerDeviceUUIDUsesDriverWhenAvailable(t *testing.T) {
	driver := newFakeDriver(1080, 1920)
	c := newTestController(t, driver, nil)

	id := c.deviceUUID()
	assert.Equal(t, "fake-serial", id)
}

func TestControllerConnectedReflectsDispatchResult(t *testing.T) {
	driver := newFakeDriver(1080, 1920)
	c := newTestController(t, driver, nil)

	assert.False(t, c.Connected())
	id := c.PostConnection()
	c.Wait(id)
	assert.True(t, c.Connected())
}
