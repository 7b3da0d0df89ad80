package devctl

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	adb "github.com/openatx/go-adb"
	"github.com/pkg/errors"
)

// touchInjector drives the minitouch native helper to inject raw touch
// events, giving single-tap Click and multi-waypoint SwipeSteps a real
// device-space curve instead of the single-shot `adb shell input
// swipe`. Adapted from the teacher's STFTouch (minitouch.go), collapsed
// down to the Down/Move/Up primitives the driver actually composes.
type touchInjector struct {
	device *adb.Device

	lifecycle
	cmdC       chan string
	conn       net.Conn
	maxX, maxY int
}

func newTouchInjector(device *adb.Device) *touchInjector {
	return &touchInjector{device: device, cmdC: make(chan string)}
}

func (t *touchInjector) Start() error {
	if !t.markStarted() {
		return errors.New("touch injector already started")
	}
	if err := t.prepare(); err != nil {
		t.markStopped()
		return err
	}
	t.resetError()
	go t.runBinary()
	go t.drainCmd()
	return nil
}

func (t *touchInjector) Stop() error {
	if err := killProc(t.device, "minitouch", syscall.SIGKILL); err != nil {
		log().Debug("kill minitouch: " + err.Error())
	}
	err := t.Wait()
	t.markStopped()
	return err
}

func (t *touchInjector) down(index, x, y int) {
	t.cmdC <- fmt.Sprintf("d %v %v %v 50", index, x, y)
}

func (t *touchInjector) move(index, x, y int) {
	t.cmdC <- fmt.Sprintf("m %v %v %v 50", index, x, y)
}

func (t *touchInjector) up(index int) {
	t.cmdC <- fmt.Sprintf("u %d", index)
}

// Click performs a down/up pair at a single point.
func (t *touchInjector) Click(x, y int) {
	t.down(0, x, y)
	t.up(0)
}

// SwipeSteps replays an ordered waypoint sequence as a single continuous
// contact, sleeping between moves for each step's delay.
func (t *touchInjector) SwipeSteps(steps []SwipeStep) {
	if len(steps) == 0 {
		return
	}
	t.down(0, steps[0].X, steps[0].Y)
	for _, step := range steps[1:] {
		if step.Delay > 0 {
			time.Sleep(time.Duration(step.Delay) * time.Millisecond)
		}
		t.move(0, step.X, step.Y)
	}
	t.up(0)
}

func (t *touchInjector) prepare() error {
	dst := "/data/local/tmp/minitouch"
	if adbFileExists(t.device, dst) {
		return nil
	}
	props, err := t.device.Properties()
	if err != nil {
		return err
	}
	abi, ok := props["ro.product.cpu.abi"]
	if !ok {
		return errors.New("no ro.product.cpu.abi property")
	}
	urlStr := "https://github.com/openstf/stf/raw/master/vendor/minitouch/" + abi + "/minitouch"
	return pushFileFromHTTP(t.device, dst, 0755, urlStr)
}

func (t *touchInjector) runBinary() {
	var err error
	defer func() { t.doneError(err) }()
	c, err := t.device.OpenCommand("/data/local/tmp/minitouch")
	if err != nil {
		return
	}
	defer c.Close()
	_, err = io.Copy(io.Discard, c)
}

func (t *touchInjector) drainCmd() {
	if err := t.dialWithRetry(); err != nil {
		t.doneError(errors.Wrap(err, "dial minitouch"))
		return
	}
	for c := range t.cmdC {
		c = strings.TrimSpace(c) + "\nc\n"
		if _, err := io.WriteString(t.conn, c); err != nil {
			t.doneError(errors.Wrap(err, "write command to minitouch tcp"))
			t.conn.Close()
			t.conn = nil
			return
		}
	}
}

type lineFormatReader struct {
	bufrd *bufio.Reader
	err   error
}

func (r *lineFormatReader) Scanf(format string, args ...any) error {
	if r.err != nil {
		return r.err
	}
	var line []byte
	line, _, r.err = r.bufrd.ReadLine()
	if r.err != nil {
		return r.err
	}
	_, r.err = fmt.Sscanf(string(line), format, args...)
	return r.err
}

func (t *touchInjector) dialWithRetry() error {
	var err error
	for i := 0; i < 10; i++ {
		if err = t.dialTouch(); err == nil {
			return nil
		}
		log().Debug("dial minitouch service failed, retrying: " + err.Error())
		time.Sleep(100 * time.Millisecond)
	}
	return err
}

func (t *touchInjector) dialTouch() error {
	port, err := t.device.ForwardToFreePort(adb.ForwardSpec{Protocol: adb.FProtocolAbstract, PortOrName: "minitouch"})
	if err != nil {
		return err
	}
	t.conn, err = net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return err
	}
	lineRd := lineFormatReader{bufrd: bufio.NewReader(t.conn)}
	var flag string
	var ver, maxContacts, maxPressure, pid int
	lineRd.Scanf("%s %d", &flag, &ver)
	lineRd.Scanf("%s %d %d %d %d", &flag, &maxContacts, &t.maxX, &t.maxY, &maxPressure)
	if err := lineRd.Scanf("%s %d", &flag, &pid); err != nil {
		t.conn.Close()
		return err
	}
	return nil
}
