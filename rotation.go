package devctl

import (
	"bufio"
	"strconv"
	"strings"
	"sync"
	"time"

	adb "github.com/openatx/go-adb"
	"github.com/openatx/go-adb/wire"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	rotationWatcherPkg      = "jp.co.cyberagent.stf.rotationwatcher"
	rotationWatcherMaxRetry = 3
)

// RotationWatcher streams device rotation changes (0, 90, 180, 270) by
// pushing and running the RotationWatcher helper APK. It is deliberately
// not part of the DeviceDriver interface (§4.5's operation table is
// closed); ADBDriver runs it as an optional side channel and, on every
// change, calls the callback registered with ADBDriver.OnRotate (nothing
// by default). Registering ControllerCore.InvalidateTargetSize there makes
// a screen flip recalibrate on the next screencap instead of the caller
// having to notice and invalidate manually. Adapted from the teacher's STFRotation
// (rotation.go).
type RotationWatcher struct {
	device *adb.Device

	mu          sync.Mutex
	lastValue   int
	subscribers map[chan int]bool
	cmdConn     *wire.Conn
	wg          sync.WaitGroup
	stopped     bool
	leftRetry   int
}

func NewRotationWatcher(device *adb.Device) *RotationWatcher {
	return &RotationWatcher{
		device:      device,
		subscribers: make(map[chan int]bool),
		leftRetry:   rotationWatcherMaxRetry,
		lastValue:   -1,
	}
}

// Rotation reports the last observed rotation in degrees, or an error if
// the watcher hasn't produced a reading yet.
func (r *RotationWatcher) Rotation() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastValue == -1 || r.stopped {
		return 0, errors.New("rotation watcher has no reading yet")
	}
	return r.lastValue, nil
}

func (r *RotationWatcher) Start() error {
	pmPath, err := r.preparePackage()
	if err != nil {
		return err
	}
	go func() {
		for {
			r.wg.Add(1)
			err := r.consoleStartProcess(pmPath)
			if err == nil {
				r.mu.Lock()
				r.leftRetry = rotationWatcherMaxRetry
				r.mu.Unlock()
			} else {
				log().Warn("rotation watcher run failed", zap.Error(err))
			}

			r.mu.Lock()
			r.leftRetry--
			stop := r.stopped || r.leftRetry <= 0
			if stop {
				for subC := range r.subscribers {
					delete(r.subscribers, subC)
					close(subC)
				}
			}
			r.wg.Done()
			r.mu.Unlock()
			if stop {
				return
			}
		}
	}()
	return nil
}

func (r *RotationWatcher) Stop() error {
	r.mu.Lock()
	r.stopped = true
	conn := r.cmdConn
	r.cmdConn = nil
	r.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	r.wg.Wait()
	return nil
}

// Subscribe returns a channel that receives every rotation change.
// Unsubscribe must be called to release it.
func (r *RotationWatcher) Subscribe() chan int {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := make(chan int, 1)
	r.subscribers[c] = true
	return c
}

func (r *RotationWatcher) Unsubscribe(c chan int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscribers[c]; !ok {
		return
	}
	delete(r.subscribers, c)
	close(c)
}

func (r *RotationWatcher) pub(v int) {
	r.mu.Lock()
	r.lastValue = v
	subs := make([]chan int, 0, len(r.subscribers))
	for c := range r.subscribers {
		subs = append(subs, c)
	}
	r.mu.Unlock()
	for _, c := range subs {
		select {
		case c <- v:
		case <-time.After(time.Second):
			r.Unsubscribe(c)
		}
	}
}

func (r *RotationWatcher) preparePackage() (pmPath string, err error) {
	if err := r.pushApk(); err != nil {
		return "", err
	}
	return r.packagePath(rotationWatcherPkg)
}

func (r *RotationWatcher) consoleStartProcess(pmPath string) error {
	fio, err := r.device.Command("CLASSPATH="+pmPath, "exec", "app_process", "/system/bin", rotationWatcherPkg+".RotationWatcher")
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cmdConn = fio
	r.mu.Unlock()
	defer fio.Close()

	readCount := 0
	scanner := bufio.NewScanner(fio)
	for scanner.Scan() {
		val, err := strconv.Atoi(scanner.Text())
		if err != nil {
			return err
		}
		readCount++
		r.pub(val)
	}
	if readCount > 0 {
		return nil
	}
	return errors.New("rotation watcher produced no readings")
}

func (r *RotationWatcher) pushApk() error {
	if _, err := r.packagePath(rotationWatcherPkg); err == nil {
		return nil
	}
	dst := "/data/local/tmp/RotationWatcher.apk"
	urlStr := "https://github.com/openatx/RotationWatcher.apk/releases/download/1.0/RotationWatcher.apk"
	if err := pushFileFromHTTP(r.device, dst, 0644, urlStr); err != nil {
		return err
	}
	_, err := adbCheckOutput(r.device, "pm", "install", "-rt", dst)
	return err
}

func (r *RotationWatcher) packagePath(name string) (string, error) {
	out, err := adbCheckOutput(r.device, "pm", "path", name)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(out, "package:") {
		return "", errors.New("no " + name + " package found")
	}
	return strings.TrimSpace(out[len("package:"):]), nil
}
