package devctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/facebookgo/freeport"
	adb "github.com/openatx/go-adb"
	"go.uber.org/zap"
)

// minicapInfo is the JSON object `minicap -i` prints, describing the
// device's real dimensions and current rotation. Adapted from minicap.go.
type minicapInfo struct {
	Id       int     `json:"id"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Rotation int     `json:"rotation"`
	Fps      float32 `json:"fps"`
	Secure   bool    `json:"secure"`
}

// fastCapture pushes and drives the minicap native helper for low-latency
// JPEG screen capture. It has no fallback of its own: when minicap is
// unsupported, fails to start or fails a capture, ADBDriver.Screencap
// switches to plain `adb shell screencap`. Adapted from the teacher's
// minicapDaemon + jpgTcpSucker pair (minicap.go), narrowed to the single
// blocking Screencap call §4.5's DeviceDriver contract wants instead of a
// long-lived streaming channel.
type fastCapture struct {
	device *adb.Device

	lifecycle
	width, height int
	port          int
	quitC         chan struct{}
	frames        chan []byte
	conn          net.Conn
}

func newFastCapture(device *adb.Device) *fastCapture {
	return &fastCapture{device: device}
}

func (f *fastCapture) Start() error {
	if !f.markStarted() {
		return errors.New("fast capture already started")
	}
	f.quitC = make(chan struct{})
	f.frames = make(chan []byte, 2)

	if err := f.pushFiles(); err != nil {
		f.markStopped()
		return err
	}
	info, err := f.prepare()
	if err != nil {
		f.markStopped()
		return err
	}
	f.width, f.height = info.Width, info.Height

	port, err := f.prepareForward()
	if err != nil {
		f.markStopped()
		return err
	}
	f.port = port

	f.resetError()
	go f.runWithRestart(info.Rotation)
	return nil
}

func (f *fastCapture) Stop() error {
	if f.quitC != nil {
		close(f.quitC)
	}
	err := f.Wait()
	f.markStopped()
	return err
}

// Screencap blocks until the next frame is available, decodes it, and
// returns it. ctx's deadline, if any, bounds the wait.
func (f *fastCapture) Screencap(ctx context.Context) (image.Image, error) {
	select {
	case frame := <-f.frames:
		return jpeg.Decode(bytes.NewReader(frame))
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return nil, errors.New("fast capture: timed out waiting for a frame")
	}
}

func (f *fastCapture) prepare() (mi minicapInfo, err error) {
	out, err := f.device.RunCommand("LD_LIBRARY_PATH=/data/local/tmp", "/data/local/tmp/minicap", "-i")
	if err != nil {
		return mi, err
	}
	err = json.Unmarshal([]byte(out), &mi)
	return mi, err
}

func (f *fastCapture) pushFiles() error {
	props, err := f.device.Properties()
	if err != nil {
		return err
	}
	abi, ok := props["ro.product.cpu.abi"]
	if !ok {
		return errors.New("no ro.product.cpu.abi property")
	}
	sdk, ok := props["ro.build.version.sdk"]
	if !ok {
		return errors.New("no ro.build.version.sdk property")
	}
	for _, filename := range []string{"minicap.so", "minicap"} {
		dst := "/data/local/tmp/" + filename
		if adbFileExists(f.device, dst) {
			continue
		}
		var urlStr string
		var perms os.FileMode = 0644
		if filename == "minicap.so" {
			urlStr = "https://github.com/openstf/stf/raw/master/vendor/minicap/shared/android-" + sdk + "/" + abi + "/minicap.so"
		} else {
			perms = 0755
			urlStr = "https://github.com/openstf/stf/raw/master/vendor/minicap/bin/" + abi + "/minicap"
		}
		if err := pushFileFromHTTP(f.device, dst, perms, urlStr); err != nil {
			return err
		}
	}
	return nil
}

func (f *fastCapture) prepareForward() (port int, err error) {
	fws, err := f.device.ForwardList()
	if err != nil {
		return 0, err
	}
	for _, fw := range fws {
		if fw.Remote.Protocol == "localabstract" && fw.Remote.PortOrName == "minicap" {
			port, _ = strconv.Atoi(fw.Local.PortOrName)
			return port, nil
		}
	}
	port, err = freeport.Get()
	if err != nil {
		return 0, err
	}
	err = f.device.Forward(adb.ForwardSpec{Protocol: "tcp", PortOrName: strconv.Itoa(port)},
		adb.ForwardSpec{Protocol: adb.FProtocolAbstract, PortOrName: "minicap"})
	return port, err
}

func (f *fastCapture) runWithRestart(rotation int) {
	f.killMinicap()
	var err error
	defer func() { f.doneError(err) }()

	errC := goFunc(func() error { return f.runScreenCapture(rotation) })
	for {
		select {
		case err = <-errC:
			return
		case <-f.quitC:
			f.killMinicap()
			return
		}
	}
}

func (f *fastCapture) runScreenCapture(rotation int) (err error) {
	param := fmt.Sprintf("%dx%d@%dx%d/%d", f.width, f.height, f.width, f.height, rotation)
	c, err := f.device.OpenCommand("LD_LIBRARY_PATH=/data/local/tmp", "/data/local/tmp/minicap", "-P", param, "-S")
	if err != nil {
		return err
	}
	defer c.Close()
	buf := bufio.NewReader(c)

	line, _, err := buf.ReadLine()
	if err != nil {
		return err
	}
	if !strings.Contains(string(line), "PID:") {
		return errors.New("minicap start failed, expected PID line, got: " + string(line))
	}

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(f.port))
	if err != nil {
		return err
	}
	f.conn = conn
	defer conn.Close()

	return f.readFrames(conn)
}

func (f *fastCapture) readFrames(conn net.Conn) error {
	var pid, rw, rh, vw, vh uint32
	var version, unused, orientation uint8

	rd := bufio.NewReader(conn)
	if err := binary.Read(rd, binary.LittleEndian, &version); err != nil {
		return err
	}
	for _, v := range []any{&unused, &pid, &rw, &rh, &vw, &vh, &orientation, &unused} {
		if err := binary.Read(rd, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	for {
		var size uint32
		if err := binary.Read(rd, binary.LittleEndian, &size); err != nil {
			return err
		}
		lr := &io.LimitedReader{R: rd, N: int64(size)}
		var frameBuf bytes.Buffer
		if _, err := io.Copy(&frameBuf, lr); err != nil {
			return err
		}
		if frameBuf.Len() < 2 || frameBuf.Bytes()[0] != 0xff || frameBuf.Bytes()[1] != 0xd8 {
			return errors.New("jpeg format error, frame does not start with 0xff,0xd8")
		}
		select {
		case f.frames <- frameBuf.Bytes():
		default:
			log().Warn("dropping screencap frame, consumer too slow")
		}
		select {
		case <-f.quitC:
			return nil
		default:
		}
	}
}

func (f *fastCapture) killMinicap() {
	if err := killProc(f.device, "minicap", syscall.SIGKILL); err != nil {
		log().Debug("kill minicap", zap.Error(err))
	}
}

// killProc greps `ps -C psName` for sig to send and kills every matching
// PID. Adapted near-verbatim from the teacher's killProc (minicap.go,
// minitouch.go both carried a copy of this; this repository keeps one).
func killProc(d *adb.Device, psName string, sig syscall.Signal) error {
	out, err := d.RunCommand("ps", "-C", psName)
	if err != nil {
		return err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) <= 1 {
		return errors.New("no process named " + psName + " found")
	}
	pidIndex := 0
	for idx, val := range strings.Fields(lines[0]) {
		if val == "PID" {
			pidIndex = idx
			break
		}
	}
	for _, line := range lines[1:] {
		if !strings.Contains(line, psName) {
			continue
		}
		fields := strings.Fields(line)
		if pidIndex >= len(fields) {
			continue
		}
		d.RunCommand("kill", "-"+strconv.Itoa(int(sig)), fields[pidIndex])
	}
	return nil
}
