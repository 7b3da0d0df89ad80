package devctl

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	adb "github.com/openatx/go-adb"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// pushFileFromHTTP downloads urlStr and writes it to dst on the device.
// Adapted from the teacher's utils.go PushFileFromHTTP, unchanged in
// shape: it is exactly the mechanism ADBDriver needs to install the
// minicap/minitouch helper binaries the fast-path daemons push on demand.
func pushFileFromHTTP(d *adb.Device, dst string, perms os.FileMode, urlStr string) error {
	wc, err := d.OpenWrite(dst, perms, time.Now())
	if err != nil {
		return errors.Wrap(err, "open device write stream")
	}
	resp, err := http.Get(urlStr)
	if err != nil {
		return errors.Wrap(err, "download helper binary")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("http download <%s> status %v", urlStr, resp.Status)
	}
	log().Info("downloading helper binary", zap.String("dst", dst), zap.String("url", urlStr))
	if _, err = io.Copy(wc, resp.Body); err != nil {
		return errors.Wrap(err, "copy helper binary")
	}
	return wc.Close()
}

// adbCheckOutput runs name with args via an adb shell command and fails if
// the remote exit code was non-zero, by appending the teacher's own
// "; echo :$?" trailer and parsing it back out. Adapted from utils.go.
func adbCheckOutput(d *adb.Device, name string, args ...string) (outStr string, err error) {
	args = append(append([]string{}, args...), ";", "echo", ":$?")
	outStr, err = d.RunCommand(name, args...)
	if err != nil {
		return "", errors.Wrapf(err, "run %s %s", name, strings.Join(args, " "))
	}
	idx := strings.LastIndexByte(outStr, ':')
	if idx == -1 {
		return outStr, errors.New("adb shell error, parse exit code failed")
	}
	exitCode, _ := strconv.Atoi(strings.TrimSpace(outStr[idx+1:]))
	if exitCode != 0 {
		err = errors.Errorf("[adb shell %s %s] exit code %d", name, strings.Join(args, " "), exitCode)
	}
	return outStr[0:idx], err
}

// adbFileExists reports whether path exists on the device. Adapted from
// utils.go.
func adbFileExists(d *adb.Device, path string) bool {
	_, err := adbCheckOutput(d, "test", "-f", path)
	return err == nil
}

// goFunc runs f on a new goroutine and reports its result on the returned
// channel. Adapted from utils.go's GoFunc, used by the fast-capture daemon
// to race a blocking read against a quit signal.
func goFunc(f func() error) chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- f()
	}()
	return ch
}

// parseWmSize parses the output of `adb shell wm size`, e.g.
// "Physical size: 1080x1920", preferring the "Override size" line whenever
// it is present (the value an app actually sees once WindowManager applies
// a forced density/size override).
func parseWmSize(out string) (w, h int, err error) {
	var overrideW, overrideH int
	haveOverride := false
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		var dims string
		switch {
		case strings.HasPrefix(line, "Physical size:"):
			dims = strings.TrimSpace(strings.TrimPrefix(line, "Physical size:"))
		case strings.HasPrefix(line, "Override size:"):
			dims = strings.TrimSpace(strings.TrimPrefix(line, "Override size:"))
		default:
			continue
		}
		parts := strings.SplitN(dims, "x", 2)
		if len(parts) != 2 {
			continue
		}
		pw, e1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		ph, e2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if e1 != nil || e2 != nil {
			continue
		}
		if strings.HasPrefix(line, "Override") {
			overrideW, overrideH, haveOverride = pw, ph, true
		} else {
			w, h = pw, ph
		}
	}
	if haveOverride {
		return overrideW, overrideH, nil
	}
	if w == 0 || h == 0 {
		return 0, 0, fmt.Errorf("could not parse wm size output: %q", out)
	}
	return w, h, nil
}
