package devctl

import "sync"

// Servicer is a start/stop/wait-shaped background component. ADBDriver
// composes two of them (the fast screen-capture daemon and the
// touch-injection daemon), adapted from the teacher's own Servicer
// interface in stf.go.
type Servicer interface {
	Start() error
	Stop() error
	Wait() error
}

type multiServ struct {
	ss []Servicer
}

func (m *multiServ) Start() error {
	for _, s := range m.ss {
		if err := s.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiServ) Stop() error {
	var err error
	for _, s := range m.ss {
		if er := s.Stop(); er != nil {
			err = er
		}
	}
	return err
}

func (m *multiServ) Wait() error {
	errC := make(chan error, len(m.ss))
	for _, s := range m.ss {
		go func(s Servicer) {
			errC <- s.Wait()
		}(s)
	}
	var err error
	for range m.ss {
		if e := <-errC; e != nil {
			err = e
		}
	}
	return err
}

// MultiServicer combines several Servicers into one, started/stopped
// together. Adapted from servicer.go; the teacher's Wait() only read the
// first channel result and leaked the rest, which this rewrite fixes by
// draining all of them.
func MultiServicer(ss ...Servicer) Servicer {
	return &multiServ{ss}
}

// lifecycle is a small start/stop completion helper for a Servicer
// implementation: resetError() arms a fresh completion gate before a
// daemon's background goroutine starts, doneError() reports its eventual
// outcome exactly once, and Wait() blocks for it. Adapted from the
// teacher's errorMixin (servicer.go); renamed since "mixin" in Go is just
// embedding, and this one concept (not two) is all the teacher's code
// actually used.
type lifecycle struct {
	mu   sync.Mutex
	once *sync.Once
	wg   *sync.WaitGroup
	err  error

	startMu sync.Mutex
	started bool
}

// resetError must be called before the guarded goroutine starts.
func (l *lifecycle) resetError() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.once = &sync.Once{}
	l.wg = &sync.WaitGroup{}
	l.wg.Add(1)
}

func (l *lifecycle) Wait() error {
	l.mu.Lock()
	wg := l.wg
	l.mu.Unlock()
	if wg == nil {
		return nil
	}
	wg.Wait()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *lifecycle) doneError(err error) {
	l.mu.Lock()
	once := l.once
	l.mu.Unlock()
	if once == nil {
		return
	}
	once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		l.wg.Done()
	})
}

// markStarted reports whether this is the first Start() call since the
// last Stop(), guarding against double-start the way the teacher's
// (buggy, self-recursive) threadSafeServ tried to and failed — see
// DESIGN.md for why that type was dropped rather than adapted.
func (l *lifecycle) markStarted() bool {
	l.startMu.Lock()
	defer l.startMu.Unlock()
	if l.started {
		return false
	}
	l.started = true
	return true
}

func (l *lifecycle) markStopped() {
	l.startMu.Lock()
	defer l.startMu.Unlock()
	l.started = false
}
