package devctl

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAsyncRunnerFIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int

	r := NewAsyncRunner[int](func(id Id, job int) bool {
		mu.Lock()
		order = append(order, job)
		mu.Unlock()
		return true
	})
	defer r.Release()

	var ids []Id
	for i := 0; i < 20; i++ {
		ids = append(ids, r.Post(i, false))
	}
	r.Wait(ids[len(ids)-1])

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestAsyncRunnerMonotonicIDs(t *testing.T) {
	r := NewAsyncRunner[int](func(id Id, job int) bool { return true })
	defer r.Release()

	var last Id
	for i := 0; i < 50; i++ {
		id := r.Post(i, true)
		assert.Greater(t, id, last)
		last = id
	}
}

func TestAsyncRunnerStatusLifecycle(t *testing.T) {
	release := make(chan struct{})
	r := NewAsyncRunner[int](func(id Id, job int) bool {
		<-release
		return job%2 == 0
	})
	defer r.Release()

	idOK := r.Post(4, false)
	idFail := r.Post(3, false)

	assert.Equal(t, StatusPending, r.Status(idFail))
	close(release)

	r.Wait(idFail)
	assert.Equal(t, StatusSuccess, r.Status(idOK))
	assert.Equal(t, StatusFailed, r.Status(idFail))
}

func TestAsyncRunnerStatusInvalidForUnknownID(t *testing.T) {
	r := NewAsyncRunner[int](func(id Id, job int) bool { return true })
	defer r.Release()
	assert.Equal(t, StatusInvalid, r.Status(Id(999999)))
}

func TestAsyncRunnerBlockingPostWaitsForTerminal(t *testing.T) {
	var ran atomic.Bool
	r := NewAsyncRunner[int](func(id Id, job int) bool {
		time.Sleep(10 * time.Millisecond)
		ran.Store(true)
		return true
	})
	defer r.Release()

	id := r.Post(1, true)
	assert.True(t, ran.Load())
	assert.True(t, r.Status(id).Terminal())
}

func TestAsyncRunnerPanicBecomesFailed(t *testing.T) {
	r := NewAsyncRunner[int](func(id Id, job int) bool {
		panic("boom")
	})
	defer r.Release()

	id := r.Post(1, true)
	assert.Equal(t, StatusFailed, r.Status(id))
}

func TestAsyncRunnerClearWipesStatus(t *testing.T) {
	release := make(chan struct{})
	r := NewAsyncRunner[int](func(id Id, job int) bool {
		<-release
		return true
	})
	defer r.Release()
	defer close(release)

	id := r.Post(1, false)
	r.Clear()
	assert.Equal(t, StatusInvalid, r.Status(id))
}

func TestAsyncRunnerForEachSnapshotsQueue(t *testing.T) {
	release := make(chan struct{})
	r := NewAsyncRunner[int](func(id Id, job int) bool {
		<-release
		return true
	})
	defer r.Release()
	defer close(release)

	r.Post(1, false)
	r.Post(2, false)
	r.Post(3, false)

	var seen []int
	time.Sleep(5 * time.Millisecond)
	r.ForEach(func(id Id, job int) { seen = append(seen, job) })
	assert.LessOrEqual(t, len(seen), 3)
}
