package core

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStrandSerializesUnderLoad(t *testing.T) {
	ctx := newTestContext(t, 8)

	const (
		services  = 8
		producers = 16
		perSender = 200
	)

	type probe struct {
		svc       *Service
		active    atomic.Int32
		maxActive atomic.Int32
		handled   atomic.Int32
	}

	probes := make([]*probe, services)
	for i := range probes {
		p := &probe{svc: NewService(ctx, "")}
		On(p.svc, func(from ServiceID, msg Request) {
			n := p.active.Add(1)
			for {
				cur := p.maxActive.Load()
				if n <= cur || p.maxActive.CompareAndSwap(cur, n) {
					break
				}
			}
			runtime.Gosched()
			p.active.Add(-1)
			p.handled.Add(1)
		})
		probes[i] = p
	}

	var wg sync.WaitGroup
	for g := 0; g < producers; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				for _, p := range probes {
					DispatchFrom(ctx, p.svc.ID(), Request{Session: uint32(i)})
				}
			}
		}()
	}
	wg.Wait()

	want := int32(producers * perSender)
	waitFor(t, 10*time.Second, func() bool {
		for _, p := range probes {
			if p.handled.Load() != want {
				return false
			}
		}
		return true
	})

	for i, p := range probes {
		if max := p.maxActive.Load(); max != 1 {
			t.Errorf("service %d: expected at most 1 concurrent handler, saw %d", i, max)
		}
	}
}

func TestDispatchPreservesPairOrder(t *testing.T) {
	ctx := newTestContext(t, 4)

	a := NewService(ctx, "a")
	b := NewService(ctx, "b")

	const total = 1000
	var got []uint32
	done := make(chan struct{})

	On(b, func(from ServiceID, msg Request) {
		if from != a.ID() {
			t.Errorf("Expected source %d, got %d", a.ID(), from)
		}
		got = append(got, msg.Session)
		if len(got) == total {
			close(done)
		}
	})

	for i := 0; i < total; i++ {
		Dispatch(a, b.ID(), Request{Session: uint32(i)})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for ordered messages")
	}

	for i, s := range got {
		if s != uint32(i) {
			t.Fatalf("Expected message %d at position %d, got %d", i, i, s)
		}
	}
}

func TestStrandRunsOnMultipleWorkers(t *testing.T) {
	ctx := newTestContext(t, 4)
	strand := NewStrand(ctx.Executor())

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		strand.Post(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("Expected FIFO order, position %d holds %d", i, v)
		}
	}
	if strand.Pending() != 0 {
		t.Errorf("Expected empty strand, got %d pending", strand.Pending())
	}
}

func TestExecutorStop(t *testing.T) {
	exec := NewExecutor("test", 2, nil)
	exec.Run()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		exec.Post(func() { ran.Add(1) })
	}

	exec.Stop()
	exec.Join()

	if ran.Load() != 10 {
		t.Errorf("Expected queued tasks to drain, ran %d", ran.Load())
	}
	if exec.Post(func() {}) {
		t.Error("Expected Post to fail after Stop")
	}
	if exec.Go(func() {}) {
		t.Error("Expected Go to fail after Stop")
	}
}

func TestExecutorRecoversPanics(t *testing.T) {
	exec := NewExecutor("test", 1, nil)
	exec.Run()
	defer func() {
		exec.Stop()
		exec.Join()
	}()

	exec.Post(func() { panic("boom") })

	done := make(chan struct{})
	exec.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Worker did not survive a panicking task")
	}
}

func TestExecutorGoTracked(t *testing.T) {
	exec := NewExecutor("io", 1, nil)
	exec.Run()

	var finished atomic.Bool
	exec.Go(func() {
		<-exec.Done()
		finished.Store(true)
	})

	exec.Stop()
	exec.Join()

	if !finished.Load() {
		t.Error("Expected Join to wait for tracked goroutine")
	}
}
