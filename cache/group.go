package cache

import (
	"bytes"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/llxisdsh/pb"
)

// loadResult is delivered to every caller waiting on a load.
type loadResult[V any] struct {
	val    V
	err    error
	shared bool
}

// load is an in-flight loader call.
type load[V any] struct {
	val   V
	err   error
	dups  int32
	chans []chan<- loadResult[V]
}

// loadGroup collapses concurrent loads of the same key into one loader
// call. Keys are tracked only while their load is in flight.
type loadGroup[K comparable, V any] struct {
	m pb.MapOf[K, *load[V]]
}

// doChan starts fn for key unless a load for key is already in flight,
// and returns a channel receiving the result. The channel is buffered and
// never closed.
//
// If fn panics the process crashes, as with x/sync/singleflight.DoChan;
// a waiter abandoning the channel cannot observe the panic otherwise. If fn
// calls runtime.Goexit no result is sent.
func (g *loadGroup[K, V]) doChan(key K, fn func() (V, error)) <-chan loadResult[V] {
	ch := make(chan loadResult[V], 1)
	var l *load[V]
	_, joined := g.m.ProcessEntry(
		key,
		func(e *pb.EntryOf[K, *load[V]]) (*pb.EntryOf[K, *load[V]], *load[V], bool) {
			if e != nil {
				l = e.Value
				atomic.AddInt32(&l.dups, 1)
				l.chans = append(l.chans, ch)
				return e, l, true
			}
			l = &load[V]{chans: []chan<- loadResult[V]{ch}}
			return &pb.EntryOf[K, *load[V]]{Value: l}, l, false
		},
	)
	if !joined {
		go g.run(l, key, fn)
	}
	return ch
}

// inFlight reports the number of keys currently loading.
func (g *loadGroup[K, V]) inFlight() int {
	return g.m.Size()
}

func (g *loadGroup[K, V]) run(l *load[V], key K, fn func() (V, error)) {
	normalReturn := false
	recovered := false

	defer func() {
		if !normalReturn && !recovered {
			l.err = errGoexit
		}

		// Detach the load and take its waiters in the same step, so that no
		// caller joins after the broadcast.
		var chs []chan<- loadResult[V]
		_, _ = g.m.ProcessEntry(
			key,
			func(e *pb.EntryOf[K, *load[V]]) (*pb.EntryOf[K, *load[V]], *load[V], bool) {
				if e != nil && e.Value == l {
					chs = l.chans
					return nil, nil, false
				}
				return e, nil, false
			},
		)

		var pe *panicError
		if errors.As(l.err, &pe) {
			go panic(pe)
			select {}
		}
		if errors.Is(l.err, errGoexit) {
			return
		}
		shared := atomic.LoadInt32(&l.dups) > 0
		for _, ch := range chs {
			ch <- loadResult[V]{val: l.val, err: l.err, shared: shared}
		}
	}()

	func() {
		defer func() {
			if !normalReturn {
				if r := recover(); r != nil {
					l.err = newPanicError(r)
				}
			}
		}()

		l.val, l.err = fn()
		normalReturn = true
	}()

	if !normalReturn {
		recovered = true
	}
}

// panicError is a value recovered from a panicking loader, with the stack
// trace of the loader goroutine.
type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("%v\n\n%s", p.value, p.stack)
}

func (p *panicError) Unwrap() error {
	if err, ok := p.value.(error); ok {
		return err
	}
	return nil
}

func newPanicError(v any) error {
	stack := debug.Stack()
	// Trim first line "goroutine N [status]:" which can be misleading.
	if line := bytes.IndexByte(stack, '\n'); line >= 0 {
		stack = stack[line+1:]
	}
	return &panicError{value: v, stack: stack}
}

var errGoexit = errors.New("runtime.Goexit was called")
