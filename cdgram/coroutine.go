package cdgram

import "sync"

// Turnable adapts a suspendable computation into a start/turn interface
// usable from synchronous code: the server's receive loop drives many
// concurrent handshakes over one socket without a task runtime per peer.
//
// The coroutine body runs on its own goroutine and suspends only at
// explicit calls to Yielder.Yield — it never blocks on I/O of its own,
// so unlike a general-purpose scheduler primitive this one only needs to
// hand off between the caller and the body goroutine, never to poll for
// readiness. This is a cooperative, single-peer primitive: a Turnable
// must not be started or turned concurrently from two goroutines.
type Turnable[I, O, S any] struct {
	feed  chan I
	yield chan O
	abort chan struct{}
	done  chan struct{}

	once   sync.Once
	result S
	err    error
}

// Yielder is the handle a coroutine body uses to suspend itself.
type Yielder[I, O any] struct {
	feed  chan I
	yield chan O
	abort chan struct{}
}

// Yield publishes v and blocks until the next Turn feeds an input, or
// the Turnable is aborted. ok is false only on abort, in which case the
// body should return promptly (its return value is discarded).
func (y *Yielder[I, O]) Yield(v O) (in I, ok bool) {
	select {
	case y.yield <- v:
	case <-y.abort:
		return in, false
	}
	select {
	case in = <-y.feed:
		return in, true
	case <-y.abort:
		return in, false
	}
}

// NewTurnable allocates a Turnable. Call Start to launch the body.
func NewTurnable[I, O, S any]() *Turnable[I, O, S] {
	return &Turnable[I, O, S]{
		feed:  make(chan I),
		yield: make(chan O),
		abort: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start runs body on a new goroutine until its first suspension or
// completion. ok reports whether it suspended (out is the yielded
// value); !ok means it completed without ever yielding.
func (t *Turnable[I, O, S]) Start(body func(*Yielder[I, O]) (S, error)) (out O, ok bool) {
	y := &Yielder[I, O]{feed: t.feed, yield: t.yield, abort: t.abort}
	go func() {
		t.result, t.err = body(y)
		close(t.done)
	}()
	select {
	case out = <-t.yield:
		return out, true
	case <-t.done:
		return out, false
	}
}

// Turn resumes the coroutine with feed. done reports completion; if
// done, result/err hold the final outcome and out is the zero value.
func (t *Turnable[I, O, S]) Turn(feed I) (out O, done bool, result S, err error) {
	select {
	case t.feed <- feed:
	case <-t.done:
		return out, true, t.result, t.err
	}
	select {
	case out = <-t.yield:
		return out, false, result, nil
	case <-t.done:
		return out, true, t.result, t.err
	}
}

// Abort unblocks a coroutine parked in Yield without waiting for it to
// reach a natural suspension point, so its goroutine doesn't leak when
// the caller discards the Turnable (e.g. CDGramServer.Close on a peer
// whose handshake never finishes). Safe to call more than once.
func (t *Turnable[I, O, S]) Abort() {
	t.once.Do(func() { close(t.abort) })
}
