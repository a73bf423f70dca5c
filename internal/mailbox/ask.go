package mailbox

import (
	"context"
	"fmt"
)

type answer[R any] struct {
	value R
	err   error
}

// Ask runs fn inside m and waits for its result.
func Ask[R any](ctx context.Context, m *Mailbox, name string, fn func() (R, error)) (R, error) {
	var zero R
	if m.Closed() {
		return zero, ErrClosed
	}
	reply := make(chan answer[R], 1)
	m.Tell(name, func() error {
		defer func() {
			if r := recover(); r != nil {
				reply <- answer[R]{err: fmt.Errorf("%w: %v", ErrPanic, r)}
				panic(r)
			}
		}()
		v, err := fn()
		reply <- answer[R]{value: v, err: err}
		return err
	})
	select {
	case a := <-reply:
		return a.value, a.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
