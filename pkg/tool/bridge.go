package tool

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/root4loot/pagesnap/pkg/progress"
	"github.com/root4loot/pagesnap/pkg/screener"
)

// worker runs one capture on its own goroutine.
type worker struct {
	done   chan struct{}
	result screener.Result // written once, before done is closed
}

// startWorker runs fn in a new goroutine. Whatever happens inside fn, including a
// panic, the queue is closed exactly once and a Result is stored before done closes.
// The capture is not cancelled when ctx is.
func startWorker(ctx context.Context, queue *progress.Queue, fn func(context.Context) screener.Result) *worker {
	w := &worker{done: make(chan struct{})}
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer close(w.done)
		defer queue.Close()
		defer func() {
			if r := recover(); r != nil {
				screener.Log.WithField("stack", string(debug.Stack())).Errorf("Capture panicked: %v", r)
				w.result = screener.Failure{Description: fmt.Sprintf("capture panicked: %v", r)}
			}
		}()

		w.result = fn(ctx)
		if w.result == nil {
			w.result = screener.Failure{Description: "capture returned no result"}
		}
	}()

	return w
}

// wait blocks until the goroutine has exited and returns its result.
func (w *worker) wait() screener.Result {
	<-w.done
	return w.result
}
