// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package future provides a generic single-assignment result that is
// completed exactly once by a producer and awaited by any number of
// consumers.
package future

import (
	"context"
	"fmt"
	"sync"
)

// Future holds the eventual outcome of an asynchronous operation.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// New returns an incomplete future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future already completed with v.
func Completed[T any](v T) *Future[T] {
	f := New[T]()
	f.Complete(v)
	return f
}

// Failed returns a future already failed with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

// Complete sets the value. It reports whether this call completed the
// future; only the first Complete or Fail has effect.
func (f *Future[T]) Complete(v T) bool {
	return f.resolve(v, nil)
}

// Fail sets the error. It reports whether this call completed the future.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.resolve(zero, err)
}

func (f *Future[T]) resolve(v T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the future is complete.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Get waits for the outcome or for ctx to end.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryGet returns the outcome without blocking. ok is false while the
// future is incomplete.
func (f *Future[T]) TryGet() (v T, err error, ok bool) {
	select {
	case <-f.done:
		return f.val, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// Executor runs tasks. *ants.Pool satisfies it.
type Executor interface {
	Submit(task func()) error
}

// Go runs fn on exec and returns a future completed with its result.
// A nil exec runs fn on a new goroutine. A rejected submission or a panic
// in fn fails the future.
func Go[T any](exec Executor, fn func() (T, error)) *Future[T] {
	f := New[T]()
	task := func() {
		defer func() {
			if p := recover(); p != nil {
				f.Fail(fmt.Errorf("future: task panicked: %v", p))
			}
		}()
		v, err := fn()
		if err != nil {
			f.Fail(err)
			return
		}
		f.Complete(v)
	}

	if exec == nil {
		go task()
		return f
	}
	if err := exec.Submit(task); err != nil {
		f.Fail(fmt.Errorf("future: submit: %w", err))
	}
	return f
}

// Join waits for every future and returns their values in order. It stops
// at the first failure.
func Join[T any](ctx context.Context, fs []*Future[T]) ([]T, error) {
	out := make([]T, len(fs))
	for i, f := range fs {
		v, err := f.Get(ctx)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
