// Package queue is the message boundary between item discovery and item
// processing. Messages are opaque JSON envelopes; delivery is at-least-once,
// so consumers must tolerate redelivery (the pipeline's duplicate check
// covers that).
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned once a closed queue has been fully drained.
var ErrClosed = errors.New("queue closed")

type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

type Consumer interface {
	// Receive blocks until a message is available, the context is done, or
	// the queue is closed and drained.
	Receive(ctx context.Context) ([]byte, error)
}

// Memory is an in-process queue backed by a buffered channel. Close stops
// new publishes; consumers keep receiving until the backlog drains.
type Memory struct {
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 64
	}
	return &Memory{
		ch:   make(chan []byte, capacity),
		done: make(chan struct{}),
	}
}

func (m *Memory) Publish(ctx context.Context, body []byte) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.ch <- body:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Receive(ctx context.Context) ([]byte, error) {
	// Drain the backlog even after Close.
	select {
	case body := <-m.ch:
		return body, nil
	default:
	}
	select {
	case body := <-m.ch:
		return body, nil
	case <-m.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the current backlog size.
func (m *Memory) Len() int {
	return len(m.ch)
}

func (m *Memory) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}
