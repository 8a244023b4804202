package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Publisher is what the domain services depend on. Both calls return
// immediately; failures are logged and never reach the caller.
type Publisher interface {
	NotifyStaff(ctx context.Context, n Notification)
	SendSMS(ctx context.Context, msg SMS)
}

// Observer is told the outcome of every dispatch. err is nil on success.
type Observer interface {
	DispatchFinished(channel string, err error)
}

const defaultDispatchTimeout = 10 * time.Second

// Dispatcher fans messages out to a Sink and an SMSSink on background
// goroutines detached from the request context.
type Dispatcher struct {
	sink      Sink
	sms       SMSSink
	senderTag string
	logger    zerolog.Logger
	timeout   time.Duration
	inline    bool
	observer  Observer
	wg        sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Either sink may be nil, in which case
// that channel is dropped.
func NewDispatcher(sink Sink, sms SMSSink, senderTag string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sink:      sink,
		sms:       sms,
		senderTag: senderTag,
		logger:    logger.With().Str("component", "notification").Logger(),
		timeout:   defaultDispatchTimeout,
	}
}

// Synchronous makes every dispatch run inline. Used by tests and the sweep
// command, which exits right after dispatching.
func (d *Dispatcher) Synchronous() *Dispatcher {
	d.inline = true
	return d
}

func (d *Dispatcher) WithObserver(o Observer) *Dispatcher {
	d.observer = o
	return d
}

func (d *Dispatcher) NotifyStaff(ctx context.Context, n Notification) {
	if d.sink == nil {
		return
	}
	if n.Severity == "" {
		n.Severity = SeverityInfo
	}
	d.run(ctx, "notify", n.Title, func(ctx context.Context) error {
		return d.sink.Notify(ctx, n)
	})
}

func (d *Dispatcher) SendSMS(ctx context.Context, msg SMS) {
	if d.sms == nil {
		return
	}
	msg.Message = ComposeSMS(msg.Message, d.senderTag)
	d.run(ctx, "sms", msg.Category, func(ctx context.Context) error {
		return d.sms.Send(ctx, msg)
	})
}

// Wait blocks until in-flight dispatches finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, channel, label string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	if d.inline {
		d.invoke(ctx, channel, label, fn)
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.invoke(ctx, channel, label, fn)
	}()
}

func (d *Dispatcher) invoke(ctx context.Context, channel, label string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			d.logger.Error().
				Str("channel", channel).
				Str("label", label).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("dispatch panicked")
		}
		if d.observer != nil {
			d.observer.DispatchFinished(channel, err)
		}
	}()

	if err = fn(ctx); err != nil {
		d.logger.Warn().Err(err).
			Str("channel", channel).
			Str("label", label).
			Msg("dispatch failed")
	}
}
