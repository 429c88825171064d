package services

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	defaultNotificationQueueSize = 256
	defaultNotificationWorkers   = 2
	defaultNotificationTimeout   = 5 * time.Second
)

// NotificationDispatcherDeps configures the in-process fan-out queue.
type NotificationDispatcherDeps struct {
	Sinks       []NotificationSink
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
	Metrics     Metrics
	Logger      Logger
}

// AsyncNotificationDispatcher buffers notifications and delivers them to every sink from
// a fixed set of workers. A full queue drops the notification instead of blocking.
type AsyncNotificationDispatcher struct {
	sinks   []NotificationSink
	queue   chan Notification
	timeout time.Duration
	metrics Metrics
	logger  Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ NotificationDispatcher = (*AsyncNotificationDispatcher)(nil)

// NewNotificationDispatcher starts the worker goroutines. Close drains the queue.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (*AsyncNotificationDispatcher, error) {
	sinks := make([]NotificationSink, 0, len(deps.Sinks))
	for _, sink := range deps.Sinks {
		if sink == nil {
			return nil, errors.New("notification dispatcher: nil sink")
		}
		sinks = append(sinks, sink)
	}
	size := deps.QueueSize
	if size <= 0 {
		size = defaultNotificationQueueSize
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultNotificationWorkers
	}
	timeout := deps.SendTimeout
	if timeout <= 0 {
		timeout = defaultNotificationTimeout
	}

	d := &AsyncNotificationDispatcher{
		sinks:   sinks,
		queue:   make(chan Notification, size),
		timeout: timeout,
		metrics: defaultMetrics(deps.Metrics),
		logger:  defaultLogger(deps.Logger),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d, nil
}

// Dispatch enqueues the notification. It never blocks and never reports failure.
func (d *AsyncNotificationDispatcher) Dispatch(ctx context.Context, notification Notification) {
	if d == nil || len(d.sinks) == 0 {
		return
	}
	if notification.OccurredAt.IsZero() {
		notification.OccurredAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ctx, notification, "closed")
		return
	}
	select {
	case d.queue <- notification:
	default:
		d.drop(ctx, notification, "queue_full")
	}
}

// Close stops accepting notifications and waits for queued ones to be delivered or for
// ctx to end.
func (d *AsyncNotificationDispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *AsyncNotificationDispatcher) run() {
	defer d.wg.Done()
	for notification := range d.queue {
		d.deliver(notification)
	}
}

func (d *AsyncNotificationDispatcher) deliver(notification Notification) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.send(ctx, sink, notification)
		cancel()
		d.metrics.NotificationSent(sink.Name(), err)
		if err != nil {
			d.logger(ctx, "notification.send_failed", map[string]any{
				"sink":        sink.Name(),
				"type":        notification.Type,
				"recipientId": notification.RecipientID,
				"error":       err.Error(),
			})
		}
	}
}

func (d *AsyncNotificationDispatcher) send(ctx context.Context, sink NotificationSink, notification Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("notification sink panicked")
		}
	}()
	return sink.Send(ctx, notification)
}

func (d *AsyncNotificationDispatcher) drop(ctx context.Context, notification Notification, reason string) {
	d.metrics.NotificationDropped(reason)
	d.logger(ctx, "notification.dropped", map[string]any{
		"reason":      reason,
		"type":        notification.Type,
		"recipientId": notification.RecipientID,
	})
}
