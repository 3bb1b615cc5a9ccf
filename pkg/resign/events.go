package resign

import (
	"sync"
	"sync/atomic"

	"github.com/aluedeke/go-appsigner/pkg/logging"
	"github.com/sirupsen/logrus"
)

// Observer receives progress of a run. Implementations must not block.
type Observer interface {
	Status(msg string)
	SignStarted(path string)
	SignFinished(path string, output string, err error)
}

// LogObserver reports progress through logrus. Status messages are logged
// as pipeline steps.
type LogObserver struct {
	Logger logrus.FieldLogger
}

func (o LogObserver) logger() logrus.FieldLogger {
	if o.Logger == nil {
		return logrus.StandardLogger()
	}
	return o.Logger
}

func (o LogObserver) Status(msg string) {
	o.logger().WithField(logging.StepField, msg).Info(msg)
}

func (o LogObserver) SignStarted(path string) {
	o.logger().WithField("file", path).Debug("codesigning")
}

func (o LogObserver) SignFinished(path string, output string, err error) {
	if err != nil {
		o.logger().WithField("file", path).WithError(err).Warn("error codesigning")
		if output != "" {
			o.logger().Debug(output)
		}
		return
	}
	o.logger().WithField("file", path).Debug("signed")
}

type nopObserver struct{}

func (nopObserver) Status(string)                      {}
func (nopObserver) SignStarted(string)                 {}
func (nopObserver) SignFinished(string, string, error) {}

type event struct {
	kind   int
	msg    string
	output string
	err    error
}

const (
	eventStatus = iota
	eventSignStarted
	eventSignFinished
)

// AsyncObserver forwards events to another Observer from its own goroutine.
// When the buffer is full events are dropped and counted instead of blocking
// the pipeline.
type AsyncObserver struct {
	next    Observer
	events  chan event
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// NewAsyncObserver starts forwarding to next with a buffer of size events
func NewAsyncObserver(next Observer, size int) *AsyncObserver {
	if size <= 0 {
		size = 64
	}
	o := &AsyncObserver{
		next:   next,
		events: make(chan event, size),
		done:   make(chan struct{}),
	}
	go o.loop()
	return o
}

func (o *AsyncObserver) loop() {
	defer close(o.done)
	for ev := range o.events {
		switch ev.kind {
		case eventStatus:
			o.next.Status(ev.msg)
		case eventSignStarted:
			o.next.SignStarted(ev.msg)
		case eventSignFinished:
			o.next.SignFinished(ev.msg, ev.output, ev.err)
		}
	}
}

func (o *AsyncObserver) send(ev event) {
	select {
	case o.events <- ev:
	default:
		o.dropped.Add(1)
	}
}

func (o *AsyncObserver) Status(msg string) {
	o.send(event{kind: eventStatus, msg: msg})
}

func (o *AsyncObserver) SignStarted(path string) {
	o.send(event{kind: eventSignStarted, msg: path})
}

func (o *AsyncObserver) SignFinished(path string, output string, err error) {
	o.send(event{kind: eventSignFinished, msg: path, output: output, err: err})
}

// Dropped returns the number of events discarded because the buffer was full
func (o *AsyncObserver) Dropped() int64 {
	return o.dropped.Load()
}

// Close stops accepting events and waits until the buffered ones are delivered.
// No event may be sent after Close.
func (o *AsyncObserver) Close() {
	o.once.Do(func() {
		close(o.events)
	})
	<-o.done
}
