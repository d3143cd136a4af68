package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rbright/brainlive/internal/ledger"
	"github.com/rbright/brainlive/internal/live"
	"github.com/rbright/brainlive/internal/pcm"
	"github.com/rbright/brainlive/internal/playback"
	"github.com/rbright/brainlive/internal/transcript"
)

// eventLog collects side effects from every fake in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeDevice struct {
	log     *eventLog
	openErr error

	mu     sync.Mutex
	onPCM  func([]byte)
	opens  atomic.Int32
	closes atomic.Int32
}

func (d *fakeDevice) Open(_ context.Context, onPCM func([]byte)) (io.Closer, error) {
	d.opens.Add(1)
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.mu.Lock()
	d.onPCM = onPCM
	d.mu.Unlock()
	return closerFunc(func() error {
		d.closes.Add(1)
		d.log.add("microphone released")
		return nil
	}), nil
}

// emit delivers raw PCM the way a device callback would.
func (d *fakeDevice) emit(buf []byte) {
	d.mu.Lock()
	onPCM := d.onPCM
	d.mu.Unlock()
	if onPCM != nil {
		onPCM(buf)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type fakeConn struct {
	log *eventLog
	in  chan live.Message

	mu     sync.Mutex
	frames []pcm.Frame
	err    error
	closes atomic.Int32
}

func newFakeConn(log *eventLog) *fakeConn {
	return &fakeConn{log: log, in: make(chan live.Message, 16)}
}

func (c *fakeConn) SendAudio(_ context.Context, frame pcm.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Messages() <-chan live.Message { return c.in }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.log.add("connection closed")
	return nil
}

// fail simulates the remote dropping the connection.
func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.in)
}

func (c *fakeConn) sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type fakeDialer struct {
	conn    *fakeConn
	err     error
	block   bool
	dialing chan struct{}

	mu     sync.Mutex
	setups []live.Setup
}

func (d *fakeDialer) Dial(ctx context.Context, setup live.Setup) (live.Conn, error) {
	d.mu.Lock()
	d.setups = append(d.setups, setup)
	d.mu.Unlock()
	if d.dialing != nil {
		close(d.dialing)
	}
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func (d *fakeDialer) calls() []live.Setup {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]live.Setup(nil), d.setups...)
}

type scheduled struct {
	at       float64
	duration float64
}

type fakeOutput struct {
	log *eventLog
	now float64

	mu        sync.Mutex
	scheduled []scheduled
	stopped   int
	closes    atomic.Int32
}

func (o *fakeOutput) Now() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) Schedule(buf pcm.Buffer, at float64, _ func()) (playback.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scheduled = append(o.scheduled, scheduled{at: at, duration: buf.Duration()})
	return handleFunc(func() {
		o.mu.Lock()
		o.stopped++
		o.mu.Unlock()
		o.log.add("playback handle stopped")
	}), nil
}

func (o *fakeOutput) Close() error {
	o.closes.Add(1)
	o.log.add("output closed")
	return nil
}

func (o *fakeOutput) snapshot() ([]scheduled, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]scheduled(nil), o.scheduled...), o.stopped
}

type handleFunc func()

func (f handleFunc) Stop() { f() }

type fakeLedger struct {
	mu    sync.Mutex
	turns []transcript.Turn
	err   error
}

func (l *fakeLedger) AppendTurn(_ context.Context, turn transcript.Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.turns = append(l.turns, turn)
	return nil
}

func (l *fakeLedger) Current() ledger.Session {
	return ledger.Session{ID: "ledger-1"}
}

func (l *fakeLedger) snapshot() []transcript.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]transcript.Turn(nil), l.turns...)
}

type submission struct {
	sessionID string
	segment   string
	locale    string
}

type fakeSummarizer struct {
	mu   sync.Mutex
	subs []submission
}

func (f *fakeSummarizer) Submit(sessionID string, segment string, locale string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, submission{sessionID: sessionID, segment: segment, locale: locale})
	return true
}

func (f *fakeSummarizer) snapshot() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submission(nil), f.subs...)
}

type fakeIndicator struct {
	starts atomic.Int32
	stops  atomic.Int32
	errors atomic.Int32
}

func (f *fakeIndicator) CueStart(context.Context) { f.starts.Add(1) }
func (f *fakeIndicator) CueStop(context.Context)  { f.stops.Add(1) }
func (f *fakeIndicator) CueError(context.Context) { f.errors.Add(1) }

var errDialRefused = errors.New("dial refused")
