// Package editclient implements the client side of the collaborative
// editing engine: the websocket transport, the session state machine, and
// the save coordinator.
package editclient

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"nhooyr.io/websocket"

	"github.com/wayfarerhq/plansync/internal/wire"
)

var ErrNotConnected = errors.New("not connected")

// Logger is the minimal logging surface the engine needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Handler consumes the body of a MESSAGE frame delivered on a subscribed
// destination.
type Handler func(body []byte)

type TransportOptions struct {
	URL            string
	Token          string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	Logger         Logger
	Metrics        *Metrics
}

// Transport owns the single duplex connection for one client session. It
// redials with a fixed delay after a drop, re-subscribes the registered
// destinations with fresh handles on every (re)connect, and exposes a
// synchronous, liveness-based Publish that never queues: an operation that
// could not be handed to a live connection is reported lost to the caller.
type Transport struct {
	url            string
	token          string
	reconnectDelay time.Duration
	dialTimeout    time.Duration
	writeTimeout   time.Duration
	logger         Logger
	metrics        *Metrics

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	subs         map[string]*subscription
	subSeq       int
	onConnect    func()
	onDisconnect func()

	runCtx    context.Context
	runCancel context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
	started   bool
}

type subscription struct {
	id      string
	handler Handler
}

func NewTransport(opts TransportOptions) *Transport {
	reconnectDelay := opts.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		url:            opts.URL,
		token:          opts.Token,
		reconnectDelay: reconnectDelay,
		dialTimeout:    dialTimeout,
		writeTimeout:   writeTimeout,
		logger:         opts.Logger,
		metrics:        metrics,
		subs:           map[string]*subscription{},
		runCtx:         ctx,
		runCancel:      cancel,
	}
}

// OnConnect registers a callback invoked after every successful (re)connect
// and re-subscribe. Must be set before Start.
func (t *Transport) OnConnect(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = fn
}

// OnDisconnect registers a callback invoked when the connection drops.
func (t *Transport) OnDisconnect(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = fn
}

// Subscribe registers a handler for a destination. If the connection is
// live the SUBSCRIBE frame goes out immediately; otherwise it is sent on
// the next (re)connect.
func (t *Transport) Subscribe(destination string, handler Handler) {
	t.mu.Lock()
	t.subSeq++
	sub := &subscription{id: subscriptionID(t.subSeq), handler: handler}
	t.subs[destination] = sub
	conn := t.conn
	live := t.connected
	t.mu.Unlock()
	if live {
		t.writeFrame(conn, wire.NewSubscribeFrame(destination, sub.id))
	}
}

// Unsubscribe drops the handler for a destination.
func (t *Transport) Unsubscribe(destination string) {
	t.mu.Lock()
	sub, ok := t.subs[destination]
	delete(t.subs, destination)
	conn := t.conn
	live := t.connected
	t.mu.Unlock()
	if ok && live {
		t.writeFrame(conn, wire.NewUnsubscribeFrame(sub.id))
	}
}

// Publish sends one SEND frame if the connection is currently live. The
// boolean reports success synchronously; false means the operation must be
// treated as lost by the caller. Publish never buffers.
func (t *Transport) Publish(destination string, body any) bool {
	t.mu.Lock()
	conn := t.conn
	live := t.connected
	t.mu.Unlock()
	if !live || conn == nil {
		t.metrics.publishFailures.Inc()
		return false
	}
	frame, err := wire.NewSendFrame(destination, body)
	if err != nil {
		t.logf("encode for %s failed: %v", destination, err)
		t.metrics.publishFailures.Inc()
		return false
	}
	if !t.writeFrame(conn, frame) {
		t.metrics.publishFailures.Inc()
		return false
	}
	t.metrics.framesOut.Inc()
	return true
}

// Connected reports current liveness.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Start launches the connect/read/reconnect loop.
func (t *Transport) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run()
	}()
}

// Close tears the connection down and stops reconnecting.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		t.runCancel()
		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.connected = false
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "client shutdown")
		}
		t.wg.Wait()
	})
}

func (t *Transport) run() {
	delay := backoff.NewConstantBackOff(t.reconnectDelay)
	for {
		if t.runCtx.Err() != nil {
			return
		}
		conn, err := t.dial()
		if err != nil {
			t.logf("dial %s failed: %v", t.url, err)
			if !t.waitReconnect(delay.NextBackOff()) {
				return
			}
			continue
		}
		t.attach(conn)
		t.readLoop(conn)
		t.detach(conn)
		if t.runCtx.Err() != nil {
			return
		}
		if !t.waitReconnect(delay.NextBackOff()) {
			return
		}
	}
}

func (t *Transport) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(t.runCtx, t.dialTimeout)
	defer cancel()
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}
	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// attach installs the fresh connection, discards the previous
// subscription handles, and re-subscribes every registered destination
// with a new id so a reconnect can never produce duplicate delivery
// through a stale handle.
func (t *Transport) attach(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.connected = true
	type pending struct {
		destination string
		id          string
	}
	resubs := make([]pending, 0, len(t.subs))
	for destination, sub := range t.subs {
		t.subSeq++
		sub.id = subscriptionID(t.subSeq)
		resubs = append(resubs, pending{destination: destination, id: sub.id})
	}
	onConnect := t.onConnect
	t.mu.Unlock()

	for _, sub := range resubs {
		t.writeFrame(conn, wire.NewSubscribeFrame(sub.destination, sub.id))
	}
	t.metrics.reconnects.Inc()
	if onConnect != nil {
		onConnect()
	}
}

func (t *Transport) detach(conn *websocket.Conn) {
	t.mu.Lock()
	wasConnected := t.connected && t.conn == conn
	if t.conn == conn {
		t.conn = nil
		t.connected = false
	}
	onDisconnect := t.onDisconnect
	t.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "")
	if wasConnected && onDisconnect != nil {
		onDisconnect()
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(t.runCtx)
		if err != nil {
			if t.runCtx.Err() == nil {
				t.logf("connection lost: %v", err)
			}
			return
		}
		frame, err := wire.DecodeFrame(data)
		if err != nil {
			t.metrics.droppedFrames.Inc()
			t.logf("dropping frame: %v", err)
			continue
		}
		if frame.Command != wire.CommandMessage {
			t.metrics.droppedFrames.Inc()
			continue
		}
		t.metrics.framesIn.Inc()
		t.mu.Lock()
		sub := t.subs[frame.Destination]
		t.mu.Unlock()
		if sub == nil {
			continue
		}
		sub.handler(frame.Body)
	}
}

func (t *Transport) writeFrame(conn *websocket.Conn, frame wire.Frame) bool {
	data, err := wire.EncodeFrame(frame)
	if err != nil {
		t.logf("encode frame failed: %v", err)
		return false
	}
	ctx, cancel := context.WithTimeout(t.runCtx, t.writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.logf("write failed: %v", err)
		return false
	}
	return true
}

func (t *Transport) waitReconnect(delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-t.runCtx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (t *Transport) logf(format string, args ...any) {
	if t.logger == nil {
		return
	}
	t.logger.Printf(format, args...)
}

func subscriptionID(seq int) string {
	return "sub-" + strconv.Itoa(seq)
}
