package stompcore

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"golang.org/x/sync/errgroup"

	"github.com/brokermq/stomp-core/internal/corelog"
)

type connState int32

const (
	stateInit connState = iota
	stateNegotiating
	stateAuthenticating
	stateOpen
	stateDrainingError
	stateClosed
)

var supportedVersions = []string{"1.0", "1.1"}

// ConnectionHandler is C7: the per-connection state machine that
// orchestrates handshake, frame dispatch, authentication, subscription
// lifecycle, and shutdown-with-grace (§4.7). It is a cooperative actor
// pinned to one dispatch queue: every field below is only ever touched
// from the goroutine running run(), whether directly (frame dispatch) or
// via a closure funneled through asyncEvents (§5).
type ConnectionHandler struct {
	conn   RawConnection
	config Config
	vhosts VirtualHostRegistry
	log    *corelog.Logger

	state     int32 // connState, atomic so Close()/diagnostics may read it off-loop
	version   string
	sessionID string
	host      Host
	secCtx    SecurityContext

	consumers       map[string]*ConsumerSession
	producerRoutes  *ProducerRoutes
	transactions    *TransactionRegistry
	connAckHandlers map[string]AckTracker // v1.0 fallback index, §3

	sink *connSink

	heartbeat *HeartBeatMonitor

	inFrames     chan *frame.Frame
	outFrames    chan *frame.Frame
	asyncEvents  chan func()
	resumeSignal chan struct{}
	done         chan struct{}
	suspended    bool
	waitingOn    string

	currentMessageID uint64
	dieOnce          sync.Once
	closeOnce        sync.Once
}

// NewConnectionHandler builds a handler around an already-accepted
// transport connection and starts its dispatch loop and read loop.
func NewConnectionHandler(conn RawConnection, config Config, vhosts VirtualHostRegistry) *ConnectionHandler {
	h := &ConnectionHandler{
		conn:         conn,
		config:       config,
		vhosts:       vhosts,
		log:          corelog.New(""),
		consumers:    make(map[string]*ConsumerSession),
		transactions: NewTransactionRegistry(nil),
		inFrames:     make(chan *frame.Frame, 32),
		outFrames:    make(chan *frame.Frame, 32),
		asyncEvents:  make(chan func(), 32),
		resumeSignal: make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	h.sink = &connSink{ch: h.outFrames}
	h.resumeSignal <- struct{}{} // reads are open until the first suspend

	go h.run()
	go h.readLoop()

	return h
}

// WaitingOn reports the diagnostic reason reads are currently suspended
// for, or "" if reads are open (§5).
func (h *ConnectionHandler) WaitingOn() string {
	return h.waitingOn
}

func (h *ConnectionHandler) State() connState {
	return connState(atomic.LoadInt32(&h.state))
}

// Close tears the connection down without emitting an ERROR frame, the
// path taken by DISCONNECT and by transport failure (§7 kind 4).
func (h *ConnectionHandler) Close() {
	h.postAsync(h.stop)
}

// --- read suspension (§5) ---

func (h *ConnectionHandler) suspendReads(reason string) {
	h.suspended = true
	h.waitingOn = reason
}

func (h *ConnectionHandler) resumeReads() {
	h.suspended = false
	h.waitingOn = ""
	select {
	case h.resumeSignal <- struct{}{}:
	default:
	}
}

func (h *ConnectionHandler) readLoop() {
	for {
		select {
		case <-h.resumeSignal:
		case <-h.done:
			return
		}
		if h.State() == stateClosed {
			return
		}

		f, err := h.conn.ReadFrame()
		if err != nil {
			h.postAsync(h.stop)
			return
		}
		if f == nil {
			// heart-beat newline: doesn't consume a dispatch slot.
			select {
			case h.resumeSignal <- struct{}{}:
			default:
			}
			continue
		}
		h.inFrames <- f
	}
}

// postAsync schedules fn to run on the dispatch loop. It is how every
// asynchronous collaborator callback re-enters the connection's single
// thread of execution (§5).
func (h *ConnectionHandler) postAsync(fn func()) {
	if h.State() == stateClosed {
		return
	}
	h.asyncEvents <- fn
}

func (h *ConnectionHandler) asyncDie(err *ConnError) {
	h.postAsync(func() { h.die(err) })
}

// --- dispatch loop ---

func (h *ConnectionHandler) run() {
	defer h.stop()
	for {
		if h.State() == stateClosed {
			return
		}
		select {
		case f, ok := <-h.outFrames:
			if !ok {
				return
			}
			h.writeFrame(f)

		case f, ok := <-h.inFrames:
			if !ok {
				return
			}
			h.dispatch(f)

		case fn, ok := <-h.asyncEvents:
			if !ok {
				return
			}
			fn()
		}
	}
}

func (h *ConnectionHandler) dispatch(f *frame.Frame) {
	h.suspended = false

	switch h.State() {
	case stateInit:
		if f.Command == frame.CONNECT || f.Command == frame.STOMP {
			atomic.StoreInt32(&h.state, int32(stateNegotiating))
			h.negotiate(f)
		} else {
			h.die(errNotConnected)
		}
	case stateNegotiating, stateAuthenticating:
		h.die(errAlreadyConnected)
	case stateOpen:
		h.dispatchOpen(f)
	default:
		// DRAINING_ERROR / CLOSED: silently drop further inbound activity.
	}

	if !h.suspended {
		select {
		case h.resumeSignal <- struct{}{}:
		default:
		}
	}
}

func (h *ConnectionHandler) dispatchOpen(f *frame.Frame) {
	var err error
	switch f.Command {
	case frame.SEND:
		err = h.handleSend(f)
	case frame.SUBSCRIBE:
		err = h.handleSubscribe(f)
	case frame.UNSUBSCRIBE:
		err = h.handleUnsubscribe(f)
	case frame.ACK:
		err = h.handleAck(f)
	case frame.BEGIN:
		err = h.handleTxStart(f)
	case frame.COMMIT:
		err = h.handleCommit(f)
	case frame.ABORT:
		err = h.handleAbort(f)
	case frame.DISCONNECT:
		h.sendReceipt(f)
		h.Close()
		return
	default:
		err = errUnsupportedCommand
	}

	if err != nil {
		if ce, ok := err.(*ConnError); ok {
			h.die(ce)
		} else {
			h.die(internalError(err.Error()))
		}
	}
}

// --- handshake (§4.7) ---

func (h *ConnectionHandler) negotiate(f *frame.Frame) {
	version, verr := chooseVersion(f)
	if verr != nil {
		h.die(verr)
		return
	}
	h.version = version

	cx, cy, err := parseHeartBeat(f)
	if err != nil {
		h.die(protocolError("invalid heart-beat header"))
		return
	}

	outboundMs := int64(h.config.OutboundHeartbeat() / time.Millisecond)
	inboundMs := int64(h.config.InboundHeartbeat() / time.Millisecond)
	writeInterval, readInterval := NegotiateHeartBeat(outboundMs, inboundMs, int64(cx/time.Millisecond), int64(cy/time.Millisecond))

	h.heartbeat = NewHeartBeatMonitor(h.conn, writeInterval, readInterval,
		func() { h.postAsync(func() { h.die(&ConnError{Kind: KindTransport, Message: "heart-beat timeout"}) }) },
		func() error {
			done := make(chan error, 1)
			h.postAsync(func() { done <- h.conn.WriteFrame(nil) })
			return <-done
		})
	h.heartbeat.Start()

	hostHeader := f.Header.Get(frame.Host)
	var host Host
	var ok bool
	if hostHeader == "" {
		host, ok = h.vhosts.DefaultHost()
	} else {
		host, ok = h.vhosts.Lookup(hostHeader)
	}
	if !ok {
		h.die(protocolError("unknown virtual host: " + hostHeader))
		return
	}
	h.host = host

	h.authenticate(f)
}

func (h *ConnectionHandler) authenticate(f *frame.Frame) {
	h.secCtx = SecurityContext{
		User:     f.Header.Get(frame.Login),
		Password: f.Header.Get(frame.Passcode),
	}

	auth := h.host.Authenticator()
	if auth == nil {
		h.completeConnect(f)
		return
	}

	atomic.StoreInt32(&h.state, int32(stateAuthenticating))
	h.suspendReads("authenticating")
	auth.Authenticate(h.secCtx, func(ok bool) {
		h.postAsync(func() {
			if !ok {
				h.die(authenticationError("Authentication failed."))
				return
			}
			h.completeConnect(f)
		})
	})
}

func (h *ConnectionHandler) completeConnect(f *frame.Frame) {
	h.sessionID = h.host.ID() + ":" + strconv.FormatUint(h.host.NextSessionCounter(), 10)
	h.log = h.log.WithSession(h.sessionID)
	atomic.StoreInt32(&h.state, int32(stateOpen))
	h.resumeReads()

	if pool := h.host.DirectBufferPool(); pool != nil {
		h.conn.AttachPool(pool)
	}

	outboundMs := int64(h.config.OutboundHeartbeat() / time.Millisecond)
	inboundMs := int64(h.config.InboundHeartbeat() / time.Millisecond)
	connected := frame.New(frame.CONNECTED,
		frame.Version, h.version,
		frame.Session, h.sessionID,
		frame.HeartBeat, fmt.Sprintf("%d,%d", outboundMs, inboundMs))
	h.enqueueControl(connected)

	h.producerRoutes = NewProducerRoutes(h.host.Router(), h, h.config.ProducerRouteCacheSize())
	if h.version == "1.0" {
		h.connAckHandlers = make(map[string]AckTracker)
	}
	h.transactions = NewTransactionRegistry(h.host.Store())

	h.log.Info("connected, version=%s", h.version)
}

func chooseVersion(f *frame.Frame) (string, *ConnError) {
	var requested []string
	if accept, ok := f.Header.Contains(frame.AcceptVersion); ok {
		requested = strings.Split(accept, ",")
	} else {
		requested = []string{"1.0"}
	}

	for _, want := range requested {
		want = strings.TrimSpace(want)
		for _, have := range supportedVersions {
			if want == have {
				return have, nil
			}
		}
	}

	return "", negotiationError(
		"version not supported",
		"Supported protocol versions are "+strings.Join(supportedVersions, ","),
		map[string]string{"version": strings.Join(supportedVersions, ",")})
}

func parseHeartBeat(f *frame.Frame) (cx, cy time.Duration, err error) {
	hb, ok := f.Header.Contains(frame.HeartBeat)
	if !ok {
		return 0, 0, nil
	}
	return frame.ParseHeartBeat(hb)
}

// --- SEND (§4.7) ---

func (h *ConnectionHandler) handleSend(f *frame.Frame) error {
	dest, ok := f.Header.Contains(frame.Destination)
	if !ok {
		return errMissingDestination
	}

	action := func(uow UOW) { h.executeSend(f, dest, uow) }

	if txID, hasTx := f.Header.Contains(frame.Transaction); hasTx {
		if err := h.transactions.Enqueue(txID, action); err != nil {
			return err
		}
		h.sendReceipt(f)
		return nil
	}

	// The receipt confirms the server accepted the frame, not that it was
	// delivered downstream: send it now, before the route lookup, so it
	// never races with (or duplicates against) a transactional replay.
	h.sendReceipt(f)
	h.executeSend(f, dest, nil)
	return nil
}

func (h *ConnectionHandler) executeSend(f *frame.Frame, dest string, uow UOW) {
	if route, ok := h.producerRoutes.Get(dest); ok {
		h.deliverSend(f, dest, route, uow)
		return
	}

	h.suspendReads("connecting route: " + dest)
	h.producerRoutes.Connect(dest, func(route Route, err error) {
		h.postAsync(func() {
			if err != nil {
				h.die(internalError("failed to connect route " + dest + ": " + err.Error()))
				return
			}
			h.resumeReads()
			h.deliverSend(f, dest, route, uow)
		})
	})
}

func (h *ConnectionHandler) deliverSend(f *frame.Frame, dest string, route Route, uow UOW) {
	if !route.HasTargets() {
		return
	}

	if _, hasID := f.Header.Contains(frame.MessageId); !hasID {
		h.currentMessageID++
		f.Header.Set(frame.MessageId, fmt.Sprintf("msg:%d", h.currentMessageID))
	}

	d := Delivery{Message: f, Size: len(f.Body), UOW: uow}
	if !route.Offer(d) {
		h.die(internalError("route rejected an offer on a non-full route"))
		return
	}

	if route.Full() {
		h.suspendReads("blocked destination: " + dest)
		route.OnRefill(func() {
			h.postAsync(h.resumeReads)
		})
	}
}

// --- SUBSCRIBE / UNSUBSCRIBE (§4.7) ---

func (h *ConnectionHandler) handleSubscribe(f *frame.Frame) error {
	dest, ok := f.Header.Contains(frame.Destination)
	if !ok {
		return errMissingDestination
	}

	id, hasID := f.Header.Contains(frame.Id)
	explicitID := hasID
	if !hasID {
		if h.version != "1.0" {
			return errMissingSubscribeID
		}
		id = dest
	}

	if _, exists := h.consumers[id]; exists {
		return errDuplicateSubscription
	}

	mode, ok := ParseAckMode(f.Header.Get(frame.Ack))
	if !ok {
		return errUnknownAckMode
	}
	var tracker AckTracker = NewAckTracker(mode)
	if h.version == "1.0" {
		tracker = &v10FallbackTracker{inner: tracker, index: h.connAckHandlers}
	}

	var selector CompiledSelector
	rawSelector, hasSelector := f.Header.Contains("selector")
	if hasSelector {
		compiled, err := CompileSelector(rawSelector)
		if err != nil {
			return err
		}
		selector = compiled
	}

	persistent := f.Header.Get("persistent") == "true"
	isTopic := strings.HasPrefix(dest, "/topic/")

	router := h.host.Router()

	if isTopic && !persistent {
		cs := NewConsumerSession(id, explicitID, dest, tracker, selector, nil, h.sink)
		h.consumers[id] = cs
		router.Bind(dest, cs)
		h.sendReceipt(f)
		return nil
	}

	kind := BindingQueue
	if isTopic {
		kind = BindingDurable
	}
	spec := BindingSpec{Kind: kind, Destination: dest, SubscriptionID: id, SelectorRaw: rawSelector}

	queue, ok := router.CreateQueue(spec)
	if !ok {
		return internalError("failed to create queue for " + dest)
	}
	cs := NewConsumerSession(id, explicitID, dest, tracker, selector, &spec, h.sink)
	h.consumers[id] = cs
	queue.Bind([]Consumer{cs})
	h.sendReceipt(f)
	return nil
}

func (h *ConnectionHandler) handleUnsubscribe(f *frame.Frame) error {
	id, hasID := f.Header.Contains(frame.Id)
	if !hasID {
		if h.version != "1.0" {
			return errMissingSubscribeID
		}
		dest, ok := f.Header.Contains(frame.Destination)
		if !ok {
			return errMissingSubscribeID
		}
		id = dest
	}

	cs, ok := h.consumers[id]
	if !ok {
		return errUnknownSubscription
	}
	delete(h.consumers, id)

	router := h.host.Router()
	if cs.Binding() == nil {
		router.Unbind(cs.Destination(), cs)
	} else {
		if queue, ok := router.GetQueue(*cs.Binding()); ok {
			queue.Unbind([]Consumer{cs})
		}
		if f.Header.Get("persistent") == "true" {
			router.DestroyQueue(*cs.Binding())
		}
	}

	h.sendReceipt(f)
	return nil
}

// --- ACK (§4.3, §4.7) ---

func (h *ConnectionHandler) handleAck(f *frame.Frame) error {
	msgID, ok := f.Header.Contains(frame.MessageId)
	if !ok {
		return errMissingMessageID
	}

	tracker, err := h.resolveAckTracker(f, msgID)
	if err != nil {
		return err
	}

	if txID, hasTx := f.Header.Contains(frame.Transaction); hasTx {
		if err := h.transactions.Enqueue(txID, func(uow UOW) { tracker.PerformAck(msgID, uow) }); err != nil {
			return err
		}
		h.sendReceipt(f)
		return nil
	}

	if err := tracker.PerformAck(msgID, nil); err != nil {
		return err
	}
	h.sendReceipt(f)
	return nil
}

func (h *ConnectionHandler) resolveAckTracker(f *frame.Frame, msgID string) (AckTracker, error) {
	if subID, hasSub := f.Header.Contains(frame.Subscription); hasSub {
		cs, ok := h.consumers[subID]
		if !ok {
			return nil, errUnknownSubscription
		}
		return cs.AckTracker(), nil
	}

	if h.version != "1.0" {
		return nil, errMissingSubscription
	}
	tracker, ok := h.connAckHandlers[msgID]
	if !ok {
		return nil, errUnknownSubscription
	}
	return tracker, nil
}

// --- transactions (§4.4, §4.7) ---

func (h *ConnectionHandler) handleTxStart(f *frame.Frame) error {
	txID, ok := f.Header.Contains(frame.Transaction)
	if !ok {
		return protocolError("Header 'transaction' is required")
	}
	if err := h.transactions.Begin(txID); err != nil {
		return err
	}
	h.sendReceipt(f)
	return nil
}

func (h *ConnectionHandler) handleAbort(f *frame.Frame) error {
	txID, ok := f.Header.Contains(frame.Transaction)
	if !ok {
		return protocolError("Header 'transaction' is required")
	}
	if err := h.transactions.Abort(txID); err != nil {
		return err
	}
	h.sendReceipt(f)
	return nil
}

func (h *ConnectionHandler) handleCommit(f *frame.Frame) error {
	txID, ok := f.Header.Contains(frame.Transaction)
	if !ok {
		return protocolError("Header 'transaction' is required")
	}
	return h.transactions.Commit(txID, func() {
		h.postAsync(func() { h.sendReceipt(f) })
	})
}

// --- shared plumbing ---

func (h *ConnectionHandler) sendReceipt(f *frame.Frame) {
	if receiptID, ok := f.Header.Contains(frame.Receipt); ok {
		h.enqueueControl(frame.New(frame.RECEIPT, frame.ReceiptId, receiptID))
	}
}

// writeFrame is the transport write itself: called from run()'s outFrames
// branch and from enqueueControl's flush, both on the dispatch goroutine,
// where f has already been taken from the head of the outbound queue.
func (h *ConnectionHandler) writeFrame(f *frame.Frame) {
	if err := h.conn.WriteFrame(f); err != nil {
		h.stop()
	}
}

// enqueueControl appends a control-plane frame (CONNECTED/RECEIPT/ERROR) to
// the same outbound sink MESSAGE deliveries go through, so it is written in
// the order it was generated relative to whatever is already queued there
// instead of jumping ahead of it (§4.7, §5). If the sink is momentarily
// full, one already-queued frame is flushed to the transport to make room
// rather than dropping the control frame.
func (h *ConnectionHandler) enqueueControl(f *frame.Frame) {
	for !h.sink.TryOffer(f) {
		select {
		case queued, ok := <-h.outFrames:
			if !ok {
				return
			}
			h.writeFrame(queued)
		default:
			return
		}
	}
}

// die implements §7: exactly one ERROR frame, then a terminal stop()
// scheduled die_delay later, not cancellable.
func (h *ConnectionHandler) die(err *ConnError) {
	h.dieOnce.Do(func() {
		atomic.StoreInt32(&h.state, int32(stateDrainingError))
		h.suspendReads("draining error")

		errFrame := frame.New(frame.ERROR, frame.Message, err.Message)
		for k, v := range err.Headers {
			errFrame.Header.Set(k, v)
		}
		if err.Body != "" {
			errFrame.Body = []byte(err.Body)
		}
		h.enqueueControl(errFrame)
		h.log.Warn("die: %s", err.Message)

		time.AfterFunc(h.config.DieDelay(), h.Close)
	})
}

// stop is CLOSED (§4.7): idempotent teardown of every consumer and cached
// route.
func (h *ConnectionHandler) stop() {
	h.closeOnce.Do(func() {
		atomic.StoreInt32(&h.state, int32(stateClosed))
		close(h.done)
		if h.heartbeat != nil {
			h.heartbeat.Stop()
		}
		h.teardown()
		h.conn.Close()
	})
}

func (h *ConnectionHandler) teardown() {
	if h.host == nil {
		return
	}
	router := h.host.Router()

	var g errgroup.Group
	for _, cs := range h.consumers {
		cs := cs
		g.Go(func() error {
			if cs.Binding() == nil {
				router.Unbind(cs.Destination(), cs)
			} else if queue, ok := router.GetQueue(*cs.Binding()); ok {
				queue.Unbind([]Consumer{cs})
			}
			return nil
		})
	}
	if h.producerRoutes != nil {
		g.Go(func() error {
			h.producerRoutes.Purge()
			return nil
		})
	}
	g.Wait()

	h.consumers = make(map[string]*ConsumerSession)
	h.connAckHandlers = nil
}

// v10FallbackTracker keeps the connection-level message-id index in
// lockstep with a per-subscription tracker, for STOMP 1.0's ACK frames
// that omit the subscription header (§3, design notes).
type v10FallbackTracker struct {
	inner AckTracker
	index map[string]AckTracker
}

func (t *v10FallbackTracker) Mode() AckMode { return t.inner.Mode() }

func (t *v10FallbackTracker) Track(messageID string, d Delivery) {
	t.inner.Track(messageID, d)
	t.index[messageID] = t.inner
}

func (t *v10FallbackTracker) PerformAck(messageID string, uow UOW) error {
	err := t.inner.PerformAck(messageID, uow)
	if err == nil {
		delete(t.index, messageID)
	}
	return err
}

// connSink is the connection's shared outbound mux (§5): every
// ConsumerSession funnels MESSAGE frames through it, and the dispatch loop
// is the only reader, so writes to the transport are never concurrent.
type connSink struct {
	mu sync.Mutex
	ch chan *frame.Frame
}

func (s *connSink) TryOffer(f *frame.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ch) >= cap(s.ch) {
		return false
	}
	s.ch <- f
	return true
}
