// Package peengine implements the high-level Property Exchange API: Get, Set,
// Subscribe, and Unsubscribe calls that build a request, send it, suspend the caller
// until a reply (or timeout, or cancellation) arrives, and decode the result.
package peengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/midici-go/midici/internal/chunkasm"
	"github.com/midici-go/midici/internal/cierrors"
	"github.com/midici-go/midici/internal/codec"
	"github.com/midici-go/midici/internal/midilog"
	"github.com/midici-go/midici/internal/transport"
	"github.com/midici-go/midici/internal/txmanager"
	"github.com/midici-go/midici/internal/wire"
)

// DefaultTimeout is used by callers that do not supply one.
const DefaultTimeout = 5 * time.Second

// Reply is the decoded result of a successful Get or Set call.
type Reply struct {
	Status      int
	Header      codec.Header
	DecodedBody []byte
}

// Notification is a decoded PE Notify message delivered to an active subscription.
type Notification struct {
	SubscribeID string
	Resource    string
	Body        []byte
}

type pendingCall struct {
	resource string
	destMUID wire.MUID
	resultCh chan callResult
	timer    *time.Timer
}

type callResult struct {
	reply Reply
	err   error
}

type subscribeCall struct {
	resultCh chan subscribeResult
	timer    *time.Timer
}

type subscribeResult struct {
	subscribeID string
	err         error
}

// DestinationResolver maps a device's MUID to the transport destination ID PE requests
// must be sent to. The CI discovery tracker implements this; the engine never maintains
// its own device table.
type DestinationResolver interface {
	Destination(muid wire.MUID) (string, bool)
}

// Engine is the high-level PE request/response and subscription API for one local
// MUID. Safe for concurrent use.
type Engine struct {
	source    wire.MUID
	transport transport.Transport
	tx        *txmanager.Manager
	resolver  DestinationResolver
	logger    *slog.Logger

	mu                 sync.Mutex
	pendingByRequestID map[uint8]*pendingCall
	pendingSubscribe   map[uint8]*subscribeCall
	activeSubs         map[string]wire.MUID // subscribeID -> device MUID
	notifications      chan Notification

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Engine bound to source's local MUID, using tx for request lifecycle
// bookkeeping, t to send and receive bytes, and resolver to map a destination MUID to a
// transport destination ID. Call Start to begin the receive loop.
func New(source wire.MUID, tx *txmanager.Manager, t transport.Transport, resolver DestinationResolver) *Engine {
	return &Engine{
		source:             source,
		transport:          t,
		tx:                 tx,
		resolver:           resolver,
		logger:             midilog.Logger(),
		pendingByRequestID: make(map[uint8]*pendingCall),
		pendingSubscribe:   make(map[uint8]*subscribeCall),
		activeSubs:         make(map[string]wire.MUID),
		notifications:      make(chan Notification, 64),
	}
}

// Start launches the background receive loop. Call Stop to shut it down.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.receiveLoop(ctx)
}

// Stop cancels the receive loop, resolves every outstanding caller with Cancelled, and
// closes the notification stream. Idempotent.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

// Notifications returns the stream of decoded PE Notify messages for active subscriptions.
func (e *Engine) Notifications() <-chan Notification { return e.notifications }

// Get issues a PE Get Inquiry for resource against destMUID, decoding Mcoded7 if the
// reply header indicates it.
func (e *Engine) Get(ctx context.Context, resource string, destMUID wire.MUID, timeout time.Duration) (Reply, error) {
	return e.getWithHeader(ctx, destMUID, timeout, codec.BuildGetHeader(resource), resource)
}

// GetWithOffsetLimit issues a paginated PE Get Inquiry.
func (e *Engine) GetWithOffsetLimit(ctx context.Context, resource string, offset, limit int, destMUID wire.MUID, timeout time.Duration) (Reply, error) {
	return e.getWithHeader(ctx, destMUID, timeout, codec.BuildGetHeaderWithOffsetLimit(resource, offset, limit), resource)
}

// GetWithResID issues a PE Get Inquiry scoped to a specific resId within resource (used
// for indexed list items, per §3's resId data field).
func (e *Engine) GetWithResID(ctx context.Context, resource, resID string, destMUID wire.MUID, timeout time.Duration) (Reply, error) {
	return e.getWithHeader(ctx, destMUID, timeout, codec.BuildGetHeaderWithResID(resource, resID), resource)
}

func (e *Engine) getWithHeader(ctx context.Context, destMUID wire.MUID, timeout time.Duration, header []byte, resource string) (Reply, error) {
	requestID, err := e.tx.Begin(ctx, resource, destMUID, timeout)
	if err != nil {
		return Reply{}, err
	}
	raw, err := codec.BuildPEGetInquiry(e.source, destMUID, requestID, header)
	if err != nil {
		e.tx.Cancel(requestID)
		return Reply{}, cierrors.NewProtocolError("engine.get.build", err)
	}
	return e.sendAndAwait(ctx, requestID, resource, destMUID, timeout, raw)
}

// Set issues a PE Set Inquiry, Mcoded7-encoding data as the single-chunk body.
func (e *Engine) Set(ctx context.Context, resource string, data []byte, destMUID wire.MUID, timeout time.Duration) (Reply, error) {
	requestID, err := e.tx.Begin(ctx, resource, destMUID, timeout)
	if err != nil {
		return Reply{}, err
	}
	header := codec.BuildSetHeader(resource)
	body := codec.EncodeMcoded7(data)
	raw, err := codec.BuildPESetInquiry(e.source, destMUID, requestID, header, 1, 1, body)
	if err != nil {
		e.tx.Cancel(requestID)
		return Reply{}, cierrors.NewProtocolError("engine.set.build", err)
	}
	return e.sendAndAwait(ctx, requestID, resource, destMUID, timeout, raw)
}

func (e *Engine) sendAndAwait(ctx context.Context, requestID uint8, resource string, destMUID wire.MUID, timeout time.Duration, raw []byte) (Reply, error) {
	call := &pendingCall{
		resource: resource,
		destMUID: destMUID,
		resultCh: make(chan callResult, 1),
	}
	e.mu.Lock()
	e.pendingByRequestID[requestID] = call
	e.mu.Unlock()

	call.timer = time.AfterFunc(timeout, func() {
		e.resolvePending(requestID, callResult{err: cierrors.NewTimeout("engine.get", timeout, nil)})
		e.tx.Cancel(requestID)
	})

	destID, ok := e.resolveDestinationID(destMUID)
	if !ok {
		e.abandonPending(requestID)
		e.tx.Cancel(requestID)
		return Reply{}, cierrors.NewNoDestination(fmt.Sprintf("muid=%#x", uint32(destMUID)))
	}

	if err := e.transport.Send(ctx, destID, raw); err != nil {
		e.abandonPending(requestID)
		e.tx.Cancel(requestID)
		return Reply{}, cierrors.NewTransportError("engine.send", err)
	}

	select {
	case res := <-call.resultCh:
		return res.reply, res.err
	case <-ctx.Done():
		e.abandonPending(requestID)
		e.tx.Cancel(requestID)
		return Reply{}, cierrors.NewCancelled(resource)
	}
}

func (e *Engine) abandonPending(requestID uint8) {
	e.mu.Lock()
	call, ok := e.pendingByRequestID[requestID]
	delete(e.pendingByRequestID, requestID)
	e.mu.Unlock()
	if ok && call.timer != nil {
		call.timer.Stop()
	}
}

func (e *Engine) resolvePending(requestID uint8, res callResult) {
	e.mu.Lock()
	call, ok := e.pendingByRequestID[requestID]
	if ok {
		delete(e.pendingByRequestID, requestID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	call.resultCh <- res
}

// resolveDestinationID maps a destMUID to a transport destination ID via the engine's
// DestinationResolver (normally the CI discovery tracker).
func (e *Engine) resolveDestinationID(destMUID wire.MUID) (string, bool) {
	return e.resolver.Destination(destMUID)
}

// Subscribe issues a Subscribe start Inquiry and waits for the device's reply carrying
// the assigned subscribeId.
func (e *Engine) Subscribe(ctx context.Context, resource string, destMUID wire.MUID, timeout time.Duration) (string, error) {
	requestID, err := e.tx.Begin(ctx, resource, destMUID, timeout)
	if err != nil {
		return "", err
	}
	header := codec.BuildSubscribeHeader(resource, "start", "")
	raw, err := codec.BuildPESubscribeInquiry(e.source, destMUID, requestID, header)
	if err != nil {
		e.tx.Cancel(requestID)
		return "", cierrors.NewProtocolError("engine.subscribe.build", err)
	}

	call := &subscribeCall{resultCh: make(chan subscribeResult, 1)}
	e.mu.Lock()
	e.pendingSubscribe[requestID] = call
	e.mu.Unlock()
	call.timer = time.AfterFunc(timeout, func() {
		e.resolveSubscribe(requestID, subscribeResult{err: cierrors.NewTimeout("engine.subscribe", timeout, nil)})
		e.tx.Cancel(requestID)
	})

	destID, ok := e.resolveDestinationID(destMUID)
	if !ok {
		e.abandonSubscribe(requestID)
		e.tx.Cancel(requestID)
		return "", cierrors.NewNoDestination("")
	}
	if err := e.transport.Send(ctx, destID, raw); err != nil {
		e.abandonSubscribe(requestID)
		e.tx.Cancel(requestID)
		return "", cierrors.NewTransportError("engine.subscribe.send", err)
	}

	select {
	case res := <-call.resultCh:
		if res.err == nil {
			e.mu.Lock()
			e.activeSubs[res.subscribeID] = destMUID
			e.mu.Unlock()
		}
		return res.subscribeID, res.err
	case <-ctx.Done():
		e.abandonSubscribe(requestID)
		e.tx.Cancel(requestID)
		return "", cierrors.NewCancelled(resource)
	}
}

// Unsubscribe sends a Subscribe end Inquiry for subscribeID.
func (e *Engine) Unsubscribe(ctx context.Context, subscribeID string, timeout time.Duration) error {
	e.mu.Lock()
	destMUID, ok := e.activeSubs[subscribeID]
	e.mu.Unlock()
	if !ok {
		return cierrors.NewInvalidResponse("unknown subscribeId")
	}

	requestID, err := e.tx.Begin(ctx, "subscription", destMUID, timeout)
	if err != nil {
		return err
	}
	header := codec.BuildSubscribeHeader("", "end", subscribeID)
	raw, err := codec.BuildPESubscribeInquiry(e.source, destMUID, requestID, header)
	if err != nil {
		e.tx.Cancel(requestID)
		return cierrors.NewProtocolError("engine.unsubscribe.build", err)
	}

	destID, ok := e.resolveDestinationID(destMUID)
	if !ok {
		e.tx.Cancel(requestID)
		return cierrors.NewNoDestination("")
	}
	if err := e.transport.Send(ctx, destID, raw); err != nil {
		e.tx.Cancel(requestID)
		return cierrors.NewTransportError("engine.unsubscribe.send", err)
	}

	e.tx.ProcessChunk(requestID, 1, 1, nil, nil)
	e.mu.Lock()
	delete(e.activeSubs, subscribeID)
	e.mu.Unlock()
	return nil
}

func (e *Engine) abandonSubscribe(requestID uint8) {
	e.mu.Lock()
	call, ok := e.pendingSubscribe[requestID]
	delete(e.pendingSubscribe, requestID)
	e.mu.Unlock()
	if ok && call.timer != nil {
		call.timer.Stop()
	}
}

func (e *Engine) resolveSubscribe(requestID uint8, res subscribeResult) {
	e.mu.Lock()
	call, ok := e.pendingSubscribe[requestID]
	if ok {
		delete(e.pendingSubscribe, requestID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	call.resultCh <- res
}

// receiveLoop consumes the transport's inbound stream, parses each message, and routes
// PE replies/notifications/subscribe-replies to their waiting callers.
func (e *Engine) receiveLoop(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			e.shutdownPending()
			return
		case msg, ok := <-e.transport.Inbound():
			if !ok {
				e.shutdownPending()
				return
			}
			e.handleInbound(msg.Bytes)
		}
	}
}

func (e *Engine) handleInbound(raw []byte) {
	m, err := codec.Parse(raw)
	if err != nil {
		e.logger.Debug("peengine: dropping malformed frame", "error", err)
		return
	}
	if m.Source == e.source {
		return
	}

	switch m.Type {
	case codec.MsgPESubscribeReply:
		e.handleSubscribeReply(m)
	case codec.MsgPENotify:
		e.handleNotify(m)
	default:
		if m.Type.IsPEReply() {
			e.handlePEReply(m)
		}
	}
}

func (e *Engine) handleSubscribeReply(m codec.Message) {
	inq, err := codec.ParsePEInquiry(m.Payload)
	if err != nil {
		e.logger.Debug("peengine: malformed subscribe reply", "error", err)
		return
	}
	hdr, err := codec.ParseHeader(inq.Header)
	if err != nil {
		e.logger.Debug("peengine: malformed subscribe reply header", "error", err)
		return
	}
	e.resolveSubscribe(inq.RequestID, subscribeResult{subscribeID: hdr.SubscribeID})
	e.tx.ProcessChunk(inq.RequestID, 1, 1, inq.Header, nil)
}

func (e *Engine) handleNotify(m codec.Message) {
	chunk, err := codec.ParsePEChunk(m.Payload)
	if err != nil {
		e.logger.Debug("peengine: malformed notify", "error", err)
		return
	}
	hdr, err := codec.ParseHeader(chunk.Header)
	if err != nil {
		e.logger.Debug("peengine: malformed notify header", "error", err)
		return
	}
	e.mu.Lock()
	_, known := e.activeSubs[hdr.SubscribeID]
	e.mu.Unlock()
	if !known {
		return // unknown subscribeId: drop silently per spec
	}
	body := chunk.Body
	if hdr.UsesMcoded7() {
		decoded, err := codec.DecodeMcoded7(body)
		if err != nil {
			e.logger.Debug("peengine: malformed mcoded7 notify body", "error", err)
			return
		}
		body = decoded
	}
	select {
	case e.notifications <- Notification{SubscribeID: hdr.SubscribeID, Resource: hdr.Resource, Body: body}:
	default:
		e.logger.Debug("peengine: notification stream full, dropping", "subscribe_id", hdr.SubscribeID)
	}
}

func (e *Engine) handlePEReply(m codec.Message) {
	chunk, err := codec.ParsePEChunk(m.Payload)
	if err != nil {
		e.logger.Debug("peengine: malformed PE reply", "error", err)
		return
	}
	out := e.tx.ProcessChunk(chunk.RequestID, chunk.ChunkNumber, chunk.TotalChunks, chunk.Header, chunk.Body)
	switch out.Kind {
	case chunkasm.KindUnknownRequestID:
		return // late/duplicate/cancelled: silently dropped
	case chunkasm.KindIncomplete:
		return // wait for remaining chunks
	case chunkasm.KindComplete:
		hdr, err := codec.ParseHeader(out.Header)
		if err != nil {
			chunkasm.ReleaseBody(out.Body)
			e.resolvePending(chunk.RequestID, callResult{err: cierrors.NewInvalidResponse("unparseable PE reply header")})
			return
		}
		body := out.Body
		if hdr.UsesMcoded7() {
			decoded, err := codec.DecodeMcoded7(body)
			chunkasm.ReleaseBody(out.Body)
			if err != nil {
				e.resolvePending(chunk.RequestID, callResult{err: cierrors.NewInvalidResponse("unparseable mcoded7 body")})
				return
			}
			body = decoded
		} else {
			body = append([]byte(nil), body...)
			chunkasm.ReleaseBody(out.Body)
		}
		status := 200
		if hdr.Status != nil {
			status = *hdr.Status
		}
		e.resolvePending(chunk.RequestID, callResult{reply: Reply{Status: status, Header: hdr, DecodedBody: body}})
	}
}

func (e *Engine) shutdownPending() {
	e.mu.Lock()
	pending := e.pendingByRequestID
	e.pendingByRequestID = make(map[uint8]*pendingCall)
	subs := e.pendingSubscribe
	e.pendingSubscribe = make(map[uint8]*subscribeCall)
	e.mu.Unlock()

	for _, call := range pending {
		if call.timer != nil {
			call.timer.Stop()
		}
		call.resultCh <- callResult{err: cierrors.NewCancelled(call.resource)}
	}
	for _, call := range subs {
		if call.timer != nil {
			call.timer.Stop()
		}
		call.resultCh <- subscribeResult{err: cierrors.NewCancelled("subscription")}
	}
	close(e.notifications)
}
