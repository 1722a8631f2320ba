package peengine

import (
	"context"
	"testing"
	"time"

	"github.com/midici-go/midici/internal/codec"
	"github.com/midici-go/midici/internal/transport"
	"github.com/midici-go/midici/internal/txmanager"
	"github.com/midici-go/midici/internal/wire"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	byMUID map[wire.MUID]string
}

func (f *fakeResolver) Destination(muid wire.MUID) (string, bool) {
	d, ok := f.byMUID[muid]
	return d, ok
}

func newTestEngine(t *testing.T, destMUID wire.MUID) (*Engine, *transport.Memory) {
	t.Helper()
	tr := transport.NewMemory(
		[]transport.Endpoint{{ID: "dest-1", Name: "Device Out", Online: true}},
		[]transport.Endpoint{{ID: "src-1", Name: "Device In", Online: true}},
	)
	tx := txmanager.New(0, time.Second, 4)
	resolver := &fakeResolver{byMUID: map[wire.MUID]string{destMUID: "dest-1"}}
	e := New(wire.MUID(1), tx, tr, resolver)
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e, tr
}

func TestGetSuccess(t *testing.T) {
	destMUID := wire.MUID(2)
	e, tr := newTestEngine(t, destMUID)

	done := make(chan struct{})
	var reply Reply
	var callErr error
	go func() {
		reply, callErr = e.Get(context.Background(), "DeviceInfo", destMUID, time.Second)
		close(done)
	}()

	// Wait for the request to be sent, then synthesize the device's reply.
	require.Eventually(t, func() bool { return len(tr.SentMessages()) == 1 }, time.Second, time.Millisecond)
	sent := tr.SentMessages()[0]
	msg, err := codec.Parse(sent.Bytes)
	require.NoError(t, err)
	inq, err := codec.ParsePEInquiry(msg.Payload)
	require.NoError(t, err)

	replyHeader := codec.BuildStatusHeader(200, "")
	replyRaw, err := codec.BuildPEReply(codec.MsgPEGetReply, destMUID, wire.MUID(1), inq.RequestID, replyHeader, 1, 1, []byte(`{"manufacturerName":"X"}`))
	require.NoError(t, err)
	tr.Deliver(transport.InboundMessage{Bytes: replyRaw, SourceID: "dest-1", Timestamp: time.Now()})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Get never returned")
	}
	require.NoError(t, callErr)
	require.Equal(t, 200, reply.Status)
	require.Equal(t, []byte(`{"manufacturerName":"X"}`), reply.DecodedBody)
}

func TestGetTimeout(t *testing.T) {
	destMUID := wire.MUID(2)
	e, _ := newTestEngine(t, destMUID)

	_, err := e.Get(context.Background(), "DeviceInfo", destMUID, 30*time.Millisecond)
	require.Error(t, err)
}

func TestGetNoDestination(t *testing.T) {
	tr := transport.NewMemory(nil, nil)
	tx := txmanager.New(0, time.Second, 4)
	resolver := &fakeResolver{byMUID: map[wire.MUID]string{}}
	e := New(wire.MUID(1), tx, tr, resolver)
	e.Start(context.Background())
	defer e.Stop()

	_, err := e.Get(context.Background(), "DeviceInfo", wire.MUID(2), time.Second)
	require.Error(t, err)
}

func TestSetSuccessWithMcoded7Reply(t *testing.T) {
	destMUID := wire.MUID(2)
	e, tr := newTestEngine(t, destMUID)

	done := make(chan struct{})
	var reply Reply
	var callErr error
	go func() {
		reply, callErr = e.Set(context.Background(), "DeviceInfo", []byte{0x81, 0x02}, destMUID, time.Second)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(tr.SentMessages()) == 1 }, time.Second, time.Millisecond)
	sent := tr.SentMessages()[0]
	msg, err := codec.Parse(sent.Bytes)
	require.NoError(t, err)
	chunk, err := codec.ParsePEChunk(msg.Payload)
	require.NoError(t, err)

	body := codec.EncodeMcoded7([]byte{0x81, 0x02})
	header := []byte(`{"status":200,"mutualEncoding":"Mcoded7"}`)
	replyRaw, err := codec.BuildPEReply(codec.MsgPESetReply, destMUID, wire.MUID(1), chunk.RequestID, header, 1, 1, body)
	require.NoError(t, err)
	tr.Deliver(transport.InboundMessage{Bytes: replyRaw, SourceID: "dest-1", Timestamp: time.Now()})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Set never returned")
	}
	require.NoError(t, callErr)
	require.Equal(t, []byte{0x81, 0x02}, reply.DecodedBody)
}

func TestSubscribeAndNotify(t *testing.T) {
	destMUID := wire.MUID(2)
	e, tr := newTestEngine(t, destMUID)

	done := make(chan struct{})
	var subID string
	var callErr error
	go func() {
		subID, callErr = e.Subscribe(context.Background(), "DeviceInfo", destMUID, time.Second)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(tr.SentMessages()) == 1 }, time.Second, time.Millisecond)
	sent := tr.SentMessages()[0]
	msg, err := codec.Parse(sent.Bytes)
	require.NoError(t, err)
	inq, err := codec.ParsePEInquiry(msg.Payload)
	require.NoError(t, err)

	replyHeader := codec.BuildSubscribeHeader("DeviceInfo", "start", "sub-42")
	replyRaw, err := codec.BuildPESubscribeReply(destMUID, wire.MUID(1), inq.RequestID, replyHeader)
	require.NoError(t, err)
	tr.Deliver(transport.InboundMessage{Bytes: replyRaw, SourceID: "dest-1", Timestamp: time.Now()})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Subscribe never returned")
	}
	require.NoError(t, callErr)
	require.Equal(t, "sub-42", subID)

	notifyHeader := codec.BuildNotifyHeader("sub-42", "DeviceInfo")
	notifyRaw, err := codec.BuildPENotify(destMUID, wire.MUID(1), 10, notifyHeader, 1, 1, []byte("changed"))
	require.NoError(t, err)
	tr.Deliver(transport.InboundMessage{Bytes: notifyRaw, SourceID: "dest-1", Timestamp: time.Now()})

	select {
	case n := <-e.Notifications():
		require.Equal(t, "sub-42", n.SubscribeID)
		require.Equal(t, []byte("changed"), n.Body)
	case <-time.After(time.Second):
		t.Fatal("no notification received")
	}
}

func TestNotifyForUnknownSubscribeIDIsDropped(t *testing.T) {
	destMUID := wire.MUID(2)
	e, tr := newTestEngine(t, destMUID)

	notifyHeader := codec.BuildNotifyHeader("ghost", "DeviceInfo")
	notifyRaw, err := codec.BuildPENotify(destMUID, wire.MUID(1), 10, notifyHeader, 1, 1, []byte("x"))
	require.NoError(t, err)
	tr.Deliver(transport.InboundMessage{Bytes: notifyRaw, SourceID: "dest-1", Timestamp: time.Now()})

	select {
	case n := <-e.Notifications():
		t.Fatalf("unexpected notification delivered: %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnknownRequestIDReplyIsSilentlyDropped(t *testing.T) {
	destMUID := wire.MUID(2)
	e, _ := newTestEngine(t, destMUID)

	header := codec.BuildStatusHeader(200, "")
	replyRaw, err := codec.BuildPEReply(codec.MsgPEGetReply, destMUID, wire.MUID(1), 99, header, 1, 1, []byte("x"))
	require.NoError(t, err)

	require.NotPanics(t, func() {
		e.handleInbound(replyRaw)
	})
}
