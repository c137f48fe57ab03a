package client

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"signalrelay/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRelay accepts one connection and hands it to the test after reading the handshake.
func fakeRelay(t *testing.T) (string, <-chan net.Conn, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	conns := make(chan net.Conn, 1)
	handshakes := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		t.Cleanup(func() { conn.Close() })
		buf := make([]byte, 256)
		n, _ := conn.Read(buf)
		handshakes <- string(buf[:n])
		conns <- conn
	}()
	return ln.Addr().String(), conns, handshakes
}

func TestReceiverClient_AcksHeartbeatsAndDelivers(t *testing.T) {
	addr, conns, handshakes := fakeRelay(t)

	receiver, err := DialReceiver(addr, "r1")
	require.NoError(t, err)
	defer receiver.Close()
	assert.Equal(t, "receiver:r1", <-handshakes)
	server := <-conns

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bodies := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- receiver.Listen(ctx, func(body string) { bodies <- body })
	}()

	_, err = server.Write([]byte(heartbeatProbe))
	require.NoError(t, err)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, heartbeatAck, string(buf[:n]))

	_, err = server.Write([]byte("payload"))
	require.NoError(t, err)
	select {
	case body := <-bodies:
		assert.Equal(t, "payload", body)
	case <-time.After(2 * time.Second):
		t.Fatal("payload not delivered")
	}

	stats := receiver.Stats()
	assert.Equal(t, 1, stats.HeartbeatsAcked)
	assert.Equal(t, 1, stats.MessagesReceived)

	cancel()
	assert.NoError(t, <-done)
}

func TestReceiverClient_ServerCloseEndsListen(t *testing.T) {
	addr, conns, _ := fakeRelay(t)

	receiver, err := DialReceiver(addr, "r1")
	require.NoError(t, err)
	defer receiver.Close()
	server := <-conns

	done := make(chan error, 1)
	go func() { done <- receiver.Listen(context.Background(), func(string) {}) }()
	server.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after the server closed")
	}
}

func TestControllerClient_Query(t *testing.T) {
	addr, conns, handshakes := fakeRelay(t)

	controller, err := DialController(addr, "c1")
	require.NoError(t, err)
	defer controller.Close()
	assert.Equal(t, "controller:c1", <-handshakes)
	server := <-conns

	go func() {
		line, err := bufio.NewReader(server).ReadBytes('\n')
		if err != nil {
			return
		}
		request, err := relay.DecodePacket(line)
		if err != nil {
			return
		}
		body, _ := relay.Message{From: relay.ServerRecipient, To: "c1", Body: `["r1","r2"]`}.JSON()
		data, _ := relay.Controller("c1").NewPacketWithID(body, request.ID).Encode()
		server.Write(append(data, '\n'))
	}()

	names, err := controller.Query(relay.CommandListReceivers, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, names)
}

func TestControllerClient_QueryRejectsForeignReply(t *testing.T) {
	addr, conns, _ := fakeRelay(t)

	controller, err := DialController(addr, "c1")
	require.NoError(t, err)
	defer controller.Close()
	server := <-conns

	go func() {
		if _, err := bufio.NewReader(server).ReadBytes('\n'); err != nil {
			return
		}
		data, _ := relay.Controller("c1").NewPacket("Error reading packet: boom").Encode()
		server.Write(append(data, '\n'))
	}()

	_, err = controller.Query(relay.CommandList, 2*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestControllerClient_SendEncodesPacket(t *testing.T) {
	addr, conns, _ := fakeRelay(t)

	controller, err := DialController(addr, "c1")
	require.NoError(t, err)
	defer controller.Close()
	server := <-conns

	id, err := controller.Send([]string{"r1", "r2"}, "go")
	require.NoError(t, err)

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(server).ReadBytes('\n')
	require.NoError(t, err)
	packet, err := relay.DecodePacket(line)
	require.NoError(t, err)
	assert.Equal(t, relay.Packet{Receivers: []string{"r1", "r2"}, Body: "go", ID: id}, packet)
}

func TestDial_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = DialController(addr, "c1")
	assert.Error(t, err)
}
