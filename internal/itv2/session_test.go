package itv2

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dscbridge/dsc2ws/internal/log"
)

const testIntegrationID = "123456789012"

// panelDouble speaks the panel side of the protocol over the pipe: its own
// framer, crypto and sequence counters, driven synchronously by the test.
type panelDouble struct {
	t      *testing.T
	conn   net.Conn
	framer *Framer
	enc    *Encryption

	sendSeq uint8
	recvSeq uint8
	appSeq  uint8
	header  []byte

	// every packet observed from the server, in order
	observed []*MessagePacket
}

func newPanelDouble(t *testing.T, conn net.Conn) *panelDouble {
	t.Helper()
	enc, err := NewType2Encryption(testType2Access)
	if err != nil {
		t.Fatal(err)
	}
	return &panelDouble{
		t:      t,
		conn:   conn,
		framer: NewFramer(),
		enc:    enc,
		header: []byte(testIntegrationID),
	}
}

func (p *panelDouble) send(m Message) {
	p.t.Helper()
	p.sendSeq++
	pkt := &MessagePacket{SenderSeq: p.sendSeq, ReceiverSeq: p.recvSeq, Message: m}
	if HasAppSequence(m.Command()) {
		p.appSeq++
		pkt.AppSeq = p.appSeq
	}
	payload, err := encodePacket(pkt)
	if err != nil {
		p.t.Fatal(err)
	}
	wire, err := p.enc.Encrypt(payload)
	if err != nil {
		p.t.Fatal(err)
	}
	p.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := p.conn.Write(p.framer.Frame(p.header, wire)); err != nil {
		p.t.Fatalf("panel write: %v", err)
	}
}

func (p *panelDouble) read() *MessagePacket {
	p.t.Helper()
	buf := make([]byte, 4096)
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, payload, ok, err := p.framer.Next()
		if err != nil {
			p.t.Fatalf("panel framer: %v", err)
		}
		if ok {
			plain, err := p.enc.Decrypt(payload)
			if err != nil {
				p.t.Fatalf("panel decrypt: %v", err)
			}
			pkt, err := decodePacket(plain)
			if err != nil {
				p.t.Fatalf("panel decode: %v", err)
			}
			p.recvSeq = pkt.SenderSeq
			p.observed = append(p.observed, pkt)
			return pkt
		}
		if time.Now().After(deadline) {
			p.t.Fatal("panel read timed out")
		}
		p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := p.conn.Read(buf)
		if err != nil {
			p.t.Fatalf("panel read: %v", err)
		}
		p.framer.Push(buf[:n])
	}
}

func (p *panelDouble) expect(cmd Command) *MessagePacket {
	p.t.Helper()
	pkt := p.read()
	if pkt.Message.Command() != cmd {
		p.t.Fatalf("panel expected %v, got %v", cmd, pkt.Message.Command())
	}
	return pkt
}

// handshake runs the panel side of session establishment: OpenSession
// exchange, then the Type 2 key agreement.
func (p *panelDouble) handshake() {
	p.t.Helper()
	p.send(&OpenSession{
		DeviceType:     5,
		DeviceID:       0x0901,
		Firmware:       []byte{1, 0, 0, 0},
		Protocol:       2,
		TxBufferSize:   1024,
		RxBufferSize:   1024,
		EncryptionType: EncryptionType2,
	})
	p.expect(CmdSimpleAck)
	p.expect(CmdOpenSession)
	p.send(&SimpleAck{})

	initializer, err := p.enc.ConfigureInboundEncryption()
	if err != nil {
		p.t.Fatal(err)
	}
	p.send(&RequestAccess{Identifier: testIntegrationID, Initializer: initializer})
	p.expect(CmdSimpleAck)
	reply := p.expect(CmdRequestAccess)
	access := reply.Message.(*RequestAccess)
	if err := p.enc.ConfigureOutboundEncryption(access.Initializer); err != nil {
		p.t.Fatal(err)
	}
	p.send(&SimpleAck{})
}

type sessionHarness struct {
	session  *Session
	panel    *panelDouble
	messages chan Message
	done     chan error
}

func startSession(t *testing.T) *sessionHarness {
	t.Helper()
	serverConn, panelConn := net.Pipe()
	h := &sessionHarness{
		panel:    newPanelDouble(t, panelConn),
		messages: make(chan Message, 32),
		done:     make(chan error, 1),
	}

	h.session = NewSession(serverConn, SessionConfig{
		Logger:            log.NewLogger("error"),
		IntegrationID:     testIntegrationID,
		Type2AccessCode:   testType2Access,
		HeartbeatInterval: time.Hour,
		ResponseTimeout:   2 * time.Second,
		FlushQuiet:        50 * time.Millisecond,
		OnMessage: func(_ *Session, m Message) {
			switch m.(type) {
			case *OpenSession, *RequestAccess:
				// handshake plumbing, not panel state
				return
			}
			h.messages <- m
		},
	})

	go func() { h.done <- h.session.Run() }()
	h.panel.handshake()

	t.Cleanup(func() {
		h.session.Shutdown()
		panelConn.Close()
	})
	return h
}

func (h *sessionHarness) waitFlushGate(t *testing.T) {
	t.Helper()
	select {
	case <-h.session.flushGate:
	case <-time.After(2 * time.Second):
		t.Fatal("flush gate never released")
	}
}

func TestSessionHandshake(t *testing.T) {
	h := startSession(t)

	if h.session.ID() != testIntegrationID {
		t.Errorf("session id %q", h.session.ID())
	}

	// sequence law: server packets increment by one per send
	prev := h.panel.observed[0]
	for _, pkt := range h.panel.observed[1:] {
		if pkt.SenderSeq != prev.SenderSeq+1 {
			t.Errorf("sender sequence jumped %d -> %d", prev.SenderSeq, pkt.SenderSeq)
		}
		prev = pkt
	}
}

func TestSessionArmFlow(t *testing.T) {
	h := startSession(t)
	h.waitFlushGate(t)

	result := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := h.session.SendMessage(ctx, &PartitionArm{Partition: 1, ArmMode: ArmModeAway, AccessCode: "1234"})
		result <- err
	}()

	pkt := h.panel.expect(CmdPartitionArm)
	arm := pkt.Message.(*PartitionArm)
	if arm.Partition != 1 || arm.ArmMode != ArmModeAway || arm.AccessCode != "1234" {
		t.Fatalf("arm record %+v", arm)
	}

	h.panel.send(&CommandResponse{Requested: CmdPartitionArm, Code: ResponseSuccess})
	h.panel.expect(CmdSimpleAck)

	if err := <-result; err != nil {
		t.Fatalf("arm failed: %v", err)
	}
}

func TestSessionArmNack(t *testing.T) {
	h := startSession(t)
	h.waitFlushGate(t)

	result := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := h.session.SendMessage(ctx, &PartitionArm{Partition: 1, ArmMode: ArmModeAway})
		result <- err
	}()

	h.panel.expect(CmdPartitionArm)
	h.panel.send(&CommandError{Nack: NackUserCodeRequired})

	err := <-result
	var nack *NackError
	if !errors.As(err, &nack) || nack.Code != NackUserCodeRequired {
		t.Fatalf("got %v, want user-code nack", err)
	}
}

func TestSessionInboundNotification(t *testing.T) {
	h := startSession(t)
	h.waitFlushGate(t)

	h.panel.send(&NotificationArmDisarm{Partition: 1, ArmMode: ArmModeAway, UserID: 3})
	h.panel.expect(CmdSimpleAck)

	select {
	case m := <-h.messages:
		n, ok := m.(*NotificationArmDisarm)
		if !ok || n.Partition != 1 || n.ArmMode != ArmModeAway {
			t.Fatalf("got %#v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never dispatched")
	}
}

func TestSessionEncryptedTraffic(t *testing.T) {
	h := startSession(t)
	h.waitFlushGate(t)

	// Both directions are keyed by now; a label with non-ASCII text
	// exercises the whole stack through the cipher.
	h.panel.send(&NotificationZoneLabel{Zone: 7, Label: "Café Door"})
	h.panel.expect(CmdSimpleAck)

	select {
	case m := <-h.messages:
		label, ok := m.(*NotificationZoneLabel)
		if !ok || label.Label != "Café Door" {
			t.Fatalf("got %#v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("label never dispatched")
	}
}

func TestSessionShutdownAbortsPending(t *testing.T) {
	h := startSession(t)
	h.waitFlushGate(t)

	result := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := h.session.SendMessage(ctx, &PartitionArm{Partition: 1})
		result <- err
	}()

	h.panel.expect(CmdPartitionArm)
	h.session.Shutdown()

	err := <-result
	if err == nil {
		t.Fatal("pending send survived shutdown")
	}
}
