package itv2

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dscbridge/dsc2ws/internal/log"
)

type SessionState int

const (
	SessionUninitialized SessionState = iota
	SessionConnected
	SessionClosed
)

// SessionConfig carries everything a session needs besides its socket.
type SessionConfig struct {
	Logger *log.Logger

	// IntegrationID is the 12-digit integration identification number.
	IntegrationID string
	// Type1AccessCode is the 8-digit Type 1 access code.
	Type1AccessCode string
	// Type2AccessCode is the 32-hex-digit Type 2 access code.
	Type2AccessCode string

	HeartbeatInterval time.Duration
	ResponseTimeout   time.Duration
	FlushQuiet        time.Duration
	LockTimeout       time.Duration

	// OnMessage receives every successfully completed inbound record.
	OnMessage func(s *Session, m Message)
	// OnConnected fires once the handshake completes.
	OnConnected func(s *Session)
	// OnClosed fires once on teardown.
	OnClosed func(s *Session)
}

func (c *SessionConfig) withDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 100 * time.Second
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = 5 * time.Second
	}
	if c.FlushQuiet == 0 {
		c.FlushQuiet = 2 * time.Second
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = 30 * time.Second
	}
}

// Session owns one panel connection: handshake, inbound dispatch, sequence
// bookkeeping and outbound sends. All wire I/O and transaction mutation are
// serialised by the transaction lock; the lock is a channel so acquisition
// can time out.
type Session struct {
	cfg  SessionConfig
	log  *log.Logger
	conn net.Conn

	framer *Framer
	enc    *Encryption

	ctx    context.Context
	cancel context.CancelFunc

	lock chan struct{}

	id           string
	state        SessionState
	localSeq     uint8
	remoteSeq    uint8
	appSeq       uint8
	rxBufferSize uint16
	txns         []*transaction

	flushGate chan struct{}
	flushOnce sync.Once
	quiet     *time.Timer
	closeOnce sync.Once
}

func NewSession(conn net.Conn, cfg SessionConfig) *Session {
	cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:       cfg,
		log:       cfg.Logger,
		conn:      conn,
		framer:    NewFramer(),
		ctx:       ctx,
		cancel:    cancel,
		lock:      make(chan struct{}, 1),
		flushGate: make(chan struct{}),
	}
}

// ID returns the session's integration identifier, assigned from the first
// packet header.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() SessionState {
	return s.state
}

// Run drives the session to completion: handshake, then the listen loop.
// It returns when the connection dies or the session is shut down.
func (s *Session) Run() error {
	defer s.Shutdown()

	if err := s.handshake(); err != nil {
		s.log.Err(err, "Handshake failed")
		return err
	}
	s.state = SessionConnected
	s.log = s.log.Session(s.id)
	s.log.Info("Session established")

	if s.cfg.OnConnected != nil {
		s.cfg.OnConnected(s)
	}
	return s.listen()
}

// handshake runs the strict session-establishment order against
// synchronous reads: OpenSession in, ack, OpenSession echo out, key
// agreement via RequestAccess in both directions.
func (s *Session) handshake() error {
	p, err := s.readPacketDeadline(30 * time.Second)
	if err != nil {
		return err
	}
	open, ok := p.Message.(*OpenSession)
	if !ok {
		return &FramingError{Reason: fmt.Sprintf("expected OpenSession, got %v", p.Message.Command())}
	}
	s.id = string(s.framer.Header())
	s.rxBufferSize = open.RxBufferSize

	if err := s.dispatchPacket(p); err != nil {
		return err
	}

	echo := &OpenSession{
		DeviceType:     open.DeviceType,
		DeviceID:       open.DeviceID,
		Firmware:       []byte{0, 1, 0, 0},
		Protocol:       open.Protocol,
		TxBufferSize:   open.RxBufferSize,
		RxBufferSize:   open.TxBufferSize,
		EncryptionType: open.EncryptionType,
	}
	if err := s.exchangeDuringHandshake(echo); err != nil {
		return fmt.Errorf("open session echo: %w", err)
	}

	switch open.EncryptionType {
	case EncryptionType1:
		id := s.cfg.IntegrationID
		if len(id) > 8 {
			id = id[len(id)-8:]
		}
		s.enc, err = NewType1Encryption(s.cfg.Type1AccessCode, id)
	case EncryptionType2:
		s.enc, err = NewType2Encryption(s.cfg.Type2AccessCode)
	default:
		return &CryptoError{Reason: fmt.Sprintf("unsupported encryption type %d", open.EncryptionType)}
	}
	if err != nil {
		return err
	}

	p, err = s.readPacketDeadline(30 * time.Second)
	if err != nil {
		return err
	}
	access, ok := p.Message.(*RequestAccess)
	if !ok {
		return &FramingError{Reason: fmt.Sprintf("expected RequestAccess, got %v", p.Message.Command())}
	}
	if err := s.enc.ConfigureOutboundEncryption(access.Initializer); err != nil {
		return err
	}
	if err := s.dispatchPacket(p); err != nil {
		return err
	}

	initializer, err := s.enc.ConfigureInboundEncryption()
	if err != nil {
		return err
	}
	reply := &RequestAccess{Identifier: s.cfg.IntegrationID, Initializer: initializer}
	if err := s.exchangeDuringHandshake(reply); err != nil {
		return fmt.Errorf("request access reply: %w", err)
	}
	return nil
}

// exchangeDuringHandshake sends an outbound record and pumps inbound
// packets until its transaction resolves. The flush gate is not yet open,
// so SendMessage cannot be used here.
func (s *Session) exchangeDuringHandshake(m Message) error {
	txn, err := s.startOutbound(m)
	if err != nil {
		return err
	}
	for !txn.isDone() {
		p, err := s.readPacketDeadline(10 * time.Second)
		if err != nil {
			txn.abort(err)
			return err
		}
		if err := s.dispatchPacket(p); err != nil {
			return err
		}
	}
	res := txn.await(s.ctx, s.ctx)
	return res.Err
}

// listen is the steady-state inbound loop.
func (s *Session) listen() error {
	s.quiet = time.AfterFunc(s.cfg.FlushQuiet, s.releaseFlushGate)

	buf := make([]byte, 4096)
	for {
		select {
		case <-s.ctx.Done():
			return nil
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, err := s.conn.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			s.log.Debug("Read error: %v", err)
			return ErrDisconnected
		}

		s.framer.Push(buf[:n])
		for {
			_, payload, ok, err := s.framer.Next()
			if err != nil {
				// Framing and escape errors cannot be resynchronised.
				s.log.Err(err, "Unrecoverable stream error")
				return err
			}
			if !ok {
				break
			}
			if err := s.handleFrame(payload); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handleFrame(payload []byte) error {
	plain, err := s.enc.Decrypt(payload)
	if err != nil {
		return err
	}
	p, err := decodePacket(plain)
	if err != nil {
		return err
	}

	// Quiet-period debounce: the peer may flush queued traffic right
	// after connecting, during which it ignores our sequence numbers.
	if s.quiet != nil {
		select {
		case <-s.flushGate:
		default:
			s.quiet.Reset(s.cfg.FlushQuiet)
		}
	}

	return s.dispatchPacket(p)
}

// dispatchPacket updates sequence bookkeeping and offers the packet to
// pending transactions in insertion order; unmatched packets open a new
// inbound transaction, except stray acks and responses, which are dropped.
// Completed inbound results fan out afterwards.
func (s *Session) dispatchPacket(p *MessagePacket) error {
	if err := s.acquireLock(); err != nil {
		return err
	}

	s.remoteSeq = p.SenderSeq

	handled := false
	for _, t := range s.txns {
		if t.offer(p) {
			handled = true
			break
		}
	}
	if !handled {
		pattern := PatternOf(p.Message)
		if pattern == PatternNone {
			s.log.Debug("Dropping stray %v", p.Message.Command())
		} else {
			t := newTransaction(pattern, Inbound, p.Message, s.sendRecord, 0)
			s.txns = append(s.txns, t)
			if err := t.beginInbound(p); err != nil {
				s.log.Err(err, "Failed to begin inbound transaction")
			}
		}
	}

	notify := s.reap()
	s.releaseLock()

	for _, m := range notify {
		if s.cfg.OnMessage != nil {
			s.cfg.OnMessage(s, m)
		}
	}
	return nil
}

// reap drops finished transactions and collects inbound results that have
// not been fanned out yet. Caller holds the lock.
func (s *Session) reap() []Message {
	var notify []Message
	live := s.txns[:0]
	for _, t := range s.txns {
		if !t.isDone() {
			live = append(live, t)
			continue
		}
		if t.direction == Inbound && !t.notified {
			t.notified = true
			t.mu.Lock()
			res := t.result
			t.mu.Unlock()
			if res.Err == nil && res.Message != nil {
				notify = append(notify, res.Message)
			}
		}
	}
	s.txns = live
	return notify
}

// SendMessage originates an outbound exchange and awaits its result. It
// blocks on the flush gate, takes the transaction lock with a timeout and
// awaits completion outside the lock.
func (s *Session) SendMessage(ctx context.Context, m Message) (Message, error) {
	select {
	case <-s.flushGate:
	case <-ctx.Done():
		return nil, ErrCancelled
	case <-s.ctx.Done():
		return nil, ErrClosed
	}

	if err := s.acquireLock(); err != nil {
		return nil, err
	}
	txn, err := s.startOutboundLocked(m)
	s.releaseLock()
	if err != nil {
		return nil, err
	}

	res := txn.await(ctx, s.ctx)
	return res.Message, res.Err
}

func (s *Session) startOutbound(m Message) (*transaction, error) {
	if err := s.acquireLock(); err != nil {
		return nil, err
	}
	defer s.releaseLock()
	return s.startOutboundLocked(m)
}

func (s *Session) startOutboundLocked(m Message) (*transaction, error) {
	pattern := PatternOf(m)
	if pattern == PatternNone {
		return nil, &NotRegisteredError{Command: m.Command()}
	}
	t := newTransaction(pattern, Outbound, m, s.sendRecord, s.cfg.ResponseTimeout)
	s.txns = append(s.txns, t)
	if err := t.beginOutbound(); err != nil {
		return nil, err
	}
	return t, nil
}

// sendRecord is the bounded sender handle given to transactions: allocate
// the next sequence numbers, serialise, encrypt, frame and write. Always
// called under the transaction lock.
func (s *Session) sendRecord(m Message) (uint8, error) {
	s.localSeq++
	p := &MessagePacket{
		SenderSeq:   s.localSeq,
		ReceiverSeq: s.remoteSeq,
		Message:     m,
	}
	if HasAppSequence(m.Command()) {
		s.appSeq++
		p.AppSeq = s.appSeq
	}

	payload, err := encodePacket(p)
	if err != nil {
		return s.localSeq, err
	}
	if s.rxBufferSize > 0 && len(payload) > int(s.rxBufferSize) {
		return s.localSeq, &EncodingError{Reason: "payload exceeds peer receive buffer"}
	}
	wire, err := s.enc.Encrypt(payload)
	if err != nil {
		return s.localSeq, err
	}

	frame := s.framer.Frame(s.framer.Header(), wire)
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := s.conn.Write(frame); err != nil {
		return s.localSeq, fmt.Errorf("write failed: %w", err)
	}
	s.log.Trace("Sent %v seq=%d/%d", m.Command(), p.SenderSeq, p.ReceiverSeq)
	return s.localSeq, nil
}

func (s *Session) releaseFlushGate() {
	s.flushOnce.Do(func() {
		close(s.flushGate)
		s.log.Debug("Flush gate released")
		go s.heartbeat()
	})
}

// heartbeat defeats the panel's idle timeout.
func (s *Session) heartbeat() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SendMessage(s.ctx, &ConnectionPoll{}); err != nil {
				s.log.Warn("Heartbeat failed: %v", err)
			}
		}
	}
}

// readPacketDeadline reads whole frames synchronously; only used during
// the handshake, before the listen loop owns the socket.
func (s *Session) readPacketDeadline(d time.Duration) (*MessagePacket, error) {
	deadline := time.Now().Add(d)
	buf := make([]byte, 4096)
	for {
		_, payload, ok, err := s.framer.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			plain, err := s.enc.Decrypt(payload)
			if err != nil {
				return nil, err
			}
			return decodePacket(plain)
		}

		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		s.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, err := s.conn.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return nil, ErrDisconnected
		}
		s.framer.Push(buf[:n])
	}
}

func (s *Session) acquireLock() error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-time.After(s.cfg.LockTimeout):
		return ErrLockTimeout
	case <-s.ctx.Done():
		return ErrClosed
	}
}

func (s *Session) releaseLock() {
	<-s.lock
}

// Shutdown cancels the session, aborts every pending transaction and
// closes the transport. Safe to call more than once.
func (s *Session) Shutdown() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.quiet != nil {
			s.quiet.Stop()
		}

		// The listen loop may hold the lock; take it best-effort so
		// aborts do not race sends.
		select {
		case s.lock <- struct{}{}:
			defer s.releaseLock()
		case <-time.After(time.Second):
		}
		for _, t := range s.txns {
			t.abort(ErrAborted)
		}
		s.txns = nil

		s.conn.Close()
		s.state = SessionClosed
		if s.cfg.OnClosed != nil {
			s.cfg.OnClosed(s)
		}
		s.log.Info("Session closed")
	})
}
