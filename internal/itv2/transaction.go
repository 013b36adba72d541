package itv2

import (
	"context"
	"sync"
	"time"
)

// Pattern selects the acknowledgement state machine a message exchange
// runs.
type Pattern int

const (
	// PatternNone marks ack/response records that never open an exchange
	// of their own.
	PatternNone Pattern = iota
	PatternSimpleAck
	PatternCommandResponse
	PatternCommandRequest
)

type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// Result is the completion value of a transaction.
type Result struct {
	Message Message
	Err     error
}

// sender writes one follow-up record inside the owning session, allocating
// its sequence numbers, and reports the sender sequence used. Transactions
// hold this bounded handle instead of a session back-pointer.
type sender func(Message) (uint8, error)

type txState int

const (
	txCreated txState = iota
	txAwaitAck
	txAwaitResponse
	txAwaitResult
)

// transaction correlates the packets of one message exchange and drives
// its acknowledgement handshake. All state transitions run under the
// session's transaction lock; completion may additionally come from the
// deadline timer, so resolution itself is guarded.
type transaction struct {
	pattern    Pattern
	direction  Direction
	initiating Message
	requested  Command

	// correlation keys captured at begin
	peerSeq  uint8
	localSeq uint8

	// state is guarded by the session's transaction lock; done/result by
	// mu, because the deadline timer resolves outside that lock.
	state txState
	send  sender

	mu       sync.Mutex
	done     bool
	result   Result
	doneCh   chan struct{}
	timer    *time.Timer
	notified bool
}

func newTransaction(pattern Pattern, direction Direction, initiating Message, send sender, deadline time.Duration) *transaction {
	t := &transaction{
		pattern:    pattern,
		direction:  direction,
		initiating: initiating,
		send:       send,
		doneCh:     make(chan struct{}),
	}
	if deadline > 0 {
		t.timer = time.AfterFunc(deadline, func() {
			t.complete(Result{Err: ErrTimeout})
		})
	}
	return t
}

// beginInbound starts the exchange for a packet the peer initiated,
// sending the immediate ack or response.
func (t *transaction) beginInbound(p *MessagePacket) error {
	t.peerSeq = p.SenderSeq

	switch t.pattern {
	case PatternSimpleAck:
		seq, err := t.send(&SimpleAck{})
		t.localSeq = seq
		if err != nil {
			t.complete(Result{Err: err})
			return err
		}
		t.complete(Result{Message: t.initiating})
	case PatternCommandResponse:
		seq, err := t.send(&CommandResponse{Requested: t.initiating.Command(), Code: ResponseSuccess})
		t.localSeq = seq
		if err != nil {
			t.complete(Result{Err: err})
			return err
		}
		t.state = txAwaitAck
	default:
		// CommandRequest exchanges are only ever opened by this side.
		err := &UnexpectedResponseError{Command: t.initiating.Command()}
		t.complete(Result{Err: err})
		return err
	}
	return nil
}

// beginOutbound performs the wire send of the initiating record.
func (t *transaction) beginOutbound() error {
	if req, ok := t.initiating.(*CommandRequestMessage); ok {
		t.requested = req.Requested
	}

	seq, err := t.send(t.initiating)
	t.localSeq = seq
	if err != nil {
		t.complete(Result{Err: err})
		return err
	}

	switch t.pattern {
	case PatternSimpleAck:
		t.state = txAwaitAck
	case PatternCommandResponse:
		t.state = txAwaitResponse
	case PatternCommandRequest:
		t.state = txAwaitResult
	}
	return nil
}

// correlates reports whether the packet belongs to this exchange: inbound
// transactions match the peer sequence captured at begin or echoes of our
// response; outbound transactions match echoes of the initiating send.
func (t *transaction) correlates(p *MessagePacket) bool {
	if t.direction == Inbound {
		return p.SenderSeq == t.peerSeq || p.ReceiverSeq == t.localSeq
	}
	return p.ReceiverSeq == t.localSeq
}

// offer hands the packet to the state machine. It reports true when the
// packet was consumed. An ack or response arriving in a state that does
// not expect it aborts the exchange and still consumes the packet; any
// other record falls through so later transactions or a fresh inbound
// exchange can take it.
func (t *transaction) offer(p *MessagePacket) bool {
	if t.isDone() || !t.correlates(p) {
		return false
	}

	switch t.pattern {
	case PatternSimpleAck:
		return t.offerSimpleAck(p)
	case PatternCommandResponse:
		return t.offerCommandResponse(p)
	case PatternCommandRequest:
		return t.offerCommandRequest(p)
	}
	return false
}

func (t *transaction) offerSimpleAck(p *MessagePacket) bool {
	switch m := p.Message.(type) {
	case *SimpleAck:
		if t.state != txAwaitAck {
			t.abortUnexpected(p)
			return true
		}
		t.complete(Result{Message: t.initiating})
		return true
	case *CommandError:
		t.complete(Result{Err: &NackError{Code: m.Nack}})
		return true
	case *CommandResponse:
		t.abortUnexpected(p)
		return true
	}
	return false
}

func (t *transaction) offerCommandResponse(p *MessagePacket) bool {
	if t.direction == Outbound {
		switch m := p.Message.(type) {
		case *CommandResponse:
			if t.state != txAwaitResponse {
				t.abortUnexpected(p)
				return true
			}
			var err error
			if m.Code != ResponseSuccess {
				err = &ResponseError{Code: m.Code}
			}
			// Ack the response either way, then surface the outcome.
			if _, sendErr := t.send(&SimpleAck{}); sendErr != nil && err == nil {
				err = sendErr
			}
			t.complete(Result{Message: m, Err: err})
			return true
		case *CommandError:
			t.complete(Result{Err: &NackError{Code: m.Nack}})
			return true
		case *SimpleAck:
			t.abortUnexpected(p)
			return true
		}
		return false
	}

	// Inbound: our CommandResponse{Success} is on the wire, awaiting ack.
	switch p.Message.(type) {
	case *SimpleAck:
		if t.state != txAwaitAck {
			t.abortUnexpected(p)
			return true
		}
		t.complete(Result{Message: t.initiating})
		return true
	case *CommandResponse, *CommandError:
		t.abortUnexpected(p)
		return true
	}
	return false
}

func (t *transaction) offerCommandRequest(p *MessagePacket) bool {
	switch m := p.Message.(type) {
	case *CommandError:
		t.complete(Result{Err: &NackError{Code: m.Nack}})
		return true
	case *SimpleAck, *CommandResponse:
		t.abortUnexpected(p)
		return true
	default:
		if p.Message.Command() != t.requested {
			return false
		}
		if _, err := t.send(&SimpleAck{}); err != nil {
			t.complete(Result{Err: err})
			return true
		}
		t.complete(Result{Message: p.Message})
		return true
	}
}

func (t *transaction) abortUnexpected(p *MessagePacket) {
	t.complete(Result{Err: &UnexpectedResponseError{Command: p.Message.Command()}})
}

// abort resolves a still-pending exchange with err.
func (t *transaction) abort(err error) {
	t.complete(Result{Err: err})
}

func (t *transaction) complete(r Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.result = r
	if t.timer != nil {
		t.timer.Stop()
	}
	close(t.doneCh)
}

func (t *transaction) isDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// await blocks until completion or one of the contexts ends.
func (t *transaction) await(ctx, sessionCtx context.Context) Result {
	select {
	case <-t.doneCh:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result
	case <-ctx.Done():
		return Result{Err: ErrCancelled}
	case <-sessionCtx.Done():
		return Result{Err: ErrCancelled}
	}
}
