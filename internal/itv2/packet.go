package itv2

// MessagePacket is the decrypted payload of one frame: the two sequence
// counters, the optional app sequence and the message record.
type MessagePacket struct {
	SenderSeq   uint8
	ReceiverSeq uint8
	AppSeq      uint8
	Message     Message
}

// encodePacket lays out sequence bytes followed by the message envelope.
func encodePacket(p *MessagePacket) ([]byte, error) {
	var appSeq *uint8
	if HasAppSequence(p.Message.Command()) {
		appSeq = &p.AppSeq
	}
	envelope, err := encodeEnvelope(p.Message, appSeq)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 2+len(envelope))
	out = append(out, p.SenderSeq, p.ReceiverSeq)
	return append(out, envelope...), nil
}

// decodePacket parses a decrypted frame payload.
func decodePacket(data []byte) (*MessagePacket, error) {
	if len(data) < 2 {
		return nil, &EncodingError{Reason: "payload shorter than sequence bytes"}
	}
	msg, appSeq, err := decodeEnvelope(data[2:], true)
	if err != nil {
		return nil, err
	}
	return &MessagePacket{
		SenderSeq:   data[0],
		ReceiverSeq: data[1],
		AppSeq:      appSeq,
		Message:     msg,
	}, nil
}
