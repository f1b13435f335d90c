package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeHeaderNoSentTime(t *testing.T) {
	h := PacketHeader{PeerID: 0x0123, SessionID: 2}
	buf := EncodeHeader(h)
	if len(buf) != 2 {
		t.Fatalf("expected 2-byte header, got %d", len(buf))
	}

	got, n, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected consumed=2, got %d", n)
	}
	if got.PeerID != h.PeerID || got.SessionID != h.SessionID {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, h)
	}
}

func TestEncodeDecodeHeaderWithSentTime(t *testing.T) {
	h := PacketHeader{PeerID: 0xFFF, SessionID: 3, Flags: HeaderFlagSentTime, SentTime: 0xBEEF}
	buf := EncodeHeader(h)
	if len(buf) != 4 {
		t.Fatalf("expected 4-byte header, got %d", len(buf))
	}

	got, n, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected consumed=4, got %d", n)
	}
	if got.PeerID != h.PeerID || got.SentTime != h.SentTime || got.Flags&HeaderFlagSentTime == 0 {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, h)
	}
}

func TestDecodeHeaderTruncated(t *testing.T) {
	if _, _, err := DecodeHeader([]byte{0x01}); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	sentTimeHeader := EncodeHeader(PacketHeader{Flags: HeaderFlagSentTime, SentTime: 1})
	if _, _, err := DecodeHeader(sentTimeHeader[:2]); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated for missing sent-time word, got %v", err)
	}
}

func TestEncodeDecodeAckCommand(t *testing.T) {
	cmd := &Command{
		Header: CommandHeader{Command: byte(OpAcknowledge), ChannelID: 0xFF, ReliableSeq: 7},
		Ack:    &AckPayload{RecvReliableSeq: 7, RecvSentTime: 0x1234},
	}
	buf := EncodeCommand(cmd)
	if len(buf) != commandHeaderSize+CommandTailSize(byte(OpAcknowledge)) {
		t.Fatalf("unexpected encoded length %d", len(buf))
	}

	got, n, err := DecodeCommand(buf)
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("expected consumed=%d, got %d", len(buf), n)
	}
	if got.Ack == nil || got.Ack.RecvReliableSeq != 7 || got.Ack.RecvSentTime != 0x1234 {
		t.Fatalf("ack payload mismatch: %+v", got.Ack)
	}
	if got.opcode() != OpAcknowledge {
		t.Fatalf("expected opcode OpAcknowledge, got %v", got.opcode())
	}
}

func TestEncodeDecodeSendReliableWithData(t *testing.T) {
	payload := []byte("hello world")
	cmd := &Command{
		Header:       CommandHeader{Command: byte(OpSendReliable) | CommandFlagAcknowledge, ChannelID: 1, ReliableSeq: 3},
		SendReliable: &SendReliablePayload{DataLength: uint16(len(payload))},
		Data:         payload,
	}
	buf := EncodeCommand(cmd)
	full := append(buf, payload...)

	got, n, err := DecodeCommand(full)
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if got.dataLength() != len(payload) {
		t.Fatalf("expected dataLength=%d, got %d", len(payload), got.dataLength())
	}
	tailEnd := n
	data := full[tailEnd : tailEnd+got.dataLength()]
	if !bytes.Equal(data, payload) {
		t.Fatalf("payload mismatch: got %q want %q", data, payload)
	}
	if !got.requiresAck() {
		t.Fatalf("expected requiresAck true for acknowledge-flagged command")
	}
}

func TestCommandTailSizeKnownOpcodes(t *testing.T) {
	cases := map[Opcode]int{
		OpNone:           0,
		OpAcknowledge:    4,
		OpConnect:        44,
		OpVerifyConnect:  40,
		OpDisconnect:     4,
		OpPing:           0,
		OpSendReliable:   2,
		OpSendUnreliable: 4,
	}
	for op, want := range cases {
		if got := CommandTailSize(byte(op)); got != want {
			t.Errorf("CommandTailSize(%v) = %d, want %d", op, got, want)
		}
	}
}

func TestDecodeCommandTruncated(t *testing.T) {
	if _, _, err := DecodeCommand([]byte{0x01, 0x02}); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}
