package sipua

import (
	"testing"

	"github.com/pion/rtp"
)

func TestRTPStreamSequenceWraparound(t *testing.T) {
	s := &RTPStream{PT: PayloadTypePCMU, Seq: 0xFFFF, Timestamp: 0}
	if _, err := s.BuildAudioPacket(make([]byte, 160)); err != nil {
		t.Fatalf("BuildAudioPacket: %v", err)
	}
	if s.Seq != 0 {
		t.Fatalf("Seq after wraparound = %d, want 0", s.Seq)
	}
	if s.Timestamp != 160 {
		t.Fatalf("Timestamp = %d, want 160", s.Timestamp)
	}
}

func TestRTPStreamTimestampWraparound(t *testing.T) {
	s := &RTPStream{PT: PayloadTypePCMU, Timestamp: 0xFFFFFFFF}
	if _, err := s.BuildAudioPacket(make([]byte, 160)); err != nil {
		t.Fatalf("BuildAudioPacket: %v", err)
	}
	if s.Timestamp != 159 {
		t.Fatalf("Timestamp after wraparound = %d, want 159", s.Timestamp)
	}
}

func TestBuildAndParseAudioPacket(t *testing.T) {
	s := NewRTPStream(PayloadTypePCMU)
	payload := []byte{1, 2, 3, 4}
	data, err := s.BuildAudioPacket(payload)
	if err != nil {
		t.Fatalf("BuildAudioPacket: %v", err)
	}
	pkt, err := ParseAudioPacket(data)
	if err != nil {
		t.Fatalf("ParseAudioPacket: %v", err)
	}
	if pkt.PayloadType != PayloadTypePCMU {
		t.Fatalf("PayloadType = %d, want %d", pkt.PayloadType, PayloadTypePCMU)
	}
	if string(pkt.Payload) != string(payload) {
		t.Fatalf("Payload = %v, want %v", pkt.Payload, payload)
	}
}

func TestDTMFDigitRoundTrip(t *testing.T) {
	for _, d := range []rune{'0', '5', '9', '*', '#', 'A', 'D'} {
		evt, ok := dtmfDigitToEvent(d)
		if !ok {
			t.Fatalf("dtmfDigitToEvent(%q) failed", d)
		}
		back, ok := dtmfEventToDigit(evt)
		if !ok || back != d {
			t.Fatalf("round-trip for %q gave %q", d, back)
		}
	}
}

func dtmfPacket(seq uint16, evt DTMFEvent) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{PayloadType: PayloadTypeTelephoneEvent, SequenceNumber: seq},
		Payload: evt.Encode(),
	}
}

func TestDTMFReceiverEmitsOnceAtEndOfEvent(t *testing.T) {
	var recv DTMFReceiver
	start := dtmfPacket(100, DTMFEvent{Event: 5, Volume: 10, Duration: 160})
	refresh := dtmfPacket(101, DTMFEvent{Event: 5, Volume: 10, Duration: 320})
	end := dtmfPacket(102, DTMFEvent{Event: 5, EndOfEvt: true, Volume: 10, Duration: 480})

	if _, ok := recv.Receive(start); ok {
		t.Fatal("start packet should not emit a digit")
	}
	if _, ok := recv.Receive(refresh); ok {
		t.Fatal("refresh packet should not emit a digit")
	}
	digit, ok := recv.Receive(end)
	if !ok || digit != '5' {
		t.Fatalf("end packet gave digit=%q ok=%v, want '5' true", digit, ok)
	}

	// A duplicate end packet (retransmission) must not re-emit.
	if _, ok := recv.Receive(end); ok {
		t.Fatal("duplicate end packet re-emitted a digit")
	}
}
