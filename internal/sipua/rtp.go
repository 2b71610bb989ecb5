package sipua

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/pion/rtp"
)

// RTPStream holds the per-dialog RTP header state: sequence number,
// timestamp, and SSRC, each advanced as spec.md §4.1/§8 requires —
// sequence +1 and timestamp +payload-length per audio frame, both wrapping
// at their respective bit widths.
type RTPStream struct {
	SSRC      uint32
	Seq       uint16
	Timestamp uint32
	PT        uint8

	// PacketCount/OctetCount accumulate for the RTCP sender report
	// enrichment (rtcp.go), per emiago-diago's writeStats bookkeeping.
	PacketCount uint32
	OctetCount  uint32
}

// NewRTPStream picks a random starting sequence/timestamp/SSRC, following
// switchboard's GenerateSSRC/GenerateSequenceStart/GenerateTimestampStart
// convention of sourcing randomness from crypto/rand with a deterministic
// fallback.
func NewRTPStream(pt uint8) *RTPStream {
	return &RTPStream{
		SSRC:      randUint32(),
		Seq:       uint16(randUint32()),
		Timestamp: randUint32(),
		PT:        pt,
	}
}

func randUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x2a2a2a2a
	}
	return binary.BigEndian.Uint32(b[:])
}

// BuildAudioPacket marshals one audio frame as an RTP packet and advances
// the stream's sequence number (+1 mod 2^16) and timestamp (+len(payload)
// mod 2^32).
func (s *RTPStream) BuildAudioPacket(payload []byte) ([]byte, error) {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.PT,
			SequenceNumber: s.Seq,
			Timestamp:      s.Timestamp,
			SSRC:           s.SSRC,
		},
		Payload: payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return nil, err
	}
	s.Seq++
	s.Timestamp += uint32(len(payload))
	s.PacketCount++
	s.OctetCount += uint32(len(payload))
	return data, nil
}

// ParseAudioPacket unmarshals an inbound RTP packet.
func ParseAudioPacket(data []byte) (*rtp.Packet, error) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(data); err != nil {
		return nil, err
	}
	return pkt, nil
}

// DTMF event payload bytes, RFC 4733 §2.3: event, then a byte packing
// end-of-event (bit 7), reserved (bit 6), and volume (bits 0-5), then a
// 16-bit duration.
type DTMFEvent struct {
	Event    uint8
	EndOfEvt bool
	Volume   uint8
	Duration uint16
}

// DefaultDTMFVolume and DefaultDTMFDuration match the single-packet DTMF
// send spec.md §4.1 describes: volume 10, duration 0x00A0 (160 samples,
// 20ms at 8kHz).
const (
	DefaultDTMFVolume   uint8  = 10
	DefaultDTMFDuration uint16 = 0x00A0
)

// dtmfDigitToEvent maps a keypad digit to its RFC 4733 event code.
func dtmfDigitToEvent(digit rune) (uint8, bool) {
	switch {
	case digit >= '0' && digit <= '9':
		return uint8(digit - '0'), true
	case digit == '*':
		return 10, true
	case digit == '#':
		return 11, true
	case digit >= 'A' && digit <= 'D':
		return uint8(12 + (digit - 'A')), true
	case digit >= 'a' && digit <= 'd':
		return uint8(12 + (digit - 'a')), true
	default:
		return 0, false
	}
}

// dtmfEventToDigit is the inverse of dtmfDigitToEvent.
func dtmfEventToDigit(event uint8) (rune, bool) {
	switch {
	case event <= 9:
		return rune('0' + event), true
	case event == 10:
		return '*', true
	case event == 11:
		return '#', true
	case event >= 12 && event <= 15:
		return rune('A' + (event - 12)), true
	default:
		return 0, false
	}
}

// Encode renders a DTMFEvent as its 4-byte RFC 4733 wire format.
func (e DTMFEvent) Encode() []byte {
	b := make([]byte, 4)
	b[0] = e.Event
	b[1] = e.Volume & 0x3F
	if e.EndOfEvt {
		b[1] |= 0x80
	}
	binary.BigEndian.PutUint16(b[2:], e.Duration)
	return b
}

// DecodeDTMFEvent parses a 4-byte RFC 4733 telephone-event payload.
func DecodeDTMFEvent(payload []byte) (DTMFEvent, bool) {
	if len(payload) < 4 {
		return DTMFEvent{}, false
	}
	return DTMFEvent{
		Event:    payload[0],
		EndOfEvt: payload[1]&0x80 != 0,
		Volume:   payload[1] & 0x3F,
		Duration: binary.BigEndian.Uint16(payload[2:4]),
	}, true
}

// BuildDTMFPacket marshals a single marker-bit DTMF packet carrying digit,
// per spec.md §4.1: marker bit set, payload type dtmfPT (the agent passes
// the telephone-event type, 101), end-of-event bit clear, timestamp
// advanced by 1 rather than by payload length. Receivers
// are required to also accept a start+refresh+end triplet, so this is one
// valid, simpler implementation of the send side.
func (s *RTPStream) BuildDTMFPacket(digit rune, dtmfPT uint8) ([]byte, error) {
	event, ok := dtmfDigitToEvent(digit)
	if !ok {
		return nil, ErrNoCodecMatch
	}
	payload := DTMFEvent{
		Event:    event,
		EndOfEvt: false,
		Volume:   DefaultDTMFVolume,
		Duration: DefaultDTMFDuration,
	}.Encode()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			PayloadType:    dtmfPT,
			SequenceNumber: s.Seq,
			Timestamp:      s.Timestamp,
			SSRC:           s.SSRC,
		},
		Payload: payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return nil, err
	}
	s.Seq++
	s.Timestamp++
	return data, nil
}

// DTMFReceiver tracks RFC 4733 event state so a digit is emitted exactly
// once per start+refresh+end triplet (or once for a single packet already
// marked end-of-event), resolving the Open Question in spec.md §9 in favor of the
// stricter reading: track the end-of-event bit rather than keying off the
// first payload byte of any non-audio packet.
type DTMFReceiver struct {
	active     bool
	lastEvent  uint8
	lastSeqSet bool
	lastSeq    uint16
}

// Receive processes one telephone-event RTP packet and returns the digit
// once, at end-of-event (or immediately, for a packet that arrives already
// marked end-of-event with no preceding start seen).
func (d *DTMFReceiver) Receive(pkt *rtp.Packet) (rune, bool) {
	evt, ok := DecodeDTMFEvent(pkt.Payload)
	if !ok {
		return 0, false
	}

	if d.lastSeqSet && pkt.SequenceNumber == d.lastSeq {
		// Duplicate/refresh packet for an event already emitted.
		return 0, false
	}

	if !evt.EndOfEvt {
		d.active = true
		d.lastEvent = evt.Event
		return 0, false
	}

	if d.active && evt.Event != d.lastEvent {
		// A new event's end packet arrived without its start; fall through
		// and still emit it rather than silently drop a digit.
	}
	d.active = false
	d.lastSeqSet = true
	d.lastSeq = pkt.SequenceNumber
	digit, ok := dtmfEventToDigit(evt.Event)
	return digit, ok
}
