package modem

import (
	"bytes"
	"testing"
)

func TestDemuxBusyTone(t *testing.T) {
	// spec.md §8 scenario 4: DLE 'b' erased to two neutral bytes, one event.
	res := Demux([]byte{0xAA, 0x10, 0x62})
	want := []byte{0xAA, 0x11, 0x11}
	if !bytes.Equal(res.Audio, want) {
		t.Fatalf("audio = %x, want %x", res.Audio, want)
	}
	if len(res.Events) != 1 || res.Events[0] != EventBusyTone {
		t.Fatalf("events = %v, want [EventBusyTone]", res.Events)
	}
}

func TestDemuxDialToneAndSilence(t *testing.T) {
	res := Demux([]byte{0x10, 0x64, 0xBB, 0x10, 0x73})
	wantAudio := []byte{0x11, 0x11, 0xBB, 0x11, 0x11}
	if !bytes.Equal(res.Audio, wantAudio) {
		t.Fatalf("audio = %x, want %x", res.Audio, wantAudio)
	}
	if len(res.Events) != 2 || res.Events[0] != EventDialTone || res.Events[1] != EventSilence {
		t.Fatalf("events = %v", res.Events)
	}
}

func TestDemuxEndOfVoice(t *testing.T) {
	res := Demux([]byte{0x10, 0x03})
	if len(res.Events) != 1 || res.Events[0] != EventEndOfVoice {
		t.Fatalf("events = %v, want [EventEndOfVoice]", res.Events)
	}
}

func TestDemuxTXUnderrunAndRXOverrun(t *testing.T) {
	res := Demux([]byte{0x10, 0x75, 0x10, 0x6F})
	if len(res.Events) != 2 || res.Events[0] != EventTXUnderrun || res.Events[1] != EventRXOverrun {
		t.Fatalf("events = %v", res.Events)
	}
}

func TestDemuxDTMFDigit(t *testing.T) {
	res := Demux([]byte{0x10, '5', 0x10, '*', 0x10, 'A'})
	if len(res.Events) != 3 {
		t.Fatalf("events = %v", res.Events)
	}
	for _, e := range res.Events {
		if e != EventDTMF {
			t.Fatalf("events = %v, want all EventDTMF", res.Events)
		}
	}
	wantDigits := []rune{'5', '*', 'A'}
	if len(res.Digits) != len(wantDigits) {
		t.Fatalf("digits = %v", res.Digits)
	}
	for i, d := range wantDigits {
		if res.Digits[i] != d {
			t.Fatalf("digits[%d] = %q, want %q", i, res.Digits[i], d)
		}
	}
}

func TestDemuxLiteralDLE(t *testing.T) {
	// DLE DLE is a literal 0x10 byte in the audio stream, erased like any
	// other recognized sequence.
	res := Demux([]byte{0x10, 0x10, 0xCC})
	want := []byte{0x11, 0x11, 0xCC}
	if !bytes.Equal(res.Audio, want) {
		t.Fatalf("audio = %x, want %x", res.Audio, want)
	}
	if len(res.Events) != 0 {
		t.Fatalf("events = %v, want none", res.Events)
	}
}

func TestDemuxTrailingDLENoCodeYet(t *testing.T) {
	// A DLE with no following byte in this buffer is left untouched for the
	// next read to interpret once the code byte arrives.
	res := Demux([]byte{0xAA, 0x10})
	want := []byte{0xAA, 0x10}
	if !bytes.Equal(res.Audio, want) {
		t.Fatalf("audio = %x, want %x", res.Audio, want)
	}
	if len(res.Events) != 0 {
		t.Fatalf("events = %v, want none", res.Events)
	}
}

func TestEscapeSendReplacesLiteralDLE(t *testing.T) {
	out := EscapeSend([]byte{0x01, 0x10, 0x7F, 0x10})
	want := []byte{0x01, 0x11, 0x7F, 0x11}
	if !bytes.Equal(out, want) {
		t.Fatalf("EscapeSend = %x, want %x", out, want)
	}
}
