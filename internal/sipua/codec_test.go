package sipua

import "testing"

// allLinearValues is every 8-bit PSTN sample, 0-255, for exercising the
// µ-law/A-law quantization table exhaustively per spec.md §8 rather than on
// a handful of sample points.
func allLinearValues() []byte {
	pstn := make([]byte, 256)
	for i := range pstn {
		pstn[i] = byte(i)
	}
	return pstn
}

func TestPCMURoundTrip(t *testing.T) {
	pstn := allLinearValues()
	encoded := EncodePCMU(pstn)
	if len(encoded) != len(pstn) {
		t.Fatalf("encoded length = %d, want %d", len(encoded), len(pstn))
	}
	decoded := DecodePCMU(encoded)
	if len(decoded) != len(pstn) {
		t.Fatalf("decoded length = %d, want %d", len(decoded), len(pstn))
	}

	// u-law is lossy, so decode(encode(x)) isn't x in general; it's
	// identity "modulo the quantization table", meaning the codec must fix
	// a point once it lands on one: re-encoding and re-decoding an already
	// round-tripped sample must reproduce the same sample for every one of
	// the 256 inputs.
	again := DecodePCMU(EncodePCMU(decoded))
	for i := range decoded {
		if decoded[i] != again[i] {
			t.Fatalf("PCMU round-trip not stable at sample %d: %d, then %d", i, decoded[i], again[i])
		}
	}

	// A silence sample (128, bias-zero) carries no quantization error and
	// must round-trip exactly.
	silence := EncodePCMU([]byte{128})
	if got := DecodePCMU(silence)[0]; got != 128 {
		t.Fatalf("silence round-trip = %d, want 128", got)
	}
}

func TestPCMARoundTrip(t *testing.T) {
	pstn := allLinearValues()
	encoded := EncodePCMA(pstn)
	if len(encoded) != len(pstn) {
		t.Fatalf("encoded length = %d, want %d", len(encoded), len(pstn))
	}
	decoded := DecodePCMA(encoded)
	if len(decoded) != len(pstn) {
		t.Fatalf("decoded length = %d, want %d", len(decoded), len(pstn))
	}

	again := DecodePCMA(EncodePCMA(decoded))
	for i := range decoded {
		if decoded[i] != again[i] {
			t.Fatalf("A-law round-trip not stable at sample %d: %d, then %d", i, decoded[i], again[i])
		}
	}

	silence := EncodePCMA([]byte{128})
	if got := DecodePCMA(silence)[0]; got != 128 {
		t.Fatalf("A-law silence round-trip = %d, want 128", got)
	}
}

func TestBiasConvention(t *testing.T) {
	if biasIn(128) != 0 {
		t.Fatalf("biasIn(128) = %d, want 0", biasIn(128))
	}
	if biasOut(0) != 128 {
		t.Fatalf("biasOut(0) = %d, want 128", biasOut(0))
	}
	if biasOut(biasIn(64)) != 64 {
		t.Fatalf("biasOut(biasIn(64)) = %d, want 64", biasOut(biasIn(64)))
	}
}

func TestEncodeByPayloadTypeUnknown(t *testing.T) {
	if _, err := EncodeByPayloadType(99, []byte{0}); err != ErrNoCodecMatch {
		t.Fatalf("err = %v, want ErrNoCodecMatch", err)
	}
	if _, err := DecodeByPayloadType(99, []byte{0}); err != ErrNoCodecMatch {
		t.Fatalf("err = %v, want ErrNoCodecMatch", err)
	}
}
