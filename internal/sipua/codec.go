package sipua

import "github.com/zaf/g711"

// Payload types pstnxsip negotiates, per spec.md §4.1/§6.
const (
	PayloadTypePCMU           uint8 = 0
	PayloadTypePCMA           uint8 = 8
	PayloadTypeTelephoneEvent uint8 = 101
)

// CodecName maps a negotiated payload type to its rtpmap name.
func CodecName(pt uint8) string {
	switch pt {
	case PayloadTypePCMU:
		return "PCMU"
	case PayloadTypePCMA:
		return "PCMA"
	case PayloadTypeTelephoneEvent:
		return "telephone-event"
	default:
		return "unknown"
	}
}

// biasIn converts one PSTN sample (unsigned, centered at 128) to a 16-bit
// signed linear sample, per spec.md §3's ±128 bias convention.
func biasIn(b byte) int16 {
	return int16(int(b)-128) << 8
}

// biasOut is the inverse of biasIn.
func biasOut(s int16) byte {
	return byte((int(s) >> 8) + 128)
}

// EncodePCMU converts an 8-bit unsigned PSTN frame to µ-law RTP payload.
func EncodePCMU(pstn []byte) []byte {
	return g711.EncodeUlaw(linearBytes(pstn))
}

// DecodePCMU converts a µ-law RTP payload back to an 8-bit unsigned PSTN
// frame.
func DecodePCMU(ulaw []byte) []byte {
	return pstnBytes(g711.DecodeUlaw(ulaw))
}

// EncodePCMA converts an 8-bit unsigned PSTN frame to A-law RTP payload.
func EncodePCMA(pstn []byte) []byte {
	return g711.EncodeAlaw(linearBytes(pstn))
}

// DecodePCMA converts an A-law RTP payload back to an 8-bit unsigned PSTN
// frame.
func DecodePCMA(alaw []byte) []byte {
	return pstnBytes(g711.DecodeAlaw(alaw))
}

// linearBytes expands one PSTN byte per sample into 16-bit little-endian
// linear PCM, the format github.com/zaf/g711 expects.
func linearBytes(pstn []byte) []byte {
	out := make([]byte, 0, len(pstn)*2)
	for _, b := range pstn {
		s := biasIn(b)
		out = append(out, byte(uint16(s)&0xFF), byte(uint16(s)>>8))
	}
	return out
}

// pstnBytes collapses 16-bit little-endian linear PCM back to one PSTN byte
// per sample.
func pstnBytes(linear []byte) []byte {
	out := make([]byte, 0, len(linear)/2)
	for i := 0; i+1 < len(linear); i += 2 {
		s := int16(uint16(linear[i]) | uint16(linear[i+1])<<8)
		out = append(out, biasOut(s))
	}
	return out
}

// EncodeByPayloadType dispatches to EncodePCMU or EncodePCMA by negotiated
// payload type.
func EncodeByPayloadType(pt uint8, pstn []byte) ([]byte, error) {
	switch pt {
	case PayloadTypePCMU:
		return EncodePCMU(pstn), nil
	case PayloadTypePCMA:
		return EncodePCMA(pstn), nil
	default:
		return nil, ErrNoCodecMatch
	}
}

// DecodeByPayloadType dispatches to DecodePCMU or DecodePCMA by negotiated
// payload type.
func DecodeByPayloadType(pt uint8, payload []byte) ([]byte, error) {
	switch pt {
	case PayloadTypePCMU:
		return DecodePCMU(payload), nil
	case PayloadTypePCMA:
		return DecodePCMA(payload), nil
	default:
		return nil, ErrNoCodecMatch
	}
}
