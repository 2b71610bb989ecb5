package sipua

import (
	"time"

	"github.com/pion/rtcp"
)

// ntpEpochOffset is the number of seconds between the NTP epoch (1900) and
// the Unix epoch (1970), per emiago-diago's media.NTPTimestamp.
const ntpEpochOffset int64 = 2208988800

// ntpTimestamp renders t as a 64-bit NTP timestamp (32-bit seconds, 32-bit
// fraction), the wire format rtcp.SenderReport.NTPTime expects.
func ntpTimestamp(t time.Time) uint64 {
	seconds := t.Unix() + ntpEpochOffset
	frac := (float64(t.Nanosecond()) / 1e9) * (1 << 32)
	return uint64(seconds)<<32 | uint64(frac)
}

// SenderReport marshals an RTCP sender report describing the stream's
// output so far, an enrichment beyond spec.md's RTP-only wire subset
// grounded in emiago-diago's rtp_session.go writeRTCP/parseSenderReport.
// pstnxsip sends no receiver reports: the PSTN leg has nothing upstream
// that consumes RTCP feedback, so only the sender side is implemented.
func (s *RTPStream) SenderReport(now time.Time) ([]byte, error) {
	sr := &rtcp.SenderReport{
		SSRC:        s.SSRC,
		NTPTime:     ntpTimestamp(now),
		RTPTime:     s.Timestamp,
		PacketCount: s.PacketCount,
		OctetCount:  s.OctetCount,
	}
	return sr.Marshal()
}
