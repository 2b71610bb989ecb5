package sipua

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// rtpmapNames maps a payload type to its rtpmap codec/rate string, mirroring
// services/rtpmanager/sdp/builder.go's GetCodecAttributes table, trimmed to
// the codecs this agent actually negotiates.
var rtpmapNames = map[uint8]string{
	PayloadTypePCMU:           "PCMU/8000",
	PayloadTypePCMA:           "PCMA/8000",
	PayloadTypeTelephoneEvent: "telephone-event/8000",
}

// BuildOffer constructs the SDP offer spec.md §4.1 names: PCMU and the
// telephone-event payload type, sendrecv, maxptime 150.
func BuildOffer(localIP string, localPort int) ([]byte, error) {
	return buildSessionDescription(localIP, localPort, []uint8{PayloadTypePCMU, PayloadTypeTelephoneEvent})
}

// BuildAnswer constructs the SDP answer for the single negotiated codec plus
// the telephone-event payload type.
func BuildAnswer(localIP string, localPort int, chosenPT uint8) ([]byte, error) {
	return buildSessionDescription(localIP, localPort, []uint8{chosenPT, PayloadTypeTelephoneEvent})
}

func buildSessionDescription(localIP string, localPort int, pts []uint8) ([]byte, error) {
	formats := make([]string, 0, len(pts))
	for _, pt := range pts {
		formats = append(formats, strconv.Itoa(int(pt)))
	}

	attrs := make([]sdp.Attribute, 0, len(pts)+3)
	for _, pt := range pts {
		name, ok := rtpmapNames[pt]
		if !ok {
			continue
		}
		attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: fmt.Sprintf("%d %s", pt, name)})
		if pt == PayloadTypeTelephoneEvent {
			attrs = append(attrs, sdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d 0-15", pt)})
		}
	}
	attrs = append(attrs, sdp.Attribute{Key: "maxptime", Value: "150"})
	attrs = append(attrs, sdp.Attribute{Key: "sendrecv"})

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "pstnxsip",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: localIP,
		},
		SessionName: "pstnxsip",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: localIP},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: localPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: attrs,
			},
		},
	}

	return desc.Marshal()
}

// RemoteMedia is what this agent needs from a parsed remote SDP body: the
// endpoint to send RTP to, and the codec table the remote side advertised,
// built dynamically from a=rtpmap attributes per spec.md §3.
type RemoteMedia struct {
	Addr           string
	Port           int
	PayloadTypes   []uint8
	TelephoneEvent uint8 // 0 if not offered
}

// ParseRemoteSDP parses a remote SDP body and extracts the information this
// agent's offer/answer logic needs.
func ParseRemoteSDP(body []byte) (*RemoteMedia, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("parse SDP: %w", err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return nil, fmt.Errorf("SDP has no media descriptions")
	}
	m := desc.MediaDescriptions[0]

	addr := ""
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		addr = desc.ConnectionInformation.Address.Address
	}
	if m.ConnectionInformation != nil && m.ConnectionInformation.Address != nil {
		addr = m.ConnectionInformation.Address.Address
	}

	rm := &RemoteMedia{Addr: addr, Port: m.MediaName.Port.Value}
	for _, f := range m.MediaName.Formats {
		pt, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		rm.PayloadTypes = append(rm.PayloadTypes, uint8(pt))
	}

	for _, a := range m.Attributes {
		if a.Key != "rtpmap" {
			continue
		}
		fields := strings.Fields(a.Value)
		if len(fields) != 2 {
			continue
		}
		pt, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		if strings.HasPrefix(strings.ToLower(fields[1]), "telephone-event") {
			rm.TelephoneEvent = uint8(pt)
		}
	}
	if rm.TelephoneEvent == 0 {
		rm.TelephoneEvent = PayloadTypeTelephoneEvent
	}
	return rm, nil
}

// NegotiateCodec selects the first payload type in preferred (our preference
// order) that also appears in remote's list, per spec.md §4.1: "select the
// first payload type intersecting the offer with the local preferred list".
func NegotiateCodec(preferred []uint8, remote []uint8) (uint8, error) {
	remoteSet := make(map[uint8]bool, len(remote))
	for _, pt := range remote {
		remoteSet[pt] = true
	}
	for _, pt := range preferred {
		if remoteSet[pt] {
			return pt, nil
		}
	}
	return 0, ErrNoCodecMatch
}
