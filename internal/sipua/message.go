package sipua

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// MessageKind distinguishes a SIP request from a SIP response.
type MessageKind int

const (
	KindRequest MessageKind = iota
	KindResponse
)

// Method is a SIP request method. pstnxsip only ever sends or receives the
// subset named in spec.md's EXTERNAL INTERFACES section.
type Method string

const (
	MethodInvite   Method = "INVITE"
	MethodAck      Method = "ACK"
	MethodBye      Method = "BYE"
	MethodCancel   Method = "CANCEL"
	MethodRegister Method = "REGISTER"
)

// Via is one entry of an (ordered) Via header list.
type Via struct {
	Transport string
	Host      string
	Port      int
	Branch    string
	RPort     *int
	Received  string
}

// Address is a From/To/Contact header value: a display name, a SIP URI
// broken into user/host/port, and any parameters (chiefly "tag").
type Address struct {
	Raw         string
	DisplayName string
	User        string
	Host        string
	Port        int
	Tag         string
	// Instance carries the +sip.instance Contact parameter when present.
	Instance string
}

// URI renders the address' sip: URI, ignoring display name and parameters.
func (a Address) URI() string {
	if a.Port != 0 {
		return fmt.Sprintf("sip:%s@%s:%d", a.User, a.Host, a.Port)
	}
	return fmt.Sprintf("sip:%s@%s", a.User, a.Host)
}

// CSeq is the parsed CSeq header: a sequence number and the method it names.
type CSeq struct {
	Seq    uint32
	Method Method
}

// Challenge is a parsed WWW-Authenticate/Proxy-Authenticate header.
type Challenge struct {
	Realm     string
	Nonce     string
	Qop       string
	Opaque    string
	Algorithm string
}

// Headers is the mandatory typed subset of spec.md's DESIGN NOTES, plus a
// fallback map for everything else so no parsing freedom is lost.
type Headers struct {
	Via               []Via
	From              Address
	To                Address
	CallID            string
	CSeq              CSeq
	Contact           *Address
	RecordRoute       []string
	Route             []string
	WWWAuthenticate   *Challenge
	ProxyAuthenticate *Challenge
	ContentLength     int
	ContentType       string
	Allow             []string
	Supported         []string
	Expires           *int
	MaxForwards       *int

	Extra map[string][]string
}

// Message is a parsed SIP datagram.
type Message struct {
	Kind MessageKind

	Version string

	// Request fields.
	Method     Method
	RequestURI string

	// Response fields.
	Status int
	Reason string

	Headers Headers
	Body    []byte
}

// Parse parses one UDP datagram's worth of bytes into a Message. A message
// with an unparseable start line is reported as ErrMalformed. A message with
// a Content-Encoding header is rejected with ErrUnsupportedEncoding, since
// nothing in this agent ever decodes a body.
func Parse(data []byte) (*Message, error) {
	raw := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	headEnd := bytes.Index(raw, []byte("\n\n"))
	var headBlock, body []byte
	if headEnd == -1 {
		headBlock = raw
	} else {
		headBlock = raw[:headEnd]
		body = raw[headEnd+2:]
	}

	lines := strings.Split(string(headBlock), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, ErrMalformed
	}

	msg := &Message{Body: body, Headers: Headers{Extra: map[string][]string{}}}
	if err := parseStartLine(strings.TrimSpace(lines[0]), msg); err != nil {
		return nil, err
	}

	for _, line := range unfoldHeaders(lines[1:]) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		name, value, ok := splitHeaderLine(line)
		if !ok {
			continue
		}
		if err := msg.Headers.apply(name, value); err != nil {
			return nil, err
		}
	}

	if msg.Headers.CallID == "" || msg.Headers.CSeq.Method == "" || len(msg.Headers.Via) == 0 ||
		msg.Headers.From.Raw == "" || msg.Headers.To.Raw == "" {
		return nil, fmt.Errorf("%w: Via/CSeq/Call-ID/From/To", ErrMissingMandatoryHeader)
	}

	return msg, nil
}

func unfoldHeaders(lines []string) []string {
	var out []string
	for _, l := range lines {
		if (strings.HasPrefix(l, " ") || strings.HasPrefix(l, "\t")) && len(out) > 0 {
			out[len(out)-1] += " " + strings.TrimSpace(l)
			continue
		}
		out = append(out, l)
	}
	return out
}

func splitHeaderLine(line string) (name, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

func parseStartLine(line string, msg *Message) error {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return ErrMalformed
	}
	if strings.HasPrefix(fields[0], "SIP/") {
		msg.Kind = KindResponse
		msg.Version = fields[0]
		status, err := strconv.Atoi(fields[1])
		if err != nil {
			return ErrMalformed
		}
		msg.Status = status
		msg.Reason = strings.Join(fields[2:], " ")
		return nil
	}
	msg.Kind = KindRequest
	msg.Method = Method(fields[0])
	msg.RequestURI = fields[1]
	msg.Version = fields[2]
	if msg.Version != "SIP/2.0" {
		return ErrMalformed
	}
	return nil
}

func (h *Headers) apply(name, value string) error {
	switch canonicalHeaderName(name) {
	case "via":
		v, err := parseVia(value)
		if err != nil {
			return nil // tolerant: drop the one bad Via, keep the rest of the message
		}
		h.Via = append(h.Via, v)
	case "from":
		h.From = parseAddress(value)
	case "to":
		h.To = parseAddress(value)
	case "call-id":
		h.CallID = value
	case "cseq":
		fields := strings.Fields(value)
		if len(fields) != 2 {
			return nil
		}
		seq, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil
		}
		h.CSeq = CSeq{Seq: uint32(seq), Method: Method(fields[1])}
	case "contact":
		a := parseAddress(value)
		h.Contact = &a
	case "record-route":
		h.RecordRoute = append(h.RecordRoute, value)
	case "route":
		h.Route = append(h.Route, value)
	case "www-authenticate":
		c := parseChallenge(value)
		h.WWWAuthenticate = &c
	case "proxy-authenticate":
		c := parseChallenge(value)
		h.ProxyAuthenticate = &c
	case "content-length":
		n, err := strconv.Atoi(value)
		if err == nil {
			h.ContentLength = n
		}
	case "content-type":
		h.ContentType = value
	case "content-encoding":
		return ErrUnsupportedEncoding
	case "allow":
		h.Allow = splitCSV(value)
	case "supported":
		h.Supported = splitCSV(value)
	case "expires":
		n, err := strconv.Atoi(value)
		if err == nil {
			h.Expires = &n
		}
	case "max-forwards":
		n, err := strconv.Atoi(value)
		if err == nil {
			h.MaxForwards = &n
		}
	default:
		h.Extra[name] = append(h.Extra[name], value)
	}
	return nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var shortHeaderNames = map[string]string{
	"v": "via", "f": "from", "t": "to", "i": "call-id",
	"m": "contact", "l": "content-length", "c": "content-type",
}

func canonicalHeaderName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if full, ok := shortHeaderNames[lower]; ok {
		return full
	}
	return lower
}
