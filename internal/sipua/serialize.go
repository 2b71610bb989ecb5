package sipua

import (
	"fmt"
	"strings"
)

// Bytes serializes a Message back to wire format: CRLF-terminated header
// lines, a blank line, then the body.
func (m *Message) Bytes() []byte {
	var b strings.Builder

	if m.Kind == KindRequest {
		fmt.Fprintf(&b, "%s %s SIP/2.0\r\n", m.Method, m.RequestURI)
	} else {
		fmt.Fprintf(&b, "SIP/2.0 %d %s\r\n", m.Status, m.Reason)
	}

	for _, v := range m.Headers.Via {
		fmt.Fprintf(&b, "Via: %s\r\n", v.String())
	}
	if len(m.Headers.RecordRoute) > 0 {
		fmt.Fprintf(&b, "Record-Route: %s\r\n", strings.Join(m.Headers.RecordRoute, ", "))
	}
	if len(m.Headers.Route) > 0 {
		fmt.Fprintf(&b, "Route: %s\r\n", strings.Join(m.Headers.Route, ", "))
	}
	fmt.Fprintf(&b, "From: %s\r\n", m.Headers.From.String())
	fmt.Fprintf(&b, "To: %s\r\n", m.Headers.To.String())
	fmt.Fprintf(&b, "Call-ID: %s\r\n", m.Headers.CallID)
	fmt.Fprintf(&b, "CSeq: %d %s\r\n", m.Headers.CSeq.Seq, m.Headers.CSeq.Method)
	if m.Headers.Contact != nil {
		fmt.Fprintf(&b, "Contact: %s\r\n", m.Headers.Contact.String())
	}
	if m.Headers.MaxForwards != nil {
		fmt.Fprintf(&b, "Max-Forwards: %d\r\n", *m.Headers.MaxForwards)
	}
	if m.Headers.Expires != nil {
		fmt.Fprintf(&b, "Expires: %d\r\n", *m.Headers.Expires)
	}
	if m.Headers.WWWAuthenticate != nil {
		fmt.Fprintf(&b, "WWW-Authenticate: %s\r\n", m.Headers.WWWAuthenticate.String())
	}
	if m.Headers.ProxyAuthenticate != nil {
		fmt.Fprintf(&b, "Proxy-Authenticate: %s\r\n", m.Headers.ProxyAuthenticate.String())
	}
	for name, values := range m.Headers.Extra {
		for _, v := range values {
			fmt.Fprintf(&b, "%s: %s\r\n", name, v)
		}
	}
	if len(m.Body) > 0 {
		fmt.Fprintf(&b, "Content-Type: application/sdp\r\n")
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(m.Body))
	b.WriteString("\r\n")
	b.Write(m.Body)

	return []byte(b.String())
}

// itoaPtr takes the address of an int literal, for header fields that are
// optional pointers (Expires, Max-Forwards) built from a computed value.
func itoaPtr(n int) *int { return &n }
