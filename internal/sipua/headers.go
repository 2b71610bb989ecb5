package sipua

import (
	"fmt"
	"strconv"
	"strings"
)

// parseVia parses one Via header value, e.g.
// "SIP/2.0/UDP 203.0.113.5:5060;branch=z9hG4bK-1;rport=5060;received=203.0.113.5"
func parseVia(value string) (Via, error) {
	parts := strings.Split(value, ";")
	head := strings.Fields(parts[0])
	if len(head) != 2 {
		return Via{}, ErrMalformed
	}
	transportFields := strings.Split(head[0], "/")
	transport := "UDP"
	if len(transportFields) == 3 {
		transport = transportFields[2]
	}
	host, port := splitHostPort(head[1])

	v := Via{Transport: transport, Host: host, Port: port}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		k, val, _ := strings.Cut(p, "=")
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "branch":
			v.Branch = val
		case "rport":
			if val == "" {
				zero := 0
				v.RPort = &zero
			} else if n, err := strconv.Atoi(val); err == nil {
				v.RPort = &n
			}
		case "received":
			v.Received = val
		}
	}
	return v, nil
}

func (v Via) String() string {
	s := fmt.Sprintf("SIP/2.0/%s %s", v.Transport, hostPort(v.Host, v.Port))
	if v.Branch != "" {
		s += ";branch=" + v.Branch
	}
	if v.RPort != nil {
		if *v.RPort == 0 {
			s += ";rport"
		} else {
			s += fmt.Sprintf(";rport=%d", *v.RPort)
		}
	}
	if v.Received != "" {
		s += ";received=" + v.Received
	}
	return s
}

func splitHostPort(hostport string) (string, int) {
	host, portStr, found := strings.Cut(hostport, ":")
	if !found {
		return host, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}

func hostPort(host string, port int) string {
	if port == 0 {
		return host
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// parseAddress parses a From/To/Contact header value, e.g.
// `"Alice" <sip:alice@example.com>;tag=abc123` or a bare `sip:...` with no
// angle brackets. Per DESIGN.md's Open Question resolution, an address
// lacking angle brackets is preserved as-is in Raw and best-effort parsed.
func parseAddress(value string) Address {
	a := Address{Raw: value}

	rest := value
	if idx := strings.Index(rest, ";"); idx >= 0 {
		for _, param := range strings.Split(rest[idx+1:], ";") {
			k, v, _ := strings.Cut(strings.TrimSpace(param), "=")
			switch strings.ToLower(strings.TrimSpace(k)) {
			case "tag":
				a.Tag = v
			case "+sip.instance":
				a.Instance = strings.Trim(v, "\"")
			}
		}
		rest = rest[:idx]
	}
	rest = strings.TrimSpace(rest)

	var uri string
	if start := strings.Index(rest, "<"); start >= 0 {
		end := strings.Index(rest, ">")
		if end > start {
			a.DisplayName = strings.Trim(strings.TrimSpace(rest[:start]), `"`)
			uri = rest[start+1 : end]
		}
	} else {
		uri = rest
	}

	uri = strings.TrimPrefix(uri, "sip:")
	uri = strings.TrimPrefix(uri, "sips:")
	userHost, _, _ := strings.Cut(uri, ";")
	user, host, found := strings.Cut(userHost, "@")
	if !found {
		a.Host = user
		return a
	}
	a.User = user
	a.Host, a.Port = splitHostPort(host)
	return a
}

func (a Address) String() string {
	uri := a.URI()
	s := ""
	if a.DisplayName != "" {
		s += `"` + a.DisplayName + `" `
	}
	s += "<" + uri + ">"
	if a.Instance != "" {
		s += `;+sip.instance="` + a.Instance + `"`
	}
	if a.Tag != "" {
		s += ";tag=" + a.Tag
	}
	return s
}

// parseChallenge parses a WWW-Authenticate/Proxy-Authenticate header value,
// e.g. `Digest realm="R", nonce="N", qop="auth", algorithm=MD5`.
func parseChallenge(value string) Challenge {
	value = strings.TrimPrefix(strings.TrimSpace(value), "Digest")
	c := Challenge{Algorithm: "MD5"}
	for _, part := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		v = strings.Trim(strings.TrimSpace(v), `"`)
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "realm":
			c.Realm = v
		case "nonce":
			c.Nonce = v
		case "qop":
			c.Qop = v
		case "opaque":
			c.Opaque = v
		case "algorithm":
			c.Algorithm = v
		}
	}
	return c
}

func (c Challenge) String() string {
	s := fmt.Sprintf(`Digest realm="%s", nonce="%s"`, c.Realm, c.Nonce)
	if c.Qop != "" {
		s += fmt.Sprintf(`, qop="%s"`, c.Qop)
	}
	if c.Opaque != "" {
		s += fmt.Sprintf(`, opaque="%s"`, c.Opaque)
	}
	if c.Algorithm != "" {
		s += ", algorithm=" + c.Algorithm
	}
	return s
}
