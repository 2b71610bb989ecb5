package sipua

import (
	"fmt"
	"time"
)

func (a *Agent) localAOR() string {
	return fmt.Sprintf("sip:%s@%s:%d", a.cfg.User, a.cfg.LocalIP, a.cfg.LocalPort)
}

func (a *Agent) contact() Address {
	return Address{
		User:     a.cfg.User,
		Host:     a.cfg.LocalIP,
		Port:     a.cfg.LocalPort,
		Instance: a.instance,
	}
}

func (a *Agent) via(branch string) Via {
	return Via{Transport: "UDP", Host: a.cfg.LocalIP, Port: a.cfg.LocalPort, Branch: branch, RPort: new(int)}
}

// buildRegister constructs the REGISTER request, per spec.md §4.1: target
// AOR `sip:domain`, a fresh-branch Via, the persistent registration
// Call-ID, monotonic CSeq, a Contact carrying the +sip.instance URN, the
// requested Expires, and — if a challenge is active — an Authorization
// header with MD5 digest credentials (nc/cnonce/qop when qop was offered).
func (a *Agent) buildRegister(expires time.Duration) []byte {
	r := a.Registration
	domainURI := "sip:" + a.cfg.Domain

	contact := a.contact()
	msg := &Message{
		Kind:       KindRequest,
		Method:     MethodRegister,
		RequestURI: domainURI,
		Version:    "SIP/2.0",
		Headers: Headers{
			Via:     []Via{a.via(r.Branch)},
			From:    Address{User: a.cfg.User, Host: a.cfg.Domain, Tag: r.LocalTag},
			To:      Address{User: a.cfg.User, Host: a.cfg.Domain},
			CallID:  r.CallID,
			CSeq:    CSeq{Seq: r.CSeq, Method: MethodRegister},
			Contact: &contact,
			Expires: itoaPtr(int(expires.Seconds())),
			Extra:   map[string][]string{},
		},
	}
	if r.LocalTag == "" {
		msg.Headers.From.Tag = a.ensureLocalTag()
	}

	if r.Auth.Nonce != "" {
		authz, err := r.Auth.Authorization(MethodRegister, domainURI, a.cfg.User, a.cfg.Password)
		if err == nil {
			msg.Headers.Extra["Authorization"] = []string{authz}
		}
	}
	return msg.Bytes()
}

func (a *Agent) ensureLocalTag() string {
	if a.Registration.LocalTag == "" {
		a.Registration.LocalTag = newBranch()[7:15]
	}
	return a.Registration.LocalTag
}

// buildInvite constructs the initial INVITE with an SDP offer, per spec.md
// §4.1.
func (a *Agent) buildInvite(d *Dialog) ([]byte, error) {
	sdpBody, err := BuildOffer(a.cfg.LocalIP, d.LocalRTPPort)
	if err != nil {
		return nil, fmt.Errorf("build SDP offer: %w", err)
	}

	requestURI := fmt.Sprintf("sip:%s@%s", d.RemoteUser, a.cfg.Domain)
	contact := a.contact()
	msg := &Message{
		Kind:       KindRequest,
		Method:     MethodInvite,
		RequestURI: requestURI,
		Version:    "SIP/2.0",
		Headers: Headers{
			Via:     []Via{a.via(d.InviteBranch)},
			From:    Address{DisplayName: d.DisplayName, User: a.cfg.User, Host: a.cfg.Domain, Tag: d.LocalTag},
			To:      Address{User: d.RemoteUser, Host: a.cfg.Domain},
			CallID:  d.CallID,
			CSeq:    CSeq{Seq: d.CSeq, Method: MethodInvite},
			Contact: &contact,
			Extra:   map[string][]string{},
		},
		Body: sdpBody,
	}
	if d.Auth.Nonce != "" {
		authz, err := d.Auth.Authorization(MethodInvite, requestURI, a.cfg.User, a.cfg.Password)
		if err == nil {
			msg.Headers.Extra["Authorization"] = []string{authz}
		}
	}
	return msg.Bytes(), nil
}

// buildAck constructs the ACK for a 2xx (fresh branch) or a non-2xx (reused
// branch) final response, per spec.md §4.1.
func (a *Agent) buildAck(d *Dialog, is2xx bool) []byte {
	branch := d.InviteBranch
	if is2xx {
		branch = newBranch()
	}
	requestURI := d.RemoteContact.URI()
	if requestURI == "sip:@" {
		requestURI = fmt.Sprintf("sip:%s@%s", d.RemoteUser, a.cfg.Domain)
	}
	msg := &Message{
		Kind:       KindRequest,
		Method:     MethodAck,
		RequestURI: requestURI,
		Version:    "SIP/2.0",
		Headers: Headers{
			Via:    []Via{a.via(branch)},
			From:   Address{User: a.cfg.User, Host: a.cfg.Domain, Tag: d.LocalTag},
			To:     Address{User: d.RemoteUser, Host: a.cfg.Domain, Tag: d.RemoteTag},
			CallID: d.CallID,
			CSeq:   CSeq{Seq: d.CSeq, Method: MethodAck}, // ACK reuses the INVITE CSeq
			Route:  d.Route(),
			Extra:  map[string][]string{},
		},
	}
	return msg.Bytes()
}

// buildBye constructs an in-dialog BYE, per spec.md §4.1.
func (a *Agent) buildBye(d *Dialog) []byte {
	requestURI := d.RemoteContact.URI()
	branch := newBranch()
	msg := &Message{
		Kind:       KindRequest,
		Method:     MethodBye,
		RequestURI: requestURI,
		Version:    "SIP/2.0",
		Headers: Headers{
			Via:    []Via{a.via(branch)},
			From:   Address{User: a.cfg.User, Host: a.cfg.Domain, Tag: d.LocalTag},
			To:     Address{User: d.RemoteUser, Host: a.cfg.Domain, Tag: d.RemoteTag},
			CallID: d.CallID,
			CSeq:   CSeq{Seq: d.NextCSeq(), Method: MethodBye},
			Route:  d.Route(),
			Extra:  map[string][]string{},
		},
	}
	return msg.Bytes()
}

// buildCancel constructs a CANCEL for the pending INVITE: same Call-ID,
// same branch as the INVITE it cancels, no To tag, per spec.md §4.1.
func (a *Agent) buildCancel(d *Dialog) []byte {
	requestURI := fmt.Sprintf("sip:%s@%s", d.RemoteUser, a.cfg.Domain)
	msg := &Message{
		Kind:       KindRequest,
		Method:     MethodCancel,
		RequestURI: requestURI,
		Version:    "SIP/2.0",
		Headers: Headers{
			Via:    []Via{a.via(d.InviteBranch)},
			From:   Address{User: a.cfg.User, Host: a.cfg.Domain, Tag: d.LocalTag},
			To:     Address{User: d.RemoteUser, Host: a.cfg.Domain},
			CallID: d.CallID,
			CSeq:   CSeq{Seq: d.CSeq, Method: MethodCancel},
			Extra:  map[string][]string{},
		},
	}
	return msg.Bytes()
}

// buildResponse constructs a response echoing all Via and Record-Route
// headers of the request verbatim, per spec.md §4.1.
func (a *Agent) buildResponse(req *Message, status int, reason string, toTag string, body []byte) *Message {
	to := req.Headers.To
	if toTag != "" {
		to.Tag = toTag
	}
	resp := &Message{
		Kind:    KindResponse,
		Version: "SIP/2.0",
		Status:  status,
		Reason:  reason,
		Headers: Headers{
			Via:         req.Headers.Via,
			RecordRoute: req.Headers.RecordRoute,
			From:        req.Headers.From,
			To:          to,
			CallID:      req.Headers.CallID,
			CSeq:        req.Headers.CSeq,
			Extra:       map[string][]string{},
		},
		Body: body,
	}
	return resp
}

// build180 constructs the 180 Ringing response to an inbound INVITE.
func (a *Agent) build180(d *Dialog) []byte {
	return a.buildResponse(d.InviteRequest, 180, "Ringing", d.LocalTag, nil).Bytes()
}

// build200WithSDP constructs the 200 OK with SDP answer to an inbound
// INVITE, echoing its Via and Record-Route headers verbatim.
func (a *Agent) build200WithSDP(d *Dialog) ([]byte, error) {
	sdpBody, err := BuildAnswer(a.cfg.LocalIP, d.LocalRTPPort, d.ChosenPT)
	if err != nil {
		return nil, fmt.Errorf("build SDP answer: %w", err)
	}
	contact := a.contact()
	msg := a.buildResponse(d.InviteRequest, 200, "OK", d.LocalTag, sdpBody)
	msg.Headers.Contact = &contact
	return msg.Bytes(), nil
}
