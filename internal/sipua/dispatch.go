package sipua

import (
	"syscall"
	"time"
)

// dispatch routes one parsed SIP message to the registration or dialog
// state machine, per spec.md §4.1.
func (a *Agent) dispatch(now time.Time, msg *Message) {
	if msg.Kind == KindRequest {
		a.dispatchRequest(now, msg)
		return
	}
	a.dispatchResponse(now, msg)
}

func (a *Agent) dispatchRequest(now time.Time, msg *Message) {
	switch msg.Method {
	case MethodInvite:
		a.handleInbound(msg)
	case MethodAck:
		a.handleAck(msg)
	case MethodBye:
		a.handleBye(msg)
	case MethodCancel:
		a.handleCancel(msg)
	}
}

func (a *Agent) dispatchResponse(now time.Time, msg *Message) {
	if msg.Headers.CSeq.Method == MethodRegister {
		a.dispatchRegisterResponse(now, msg)
		return
	}
	a.dispatchDialogResponse(now, msg)
}

func (a *Agent) dispatchRegisterResponse(now time.Time, msg *Message) {
	r := a.Registration
	switch {
	case msg.Status == 200:
		exp := a.cfg.RegisterTTL
		if msg.Headers.Expires != nil {
			exp = time.Duration(*msg.Headers.Expires) * time.Second
		}
		r.OnOK(now, exp)
	case msg.Status == 401 || msg.Status == 407:
		chal := msg.Headers.WWWAuthenticate
		if chal == nil {
			chal = msg.Headers.ProxyAuthenticate
		}
		if chal != nil && r.OnChallenge(*chal, false) {
			_ = a.Register(a.cfg.RegisterTTL)
		}
	case msg.Status == 403:
		r.OnChallenge(Challenge{}, true)
	}
}

func (a *Agent) dispatchDialogResponse(now time.Time, msg *Message) {
	d := a.Dialog
	if d == nil {
		return
	}

	switch {
	case msg.Status >= 100 && msg.Status < 200:
		d.OnProvisional(msg)

	case msg.Status == 200 && msg.Headers.CSeq.Method == MethodInvite:
		preferred := []uint8{PayloadTypePCMU, PayloadTypePCMA}
		if err := d.OnInviteOK(msg, preferred); err == nil {
			_ = a.send(a.buildAck(d, true))
			_ = a.openRTPSocket(d.LocalRTPPort)
		}

	case msg.Status == 200 && msg.Headers.CSeq.Method == MethodBye:
		d.OnByeOK()

	case msg.Status == 200 && msg.Headers.CSeq.Method == MethodCancel:
		if d.OnCancelOK() {
			a.Dialog = nil
		}

	case (msg.Status == 401 || msg.Status == 407) && msg.Headers.CSeq.Method == MethodInvite:
		chal := msg.Headers.WWWAuthenticate
		if chal == nil {
			chal = msg.Headers.ProxyAuthenticate
		}
		if chal != nil && d.OnChallenge(*chal) {
			d.CSeq++
			d.InviteBranch = newBranch()
			if req, err := a.buildInvite(d); err == nil {
				_ = a.send(req)
			}
		}

	case msg.Status == 480 || msg.Status == 486 || msg.Status == 603:
		_ = a.send(a.buildAck(d, false))
		d.OnRemoteRefusal()
		a.Dialog = nil

	case msg.Status == 487 && msg.Headers.CSeq.Method == MethodInvite:
		_ = a.send(a.buildAck(d, false))
		if d.OnInvite487() {
			a.Dialog = nil
		}
	}
}

func (a *Agent) handleInbound(msg *Message) {
	if a.Dialog != nil && a.Dialog.CallID != msg.Headers.CallID {
		resp := a.buildResponse(msg, 486, "Busy Here", newBranch()[7:15], nil)
		_ = a.send(resp.Bytes())
		return
	}
	if d := a.Dialog; d != nil && d.State == StateConnected {
		// re-INVITE: re-create RTP state from the new offer, answer 200 OK.
		offer, err := ParseRemoteSDP(msg.Body)
		if err != nil || d.OnReinvite(offer, []uint8{PayloadTypePCMU, PayloadTypePCMA}) != nil {
			return
		}
		d.InviteRequest = msg
		if resp, err := a.build200WithSDP(d); err == nil {
			_ = a.send(resp)
		}
		return
	}

	d := NewInboundDialog(msg)
	a.Dialog = d
	_ = a.send(a.build180(d))
}

func (a *Agent) handleAck(msg *Message) {
	d := a.Dialog
	if d == nil || d.CallID != msg.Headers.CallID {
		return
	}
	if d.State == StateConnected {
		// The ACK to a re-INVITE's 200 OK (answered in handleInbound), or
		// any other ACK on an already-connected dialog, needs no action.
		return
	}
	if d.State == StateCanceling {
		// ACK to our 487, per ip_phone.py's handler: the CANCELED call is
		// only actually torn down once this arrives.
		a.Dialog = nil
		return
	}
	offer, err := ParseRemoteSDP(d.InviteRequest.Body)
	if err != nil {
		return
	}
	preferred := []uint8{PayloadTypePCMU, PayloadTypePCMA}
	if err := d.OnAck(offer, preferred); err == nil {
		_ = a.openRTPSocket(d.LocalRTPPort)
	}
}

func (a *Agent) handleBye(msg *Message) {
	d := a.Dialog
	if d == nil || d.CallID != msg.Headers.CallID {
		return
	}
	d.OnBye()
	resp := a.buildResponse(msg, 200, "OK", d.LocalTag, nil)
	_ = a.send(resp.Bytes())
	a.Dialog = nil
}

// handleCancel responds to a CANCEL of our pending inbound INVITE with 200
// and 487, then waits for the remote's ACK to actually tear the dialog down
// (handleAck), instead of deleting it here — per ip_phone.py's handler,
// which holds PS_CANCELING until that ACK arrives rather than deleting on
// the CANCEL itself.
func (a *Agent) handleCancel(msg *Message) {
	d := a.Dialog
	if d == nil || d.CallID != msg.Headers.CallID {
		return
	}
	d.OnCancel()
	_ = a.send(a.buildResponse(msg, 200, "OK", "", nil).Bytes())
	if d.InviteRequest != nil {
		_ = a.send(a.buildResponse(d.InviteRequest, 487, "Request Terminated", d.LocalTag, nil).Bytes())
	}
}

// TickRTP polls the RTP socket once, decoding at most one audio or DTMF
// packet into the agent's inbound buffers. The bridge controller calls this
// alongside Tick every 10ms.
func (a *Agent) TickRTP(now time.Time) {
	if a.rtpConn == nil {
		return
	}
	buf := make([]byte, 400)
	// Zero-wait probe, as in Tick.
	n, err := 0, error(syscall.EAGAIN)
	if rc, rcErr := a.rtpConn.SyscallConn(); rcErr == nil {
		_ = rc.Read(func(fd uintptr) bool {
			n, _, err = syscall.Recvfrom(int(fd), buf, 0)
			return true
		})
	}
	if err != nil {
		return
	}
	pkt, err := ParseAudioPacket(buf[:n])
	if err != nil {
		return
	}

	d := a.Dialog
	if d == nil {
		return
	}
	if pkt.PayloadType == PayloadTypeTelephoneEvent {
		if digit, ok := d.DTMFRecv.Receive(pkt); ok {
			select {
			case a.dtmfIn <- digit:
			default:
			}
		}
		return
	}

	frame, err := DecodeByPayloadType(pkt.PayloadType, pkt.Payload)
	if err != nil {
		return
	}
	select {
	case a.audioIn <- frame:
	default:
	}
}
