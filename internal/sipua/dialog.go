package sipua

import (
	"time"

	"github.com/google/uuid"
)

// DialogDirection distinguishes a dialog we originated from one offered to
// us.
type DialogDirection int

const (
	DirectionOutbound DialogDirection = iota
	DirectionInbound
)

// Dialog is the single active call dialog spec.md §3 allows: exactly one at
// a time, rejecting a concurrent INVITE on a different Call-ID with 486.
type Dialog struct {
	Direction DialogDirection
	State     PhoneState

	CallID         string
	LocalTag       string
	RemoteTag      string
	RemoteContact  Address
	RemoteUser     string
	DisplayName    string
	CSeq           uint32
	InviteBranch   string
	RetryCount     int
	Auth           AuthState
	ChosenPT       uint8
	LocalRTPPort   int
	RemoteRTPAddr  string
	RemoteRTPPort  int
	RTP            *RTPStream
	DTMFRecv       DTMFReceiver

	// DELETING needs both CANCEL's 200 and INVITE's 487 before the dialog
	// is actually torn down, per spec.md §4.1 and the original's two
	// independent completion flags — they can arrive in either order.
	cancelOKRecv bool
	invite487Recv bool

	// recordRoute is the most recently observed Record-Route sequence,
	// reversed into Route for subsequent in-dialog requests.
	recordRoute []string

	// InviteRequest is the inbound INVITE this dialog was created from, kept
	// so responses can echo its Via/Record-Route verbatim.
	InviteRequest *Message
}

// NewOutboundDialog allocates a fresh dialog for an outbound call, per
// spec.md §4.1's `call()` operation.
func NewOutboundDialog(displayName, targetUser string) *Dialog {
	return &Dialog{
		Direction:    DirectionOutbound,
		State:        StateDialing,
		CallID:       uuid.NewString(),
		LocalTag:     uuid.NewString()[:8],
		RemoteUser:   targetUser,
		DisplayName:  displayName,
		CSeq:         1,
		InviteBranch: newBranch(),
	}
}

// NewInboundDialog allocates a dialog from a received INVITE, per spec.md
// §4.1's inbound state machine ("IDLE -> RINGING on INVITE").
func NewInboundDialog(invite *Message) *Dialog {
	return &Dialog{
		Direction:     DirectionInbound,
		State:         StateRinging,
		CallID:        invite.Headers.CallID,
		LocalTag:      uuid.NewString()[:8],
		RemoteTag:     invite.Headers.From.Tag,
		RemoteContact: derefContact(invite.Headers.Contact),
		RemoteUser:    invite.Headers.From.User,
		DisplayName:   invite.Headers.From.DisplayName,
		CSeq:          invite.Headers.CSeq.Seq,
		recordRoute:   invite.Headers.RecordRoute,
		InviteRequest: invite,
	}
}

func derefContact(c *Address) Address {
	if c == nil {
		return Address{}
	}
	return *c
}

func newBranch() string {
	return "z9hG4bK" + uuid.NewString()[:12]
}

// Route returns Route header values for the next in-dialog request: the
// reverse of the most recently observed Record-Route sequence, per spec.md
// §4.1.
func (d *Dialog) Route() []string {
	if len(d.recordRoute) == 0 {
		return nil
	}
	out := make([]string, len(d.recordRoute))
	for i, rr := range d.recordRoute {
		out[i] = d.recordRoute[len(d.recordRoute)-1-i]
		_ = rr
	}
	return out
}

// NextCSeq returns the next CSeq value for a new non-ACK in-dialog request.
// ACK reuses the INVITE's CSeq per spec.md §8's invariant.
func (d *Dialog) NextCSeq() uint32 {
	d.CSeq++
	return d.CSeq
}

// OnProvisional handles a 1xx response to our INVITE: no state transition.
func (d *Dialog) OnProvisional(resp *Message) {
	d.RemoteTag = resp.Headers.To.Tag
	d.recordRoute = resp.Headers.RecordRoute
}

// OnInviteOK handles a 200 OK to our INVITE: negotiate the codec from the
// SDP answer, start RTP, transition to CONNECTED. The caller sends the ACK
// (on a fresh branch, per spec.md §4.1) and opens the RTP socket.
func (d *Dialog) OnInviteOK(resp *Message, preferredPTs []uint8) error {
	d.RemoteTag = resp.Headers.To.Tag
	d.recordRoute = resp.Headers.RecordRoute

	remote, err := ParseRemoteSDP(resp.Body)
	if err != nil {
		return err
	}
	pt, err := NegotiateCodec(preferredPTs, remote.PayloadTypes)
	if err != nil {
		return err
	}
	d.ChosenPT = pt
	d.RemoteRTPAddr = remote.Addr
	d.RemoteRTPPort = remote.Port
	d.RTP = NewRTPStream(pt)
	d.State = StateConnected
	return nil
}

// OnChallenge handles 401/403/407 to our INVITE. retry is false once the retry
// budget is exhausted, meaning the dialog should be abandoned.
func (d *Dialog) OnChallenge(c Challenge) (retry bool) {
	return d.Auth.Challenge(c)
}

// OnRemoteRefusal handles 480/486/603 to our INVITE: ACK, then delete.
func (d *Dialog) OnRemoteRefusal() {
	d.State = StateIdle
}

// OnTimeout handles no response to our outbound request within
// RESPONSE_TIMEOUT.
func (d *Dialog) OnTimeout() {
	d.Hangup()
}

// Hangup implements spec.md §4.1's state-dependent hangup: CONNECTED sends
// BYE (-> HANGINGUP), DIALING sends CANCEL (-> CANCELING), RINGING (never
// ACKed) returns locally to IDLE with no INVITE ever having been accepted.
func (d *Dialog) Hangup() PhoneState {
	switch d.State {
	case StateConnected:
		d.State = StateHangingUp
	case StateDialing:
		d.State = StateCanceling
	case StateRinging:
		d.State = StateIdle
	}
	return d.State
}

// OnByeOK handles the 200 OK to our BYE: HANGINGUP -> DELETING (final
// teardown happens once the caller observes DELETING and releases
// resources).
func (d *Dialog) OnByeOK() {
	d.State = StateDeleting
}

// OnCancelOK handles the 200 OK to our CANCEL. Per spec.md §4.1, DELETING
// requires both this and the matching 487 to the INVITE before delete_call.
func (d *Dialog) OnCancelOK() bool {
	d.State = StateDeleting
	d.cancelOKRecv = true
	return d.ReadyToDelete()
}

// OnInvite487 handles the 487 Request Terminated response to the INVITE we
// CANCELed.
func (d *Dialog) OnInvite487() bool {
	d.State = StateDeleting
	d.invite487Recv = true
	return d.ReadyToDelete()
}

// ReadyToDelete reports whether DELETING has observed both halves of the
// CANCEL/INVITE response pair.
func (d *Dialog) ReadyToDelete() bool {
	return d.State == StateDeleting && d.cancelOKRecv && d.invite487Recv
}

// --- Inbound dialog transitions ---

// OnAck handles the ACK to our 200 OK: RINGING -> CONNECTED, start RTP.
func (d *Dialog) OnAck(offer *RemoteMedia, preferredPTs []uint8) error {
	pt, err := NegotiateCodec(preferredPTs, offer.PayloadTypes)
	if err != nil {
		return err
	}
	d.ChosenPT = pt
	d.RemoteRTPAddr = offer.Addr
	d.RemoteRTPPort = offer.Port
	d.RTP = NewRTPStream(pt)
	d.State = StateConnected
	return nil
}

// OnBye handles an in-dialog BYE: respond 200, delete_call.
func (d *Dialog) OnBye() {
	d.State = StateDeleting
}

// OnCancel handles a CANCEL while RINGING: respond 200 to CANCEL and 487 to
// the pending INVITE, then await the remote's ACK before the dialog is torn
// down, per ip_phone.py's handler (CANCEL moves RINGING -> PS_CANCELING; the
// following ACK is what actually calls delete_call).
func (d *Dialog) OnCancel() {
	d.State = StateCanceling
}

// OnReinvite re-creates RTP endpoints for a re-INVITE received while
// CONNECTED, per spec.md §9's explicit instruction (the original's comment
// "re-INVITE handling may not be working" is resolved here: recreate RTP
// state and answer 200 OK).
func (d *Dialog) OnReinvite(offer *RemoteMedia, preferredPTs []uint8) error {
	pt, err := NegotiateCodec(preferredPTs, offer.PayloadTypes)
	if err != nil {
		return err
	}
	d.ChosenPT = pt
	d.RemoteRTPAddr = offer.Addr
	d.RemoteRTPPort = offer.Port
	d.RTP = NewRTPStream(pt)
	return nil
}

// ResponseTimeoutDeadline computes the RESPONSE_TIMEOUT deadline for an
// outbound request sent at `sentAt`.
func ResponseTimeoutDeadline(sentAt time.Time, timeout time.Duration) time.Time {
	return sentAt.Add(timeout)
}
