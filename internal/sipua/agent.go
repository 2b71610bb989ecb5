// Package sipua implements the SIP/RTP user agent: message parsing, digest
// authentication, dialog and registration state, SDP offer/answer, RTP
// framing, codec transcoding, and RFC 4733 DTMF — the subsystem spec.md
// §4.1 names the SIP/RTP Agent.
package sipua

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Config is the subset of configuration the agent needs to operate,
// trimmed from internal/config.Config so this package stays independent of
// it.
type Config struct {
	LocalIP     string
	LocalPort   int
	ProxyAddr   string
	ProxyPort   int
	Domain      string
	User        string
	Password    string
	RTPLow      int
	RTPHigh     int
	RegisterTTL time.Duration

	ResponseTimeout time.Duration
	AnswerTimeout   time.Duration
}

// Agent is one SIP UA: one registration, at most one active dialog, one RTP
// session per dialog, per spec.md §3's lifecycle rules.
type Agent struct {
	cfg Config

	conn     *net.UDPConn
	instance string

	Registration *Registration
	Dialog       *Dialog

	rtpConn *net.UDPConn

	pendingRequest []byte // last request sent, for digest retransmit
	pendingDeadline time.Time

	lastRTCP time.Time

	audioIn  chan []byte
	dtmfIn   chan rune
}

// NewAgent constructs an agent bound to no socket yet; call Start to bind.
func NewAgent(cfg Config) *Agent {
	return &Agent{
		cfg:      cfg,
		instance: uuid.NewString(),
		audioIn:  make(chan []byte, 8),
		dtmfIn:   make(chan rune, 8),
	}
}

// Start binds the local UDP socket, enters REGISTERING, and sends the
// initial REGISTER.
func (a *Agent) Start() error {
	addr := &net.UDPAddr{IP: net.ParseIP(a.cfg.LocalIP), Port: a.cfg.LocalPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("bind SIP socket: %w", err)
	}
	a.conn = conn

	a.Registration = NewRegistration(uuid.NewString())
	a.Registration.OnStart()
	return a.Register(a.cfg.RegisterTTL)
}

// Stop sends a REGISTER with Expires: 0, hanging up any active dialog
// first.
func (a *Agent) Stop() error {
	if a.Dialog != nil {
		a.Hangup()
	}
	return a.Register(0)
}

// Register (re)sends REGISTER. The first call allocates the persistent
// registration Call-ID (done in Start); every call here reuses it.
func (a *Agent) Register(expires time.Duration) error {
	r := a.Registration
	r.CSeq++
	r.Branch = newBranch()

	msg := a.buildRegister(expires)
	return a.send(msg)
}

// Call allocates dialog identifiers, picks a random RTP port, and sends an
// INVITE with an SDP offer, per spec.md §4.1.
func (a *Agent) Call(ctx context.Context, display, targetUser string) error {
	if a.Dialog != nil {
		return ErrDialogBusy
	}
	d := NewOutboundDialog(display, targetUser)
	a.Dialog = d

	port, err := a.allocateRTPPort()
	if err != nil {
		return err
	}
	d.LocalRTPPort = port

	msg, err := a.buildInvite(d)
	if err != nil {
		return err
	}
	return a.send(msg)
}

// Answer negotiates the codec against the inbound INVITE's SDP offer,
// creates the RTP endpoint, and sends 200 OK with an SDP answer, per
// spec.md §4.1. If no offered payload type matches our preferred list, the
// call is failed with 488 Not Acceptable Here and no 200 OK is sent, per
// spec.md §4.1's offer/answer rule.
func (a *Agent) Answer() error {
	d := a.Dialog
	if d == nil {
		return ErrNoDialog
	}

	offer, err := ParseRemoteSDP(d.InviteRequest.Body)
	if err != nil {
		return err
	}
	preferred := []uint8{PayloadTypePCMU, PayloadTypePCMA}
	pt, err := NegotiateCodec(preferred, offer.PayloadTypes)
	if err != nil {
		_ = a.send(a.buildResponse(d.InviteRequest, 488, "Not Acceptable Here", d.LocalTag, nil).Bytes())
		a.Dialog = nil
		return err
	}
	d.ChosenPT = pt

	port, err := a.allocateRTPPort()
	if err != nil {
		return err
	}
	d.LocalRTPPort = port

	msg, err := a.build200WithSDP(d)
	if err != nil {
		return err
	}
	if err := a.send(msg); err != nil {
		return err
	}
	return a.openRTPSocket(port)
}

func (a *Agent) openRTPSocket(port int) error {
	if a.rtpConn != nil {
		_ = a.rtpConn.Close()
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(a.cfg.LocalIP), Port: port})
	if err != nil {
		return fmt.Errorf("bind RTP socket: %w", err)
	}
	a.rtpConn = conn
	return nil
}

// Hangup implements spec.md §4.1's state-dependent hangup.
func (a *Agent) Hangup() {
	if a.Dialog == nil {
		return
	}
	switch a.Dialog.Hangup() {
	case StateHangingUp:
		_ = a.send(a.buildBye(a.Dialog))
	case StateCanceling:
		_ = a.send(a.buildCancel(a.Dialog))
	}
}

// Tick performs one non-blocking receive (at most one datagram) and
// dispatches it, or advances timers if nothing was pending.
func (a *Agent) Tick(now time.Time) {
	if a.conn == nil {
		return
	}
	buf := make([]byte, 2048)
	// Zero-wait probe: the socket's descriptor is non-blocking, so recvfrom
	// returns EAGAIN at once when no datagram is queued.
	n, err := 0, error(syscall.EAGAIN)
	if rc, rcErr := a.conn.SyscallConn(); rcErr == nil {
		_ = rc.Read(func(fd uintptr) bool {
			n, _, err = syscall.Recvfrom(int(fd), buf, 0)
			return true
		})
	}
	if err != nil {
		a.checkTimers(now)
		return
	}
	msg, err := Parse(buf[:n])
	if err != nil {
		return
	}
	a.dispatch(now, msg)
}

func (a *Agent) checkTimers(now time.Time) {
	if a.Registration != nil && a.Registration.RefreshDue(now) {
		_ = a.Register(a.cfg.RegisterTTL)
	}

	if a.pendingDeadline.IsZero() || now.Before(a.pendingDeadline) {
		return
	}
	a.pendingDeadline = time.Time{}

	switch {
	case a.Dialog != nil && a.Dialog.Direction == DirectionOutbound && (a.Dialog.State == StateDialing || a.Dialog.State == StateCanceling):
		a.Dialog.OnTimeout()
		if a.Dialog.State == StateCanceling {
			_ = a.send(a.buildCancel(a.Dialog))
		}
	case a.Registration != nil && a.Registration.State == StateRegistering:
		a.Registration.OnTimeout()
	}
}

// rtcpInterval is the sender-report cadence, per emiago-diago's rtp_session.go
// (5s, RFC 3550 §6.2's recommended minimum for small sessions).
const rtcpInterval = 5 * time.Second

// TickRTCP sends a periodic RTCP sender report on the active dialog's RTP
// socket, an enrichment beyond spec.md's RTP-only wire subset (rtcp.go).
// It is a no-op outside a connected dialog, and between reports.
func (a *Agent) TickRTCP(now time.Time) {
	d := a.Dialog
	if d == nil || d.RTP == nil || a.rtpConn == nil || d.State != StateConnected {
		return
	}
	if !a.lastRTCP.IsZero() && now.Sub(a.lastRTCP) < rtcpInterval {
		return
	}
	a.lastRTCP = now

	data, err := d.RTP.SenderReport(now)
	if err != nil {
		return
	}
	remote := &net.UDPAddr{IP: net.ParseIP(d.RemoteRTPAddr), Port: d.RemoteRTPPort + 1}
	_, _ = a.rtpConn.WriteToUDP(data, remote)
}

// State reports the agent's call-leg state for the bridge controller's
// coarse view, per spec.md §4.3: IDLE when there is no active dialog,
// otherwise the dialog's own state.
func (a *Agent) State() PhoneState {
	if a.Dialog == nil {
		return StateIdle
	}
	return a.Dialog.State
}

// ReadAudio returns the next decoded PSTN-domain audio frame received over
// RTP, if any is buffered.
func (a *Agent) ReadAudio() ([]byte, bool) {
	select {
	case f := <-a.audioIn:
		return f, true
	default:
		return nil, false
	}
}

// WriteAudio encodes and sends one audio frame over the active dialog's RTP
// session.
func (a *Agent) WriteAudio(frame []byte) error {
	if a.Dialog == nil || a.Dialog.RTP == nil || a.rtpConn == nil {
		return ErrNoDialog
	}
	payload, err := EncodeByPayloadType(a.Dialog.ChosenPT, frame)
	if err != nil {
		return err
	}
	pkt, err := a.Dialog.RTP.BuildAudioPacket(payload)
	if err != nil {
		return err
	}
	remote := &net.UDPAddr{IP: net.ParseIP(a.Dialog.RemoteRTPAddr), Port: a.Dialog.RemoteRTPPort}
	_, err = a.rtpConn.WriteToUDP(pkt, remote)
	return err
}

// ReadDTMF returns the next received DTMF digit, if any.
func (a *Agent) ReadDTMF() (rune, bool) {
	select {
	case d := <-a.dtmfIn:
		return d, true
	default:
		return 0, false
	}
}

// SendDTMF sends one DTMF digit as a single marker-bit RFC 4733 packet,
// per spec.md §4.1.
func (a *Agent) SendDTMF(digit rune) error {
	if a.Dialog == nil || a.Dialog.RTP == nil || a.rtpConn == nil {
		return ErrNoDialog
	}
	pkt, err := a.Dialog.RTP.BuildDTMFPacket(digit, PayloadTypeTelephoneEvent)
	if err != nil {
		return err
	}
	remote := &net.UDPAddr{IP: net.ParseIP(a.Dialog.RemoteRTPAddr), Port: a.Dialog.RemoteRTPPort}
	_, err = a.rtpConn.WriteToUDP(pkt, remote)
	return err
}

func (a *Agent) allocateRTPPort() (int, error) {
	span := a.cfg.RTPHigh - a.cfg.RTPLow
	if span <= 0 {
		return 0, fmt.Errorf("invalid RTP port range [%d, %d]", a.cfg.RTPLow, a.cfg.RTPHigh)
	}
	port := a.cfg.RTPLow + int(randUint32())%span
	if port%2 != 0 {
		port++
	}
	return port, nil
}

func (a *Agent) send(data []byte) error {
	if data == nil {
		return nil
	}
	dst := &net.UDPAddr{IP: net.ParseIP(a.cfg.ProxyAddr), Port: a.cfg.ProxyPort}
	a.pendingRequest = data
	a.pendingDeadline = time.Now().Add(a.cfg.ResponseTimeout)
	_, err := a.conn.WriteToUDP(data, dst)
	return err
}
