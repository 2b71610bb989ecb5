package bridge

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sebas/pstnxsip/internal/config"
	"github.com/sebas/pstnxsip/internal/modem"
	"github.com/sebas/pstnxsip/internal/sipua"
)

// fakeSerialPort is a hand-written modem.SerialPort for driving Line in
// tests without a real device, mirroring internal/modem's own test fake.
type fakeSerialPort struct {
	written  []string
	toRead   []byte
	outQueue int
}

func (f *fakeSerialPort) Write(buf []byte) (int, error) {
	f.written = append(f.written, string(buf))
	return len(buf), nil
}

func (f *fakeSerialPort) Read(buf []byte) (int, error) {
	if len(f.toRead) == 0 {
		return 0, nil
	}
	n := copy(buf, f.toRead)
	f.toRead = f.toRead[n:]
	return n, nil
}

func (f *fakeSerialPort) OutQueueLen() (int, error) { return f.outQueue, nil }
func (f *fakeSerialPort) Close() error              { return nil }

func (f *fakeSerialPort) queue(s string) { f.toRead = append(f.toRead, []byte(s)...) }

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("freeUDPPort: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

// buildResponse constructs a response to req, mirroring sipua.Agent's own
// unexported buildResponse (not reachable from outside the package) closely
// enough to drive the dialog/registration state machines under test.
func buildResponse(req *sipua.Message, status int, reason, toTag string, body []byte) *sipua.Message {
	to := req.Headers.To
	if toTag != "" {
		to.Tag = toTag
	}
	return &sipua.Message{
		Kind:    sipua.KindResponse,
		Version: "SIP/2.0",
		Status:  status,
		Reason:  reason,
		Headers: sipua.Headers{
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
}

func recvOne(t *testing.T, conn *net.UDPConn) (*sipua.Message, *net.UDPAddr) {
	t.Helper()
	buf := make([]byte, 2048)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("recvOne: %v", err)
	}
	msg, err := sipua.Parse(buf[:n])
	if err != nil {
		t.Fatalf("recvOne parse: %v", err)
	}
	return msg, addr
}

// connectedFixture wires up a real outbound SIP/RTP call (INVITE / 200 OK
// with SDP / ACK, exactly the handshake internal/sipua/agent_test.go drives)
// over loopback UDP, so the resulting Agent has a genuine connected Dialog
// and a bound RTP socket. remotePeer lets the test inject inbound RTP
// packets as the far end would.
type connectedFixture struct {
	agent      *sipua.Agent
	line       *modem.Line
	port       *fakeSerialPort
	controller *Controller
	remotePeer *net.UDPConn
	fakeProxy  *net.UDPConn
}

func newConnectedFixture(t *testing.T) *connectedFixture {
	t.Helper()

	fakeProxy, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen fake proxy: %v", err)
	}
	t.Cleanup(func() { fakeProxy.Close() })
	proxyPort := fakeProxy.LocalAddr().(*net.UDPAddr).Port

	remotePeer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen fake remote RTP peer: %v", err)
	}
	t.Cleanup(func() { remotePeer.Close() })
	remoteRTPPort := remotePeer.LocalAddr().(*net.UDPAddr).Port

	agentCfg := sipua.Config{
		LocalIP:         "127.0.0.1",
		LocalPort:       freeUDPPort(t),
		ProxyAddr:       "127.0.0.1",
		ProxyPort:       proxyPort,
		Domain:          "example.com",
		User:            "alice",
		Password:        "secret",
		RTPLow:          30000,
		RTPHigh:         30100,
		RegisterTTL:     60 * time.Second,
		ResponseTimeout: 5 * time.Second,
		AnswerTimeout:   28 * time.Second,
	}
	agent := sipua.NewAgent(agentCfg)
	if err := agent.Start(); err != nil {
		t.Fatalf("agent Start: %v", err)
	}

	// REGISTER / 200 OK.
	reg, addr := recvOne(t, fakeProxy)
	if reg.Method != sipua.MethodRegister {
		t.Fatalf("first request = %v, want REGISTER", reg.Method)
	}
	resp200 := buildResponse(reg, 200, "OK", "srv-tag", nil)
	exp := 60
	resp200.Headers.Expires = &exp
	if _, err := fakeProxy.WriteToUDP(resp200.Bytes(), addr); err != nil {
		t.Fatalf("write REGISTER 200 OK: %v", err)
	}
	agent.Tick(time.Now())

	// INVITE / 200 OK with SDP pointing back at remotePeer.
	if err := agent.Call(context.Background(), "Alice", "bob"); err != nil {
		t.Fatalf("Call: %v", err)
	}
	invite, addr := recvOne(t, fakeProxy)
	if invite.Method != sipua.MethodInvite {
		t.Fatalf("second request = %v, want INVITE", invite.Method)
	}
	sdpBody, err := sipua.BuildAnswer("127.0.0.1", remoteRTPPort, sipua.PayloadTypePCMU)
	if err != nil {
		t.Fatalf("BuildAnswer: %v", err)
	}
	resp200Invite := buildResponse(invite, 200, "OK", "bob-tag", sdpBody)
	contact := sipua.Address{User: "bob", Host: "127.0.0.1", Port: proxyPort}
	resp200Invite.Headers.Contact = &contact
	if _, err := fakeProxy.WriteToUDP(resp200Invite.Bytes(), addr); err != nil {
		t.Fatalf("write INVITE 200 OK: %v", err)
	}
	agent.Tick(time.Now())
	if agent.Dialog == nil || agent.Dialog.State != sipua.StateConnected {
		t.Fatalf("dialog state after 200 OK = %v, want CONNECTED", agent.Dialog)
	}
	recvOne(t, fakeProxy) // drain the ACK

	port := &fakeSerialPort{}
	line := modem.NewLine(modem.Config{
		Port:             "/dev/fake",
		CountryCode:      "US",
		Chipset:          modem.ChipsetConexant,
		ResponseTimeout:  5 * time.Millisecond,
		EchoCancelDelta:  5,
		EchoCancelTime:   200 * time.Millisecond,
		AnswerAfterRings: 2,
	}, port)
	line.State = modem.StateConnected

	cfg := &config.Config{
		MaxSessionDuration: time.Hour,
		DialTimeout:        10 * time.Second,
		AnswerTimeout:      28 * time.Second,
		RecordingEnabled:   false,
	}
	controller := New(cfg, agent, line)

	return &connectedFixture{
		agent:      agent,
		line:       line,
		port:       port,
		controller: controller,
		remotePeer: remotePeer,
		fakeProxy:  fakeProxy,
	}
}

// sendInboundAudio encodes frame as PCMU and delivers it to the agent's RTP
// socket as the far end would, then drains it into Agent.ReadAudio via
// TickRTP.
func (f *connectedFixture) sendInboundAudio(t *testing.T, stream *sipua.RTPStream, frame []byte) {
	t.Helper()
	payload, err := sipua.EncodeByPayloadType(sipua.PayloadTypePCMU, frame)
	if err != nil {
		t.Fatalf("EncodeByPayloadType: %v", err)
	}
	pkt, err := stream.BuildAudioPacket(payload)
	if err != nil {
		t.Fatalf("BuildAudioPacket: %v", err)
	}
	dst := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: f.agent.Dialog.LocalRTPPort}
	if _, err := f.remotePeer.WriteToUDP(pkt, dst); err != nil {
		t.Fatalf("write inbound RTP: %v", err)
	}
	f.agent.TickRTP(time.Now())
}

// pstnFrame builds a CHUNK_SIZE frame whose first 10 bytes sit above the
// 128 PSTN bias at the given level, the rest at neutral silence (0x80), per
// spec.md §4.2's echo heuristic ("mean of up to the first 10 samples above
// 128").
func pstnFrame(level byte) []byte {
	frame := make([]byte, chunkSize)
	for i := range frame {
		if i < 10 {
			frame[i] = level
		} else {
			frame[i] = 0x80
		}
	}
	return frame
}

func TestTickCrossConnectedEchoSuppressionSubstitutesSilence(t *testing.T) {
	f := newConnectedFixture(t)
	c := f.controller
	c.CrossConnected = true
	now := time.Now()
	c.now = func() time.Time { return now }
	c.sessionDeadline = now.Add(time.Hour)

	remoteStream := sipua.NewRTPStream(sipua.PayloadTypePCMU)

	// First frame only seeds the line's running-mean baseline near the
	// bias byte; it must pass through unmodified.
	f.sendInboundAudio(t, remoteStream, pstnFrame(130))
	c.tickCrossConnected(now)
	if n := len(f.port.written); n == 0 || f.port.written[n-1][0] == 0x80 {
		t.Fatalf("baseline frame should have been written unmodified, got %q", f.port.written)
	}

	// Second frame diverges from the baseline by more than EchoCancelDelta
	// (5), arming the suppression window.
	f.sendInboundAudio(t, remoteStream, pstnFrame(200))
	c.tickCrossConnected(now)
	if !f.line.EchoArmed(now) {
		t.Fatal("expected echo suppression to be armed after a large jump in level")
	}

	// Third frame arrives while armed: the bridge must substitute silence
	// on the SIP->PSTN leg rather than writing the real frame through.
	f.sendInboundAudio(t, remoteStream, pstnFrame(200))
	c.tickCrossConnected(now)
	last := f.port.written[len(f.port.written)-1]
	for i, b := range []byte(last) {
		if b != 0x80 {
			t.Fatalf("armed frame byte %d = %#x, want 0x80 (silence)", i, b)
		}
	}
}

func TestTickCrossConnectedSessionTimeoutTearsDownBothLegs(t *testing.T) {
	f := newConnectedFixture(t)
	c := f.controller
	c.CrossConnected = true
	c.CallFrom = CallFromIP
	c.LineNumber = "5551234"
	c.IPNumber = "bob"

	start := time.Now()
	c.now = func() time.Time { return start }
	c.sessionDeadline = start.Add(100 * time.Millisecond)

	// Satisfy the three "OK\r\n" terminated AT commands StopVoiceMode
	// issues (hang up, data mode, formatted caller ID) without blocking on
	// ResponseTimeout.
	f.port.queue("OK\r\nOK\r\nOK\r\n")

	later := start.Add(200 * time.Millisecond)
	c.now = func() time.Time { return later }
	c.tickCrossConnected(later)

	if c.CrossConnected {
		t.Fatal("expected CrossConnected to clear on session timeout")
	}
	if c.CallFrom != CallFromNone {
		t.Fatalf("CallFrom = %v, want NONE after teardown", c.CallFrom)
	}
	bye, _ := recvOne(t, f.fakeProxy)
	if bye.Method != sipua.MethodBye {
		t.Fatalf("request after teardown = %v, want BYE", bye.Method)
	}
	if f.agent.Dialog == nil || f.agent.Dialog.State != sipua.StateHangingUp {
		t.Fatalf("dialog state after teardown = %v, want HANGINGUP (final cleanup awaits the BYE's 200 OK)", f.agent.Dialog)
	}
}

func TestApplyDialPlan(t *testing.T) {
	cases := []struct {
		digits string
		want   DialPlanResult
	}{
		{"", DialPlanIncomplete},
		{"0", DialPlanIncomplete},
		{"05551234567", DialPlanComplete},
		{"055512345678", DialPlanReject},
		{"*1", DialPlanIncomplete},
		{"*12", DialPlanComplete},
		{"*123", DialPlanReject},
		{"9", DialPlanReject},
	}
	for _, tc := range cases {
		if got := ApplyDialPlan(tc.digits); got != tc.want {
			t.Errorf("ApplyDialPlan(%q) = %v, want %v", tc.digits, got, tc.want)
		}
	}
}
