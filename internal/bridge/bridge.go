// Package bridge couples the SIP/RTP agent and the PSTN line driver into the
// cross-connected call described in spec.md §4.3, via a single cooperative
// tick loop, grounded on internal/rtpmanager/bridge/bridge.go's
// struct-owns-resources style without its goroutine-per-direction relay
// (pstnxsip has no concurrency to spare: spec.md §5 mandates one tick).
package bridge

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sebas/pstnxsip/internal/audio"
	"github.com/sebas/pstnxsip/internal/config"
	"github.com/sebas/pstnxsip/internal/modem"
	"github.com/sebas/pstnxsip/internal/sipua"
)

// CallOrigin identifies which leg initiated the current call, per spec.md
// §4.3's global call state.
type CallOrigin int

const (
	CallFromNone CallOrigin = iota
	CallFromIP
	CallFromPSTN
)

func (o CallOrigin) String() string {
	switch o {
	case CallFromIP:
		return "FROM_IP"
	case CallFromPSTN:
		return "FROM_PSTN"
	default:
		return "NONE"
	}
}

// Controller is the bridge controller: it owns the SIP agent, the line
// driver, and the playback/recording file handles, per spec.md §5's
// exclusive-ownership rule ("the bridge owns the play/record file
// handles").
type Controller struct {
	cfg *config.Config

	Agent *sipua.Agent
	Line  *modem.Line

	CrossConnected bool
	CallFrom       CallOrigin
	LineNumber     string
	IPNumber       string

	sessionDeadline time.Time
	dialDeadline    time.Time
	answerDeadline  time.Time

	player   *audio.Player
	recorder *audio.Recorder

	dialedDigits string

	now func() time.Time
}

// New constructs a bridge controller over an already-configured agent and
// line; both must still be started by the caller.
func New(cfg *config.Config, agent *sipua.Agent, line *modem.Line) *Controller {
	return &Controller{
		cfg:   cfg,
		Agent: agent,
		Line:  line,
		now:   time.Now,
	}
}

// Tick advances the bridge controller by one 10ms step, per spec.md §4.3's
// five-branch priority order, then polls the line, the SIP agent, and the
// playback pump once each.
func (c *Controller) Tick() {
	now := c.now()

	switch {
	case c.CrossConnected:
		c.tickCrossConnected(now)
	case c.CallFrom == CallFromIP:
		c.tickDialingFromIP(now)
	case c.CallFrom == CallFromPSTN:
		c.tickAwaitingPSTNOriginatedConnect(now)
	case c.Agent.State() == sipua.StateRinging:
		c.answerFromIP()
	case c.Line.State == modem.StateRinging && c.Line.RingCount() >= c.cfg.AnswerAfterRings:
		c.answerFromPSTN(now)
	}

	c.Line.Handler(now)
	c.Agent.Tick(now)
	c.Agent.TickRTP(now)
	c.Agent.TickRTCP(now)
	c.pumpPlayback()
}

// tickCrossConnected implements spec.md §4.3 priority 1: tear-down checks,
// then one frame each way, then DTMF relay.
func (c *Controller) tickCrossConnected(now time.Time) {
	if (!c.sessionDeadline.IsZero() && !now.Before(c.sessionDeadline)) ||
		c.Agent.State() == sipua.StateIdle ||
		c.Line.State != modem.StateConnected {
		c.teardown()
		return
	}

	if frame, ok := c.Line.ReadAudio(); ok {
		if c.recorder != nil {
			if err := c.recorder.WriteFrame(frame); err != nil {
				slog.Warn("recording write failed", "err", err)
			}
		}
		if err := c.Agent.WriteAudio(frame); err != nil {
			slog.Warn("RTP write failed", "err", err)
		}
	}

	if frame, ok := c.Agent.ReadAudio(); ok {
		out := frame
		if c.Line.EchoArmed(now) {
			// Damp acoustic echo from the SIP side back to itself: while
			// armed, the line hears silence instead of what just came in
			// over RTP, per spec.md §4.2/§4.3.
			out = silenceFrame(len(frame))
		}
		if err := c.Line.WriteAudio(out); err != nil {
			slog.Warn("line write failed", "err", err)
		}
	}

	if digit, ok := c.Line.ReadDTMF(); ok {
		if err := c.Agent.SendDTMF(digit); err != nil {
			slog.Warn("DTMF relay to SIP failed", "digit", string(digit), "err", err)
		}
	}
	if digit, ok := c.Agent.ReadDTMF(); ok {
		if err := c.Line.SendDTMF(digit); err != nil {
			slog.Warn("DTMF relay to line failed", "digit", string(digit), "err", err)
		}
	}
}

// silenceFrame returns n bytes at the PSTN bias byte (0x80), per spec.md
// §4.2's echo suppression substitution.
func silenceFrame(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = 0x80
	}
	return out
}

// startCrossConn transitions into the cross-connected state, arming the
// session timer and opening the recorder if enabled, per spec.md §4.3.
func (c *Controller) startCrossConn(now time.Time) {
	c.stopPlayback()
	c.CrossConnected = true
	c.sessionDeadline = now.Add(c.cfg.MaxSessionDuration)

	if c.cfg.RecordingEnabled {
		name := recordingFilename(now, c.CallFrom, c.LineNumber, c.IPNumber)
		rec, err := audio.NewRecorder(name)
		if err != nil {
			slog.Warn("could not open recording file", "name", name, "err", err)
		} else {
			c.recorder = rec
		}
	}
}

// teardown leaves the cross-connected state and hangs up both legs, per
// spec.md §4.3's tear-down triggers.
func (c *Controller) teardown() {
	c.CrossConnected = false
	c.CallFrom = CallFromNone
	c.LineNumber = ""
	c.IPNumber = ""
	c.sessionDeadline = time.Time{}
	c.dialedDigits = ""

	c.Agent.Hangup()
	if c.Line.State == modem.StateConnected || c.Line.State == modem.StateHangingUp {
		c.Line.StopVoiceMode()
	}

	if c.recorder != nil {
		if err := c.recorder.Close(); err != nil {
			slog.Warn("closing recording failed", "err", err)
		}
		c.recorder = nil
	}
	c.stopPlayback()
}

// pumpPlayback writes one CHUNK_SIZE frame of the active prompt to the line,
// per spec.md §4.3's playback pump.
func (c *Controller) pumpPlayback() {
	if c.player == nil {
		return
	}
	buf := make([]byte, chunkSize)
	n, ok := c.player.ReadFrame(buf)
	if n > 0 {
		if err := c.Line.WriteAudio(buf[:n]); err != nil {
			slog.Warn("prompt playback write failed", "err", err)
		}
	}
	if !ok {
		c.stopPlayback()
	}
}

func (c *Controller) stopPlayback() {
	if c.player != nil {
		_ = c.player.Close()
		c.player = nil
	}
}

// chunkSize is spec.md §3's CHUNK_SIZE: SAMPLE_FREQ * LOOP_TIME = 80 bytes.
const chunkSize = 80

// recordingFilename builds spec.md §4.3's "YYYYMMDD-HHMMSS_<from>_to_<to>.wav"
// recording name.
func recordingFilename(now time.Time, from CallOrigin, lineNumber, ipNumber string) string {
	stamp := now.Format("20060102-150405")
	fromLabel, toLabel := lineNumber, ipNumber
	if from == CallFromIP {
		fromLabel, toLabel = ipNumber, lineNumber
	}
	return fmt.Sprintf("%s_%s_to_%s.wav", stamp, fromLabel, toLabel)
}
