package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/sebas/pstnxsip/internal/audio"
	"github.com/sebas/pstnxsip/internal/modem"
	"github.com/sebas/pstnxsip/internal/sipua"
)

// Fixed dial/ringback prompt files, per spec.md §4.3 and §8 scenario 3.
const (
	dialPromptFile     = "dial.wav"
	ringbackPromptFile = "ringback.wav"
)

// answerFromIP implements spec.md §4.3 priority 4: a ringing SIP dialog is
// answered immediately and the dial prompt starts.
func (c *Controller) answerFromIP() {
	if err := c.Agent.Answer(); err != nil {
		slog.Warn("could not answer inbound SIP call", "err", err)
		return
	}
	c.CallFrom = CallFromIP
	c.dialedDigits = ""
	c.dialDeadline = c.now().Add(c.cfg.DialTimeout)

	if p, err := audio.OpenPlayer(dialPromptFile); err != nil {
		slog.Warn("could not open dial prompt", "file", dialPromptFile, "err", err)
	} else {
		c.player = p
	}
}

// tickDialingFromIP implements spec.md §4.3 priority 2: collect digits from
// the SIP caller, apply the dial plan, and dial out on the line once a
// number is complete.
func (c *Controller) tickDialingFromIP(now time.Time) {
	if !c.dialDeadline.IsZero() && !now.Before(c.dialDeadline) {
		c.teardown()
		return
	}

	digit, ok := c.Agent.ReadDTMF()
	if !ok {
		return
	}
	c.dialedDigits += string(digit)

	switch ApplyDialPlan(c.dialedDigits) {
	case DialPlanComplete:
		c.stopPlayback()
		c.IPNumber = c.dialedDigits
		if err := c.Line.Dial(c.dialedDigits); err != nil {
			slog.Warn("outbound PSTN dial failed", "number", c.dialedDigits, "err", err)
			c.teardown()
			return
		}
		c.startCrossConn(now)
	case DialPlanReject:
		c.teardown()
	}
}

// answerFromPSTN implements spec.md §4.3 priority 5: a line ring that
// reached ANSWER_AFTER_RINGS lifts the line into voice mode and either
// forwards the call to CALL_FORWARD_TO or starts PSTN-side IVR dialing.
func (c *Controller) answerFromPSTN(now time.Time) {
	if err := c.Line.StartVoiceMode(); err != nil {
		slog.Warn("could not lift line to voice mode", "err", err)
		return
	}
	c.CallFrom = CallFromPSTN
	c.LineNumber = c.Line.CallerID()
	c.answerDeadline = now.Add(c.cfg.AnswerTimeout)

	if c.cfg.LocalPBX && c.cfg.LineCanDial {
		c.dialedDigits = ""
		c.dialDeadline = now.Add(c.cfg.DialTimeout)
		return
	}

	c.IPNumber = c.cfg.CallForwardTo
	if err := c.Agent.Call(context.Background(), "", c.cfg.CallForwardTo); err != nil {
		slog.Warn("forwarding call failed", "target", c.cfg.CallForwardTo, "err", err)
		c.teardown()
		return
	}
	if p, err := audio.OpenPlayer(ringbackPromptFile); err != nil {
		slog.Warn("could not open ringback prompt", "file", ringbackPromptFile, "err", err)
	} else {
		c.player = p
	}
}

// tickAwaitingPSTNOriginatedConnect implements spec.md §4.3 priority 3: wait
// for the SIP leg to connect, collecting IVR digits from the line first if
// LOCAL_PBX and LINE_CAN_DIAL are both set.
func (c *Controller) tickAwaitingPSTNOriginatedConnect(now time.Time) {
	if c.Agent.State() == sipua.StateConnected {
		c.startCrossConn(now)
		return
	}
	if c.IPNumber != "" && c.Agent.State() == sipua.StateIdle {
		c.teardown()
		return
	}
	if !c.answerDeadline.IsZero() && !now.Before(c.answerDeadline) {
		c.teardown()
		return
	}
	if c.Line.State != modem.StateConnected {
		c.teardown()
		return
	}

	if c.cfg.LocalPBX && c.cfg.LineCanDial && c.IPNumber == "" {
		if !c.dialDeadline.IsZero() && !now.Before(c.dialDeadline) {
			c.teardown()
			return
		}
		digit, ok := c.Line.ReadDTMF()
		if !ok {
			return
		}
		c.dialedDigits += string(digit)
		switch ApplyDialPlan(c.dialedDigits) {
		case DialPlanComplete:
			c.IPNumber = c.dialedDigits
			if err := c.Agent.Call(context.Background(), "", c.dialedDigits); err != nil {
				slog.Warn("IVR-initiated outbound SIP call failed", "number", c.dialedDigits, "err", err)
				c.teardown()
			}
		case DialPlanReject:
			c.teardown()
		}
	}
}
