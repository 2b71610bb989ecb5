package modem

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config is the subset of configuration the line driver needs, trimmed from
// internal/config.Config so this package stays independent of it.
type Config struct {
	Port               string
	CountryCode        string
	Chipset            Chipset
	ResponseTimeout    time.Duration
	EchoCancelDelta    int
	EchoCancelTime     time.Duration
	AnswerAfterRings   int
}

// Line owns one serial port and drives the modem through its data/voice
// states, per spec.md §4.2.
type Line struct {
	cfg     Config
	cmds    commandTable
	port    SerialPort
	now     func() time.Time

	State LineState

	voiceMode bool
	ringCount int
	ringDeadline time.Time
	ringArmed    bool
	callerID     string

	// pending buffers bytes accumulated during a blocking command() call
	// that did not match the expected terminator or ERROR, per spec.md
	// §4.2 ("any other bytes remain buffered for later inspection").
	pending bytes.Buffer

	// duplicateNext is the one-shot TX-buffer-underrun compensation flag,
	// per SUPPLEMENTED FEATURES.
	duplicateNext bool
	lastFrameSent []byte

	// echo suppression state.
	echoRunningMean float64
	echoArmedUntil  time.Time

	// audioIn buffers demultiplexed voice-mode audio between Handler polls
	// and ReadAudio calls.
	audioIn []byte
	// heldDLE is set when a voice-mode read ended in a DLE whose code byte
	// has not arrived yet; the next read is demultiplexed with it in front.
	heldDLE bool

	dtmfIn chan rune
}

// NewLine constructs a line driver, unopened; call Start to open the port
// and run the startup sequence.
func NewLine(cfg Config, port SerialPort) *Line {
	return &Line{
		cfg:    cfg,
		cmds:   commandsFor(cfg.Chipset),
		port:   port,
		now:    time.Now,
		State:  StateInactive,
		dtmfIn: make(chan rune, 8),
	}
}

// Start runs the startup sequence (spec.md §4.2): hang up, factory reset,
// echo off, country code, verbose results, data mode, formatted caller-ID,
// call-waiting enable. End state IDLE.
func (l *Line) Start() error {
	steps := []string{
		l.cmds.hangUp,
		l.cmds.factoryReset,
		l.cmds.echoOff,
		countryCommand(l.cfg.CountryCode),
		l.cmds.verboseResults,
		l.cmds.dataMode,
		l.cmds.formattedCallerID,
		l.cmds.callWaitingEnable,
	}
	for _, cmd := range steps {
		if _, err := l.Command([]byte(cmd), "OK\r\n"); err != nil {
			// All startup commands are idempotent-safe: log and continue.
			slog.Warn("modem startup command failed", "cmd", strings.TrimSpace(cmd), "err", err)
		}
	}
	l.State = StateIdle
	return nil
}

// Stop tears down voice mode if active and closes the port.
func (l *Line) Stop() error {
	if l.voiceMode {
		l.StopVoiceMode()
	}
	return l.port.Close()
}

// Command writes bytes and, if expected is non-empty, blocks on the serial
// input up to RESPONSE_TIMEOUT accumulating bytes until expected or
// "ERROR\r\n" appears, per spec.md §4.2's AT command contract. Bytes that
// don't match either terminator stay buffered in l.pending for later
// inspection (e.g. NMBR= caller-ID extraction).
func (l *Line) Command(cmd []byte, expected string) ([]byte, error) {
	if _, err := l.port.Write(cmd); err != nil {
		return nil, &CommandError{Command: string(cmd), Cause: err}
	}
	if expected == "" {
		return nil, nil
	}

	deadline := l.now().Add(l.cfg.ResponseTimeout)
	buf := make([]byte, 256)
	for l.now().Before(deadline) {
		n, err := l.port.Read(buf)
		if err != nil {
			return nil, &CommandError{Command: string(cmd), Cause: err}
		}
		if n > 0 {
			l.pending.Write(buf[:n])
		}
		okIdx := bytes.Index(l.pending.Bytes(), []byte(expected))
		errIdx := bytes.Index(l.pending.Bytes(), []byte("ERROR\r\n"))
		switch {
		case okIdx >= 0 && (errIdx < 0 || okIdx <= errIdx):
			out := l.pending.Bytes()[:okIdx+len(expected)]
			result := append([]byte(nil), out...)
			l.pending.Next(okIdx + len(expected))
			return result, nil
		case errIdx >= 0:
			l.pending.Next(errIdx + len("ERROR\r\n"))
			return nil, &CommandError{Command: string(cmd), Cause: ErrCommandFailed}
		}
	}
	return nil, &CommandError{Command: string(cmd), Cause: ErrCommandTimeout}
}

// StartVoiceMode enters voice mode per spec.md §4.2: AT+FCLASS=8, disable
// silence detection, set DTMF duration, receive/transmit gain, voice
// compression, off-hook, AT+VTR, await CONNECT.
func (l *Line) StartVoiceMode() error {
	steps := []string{
		l.cmds.voiceMode,
		l.cmds.silenceDetectOff,
		l.cmds.dtmfDuration,
		l.cmds.receiveGain,
		l.cmds.transmitGain,
		l.cmds.voiceCompression,
		l.cmds.offHook,
	}
	for _, cmd := range steps {
		if _, err := l.Command([]byte(cmd), "OK\r\n"); err != nil {
			slog.Warn("voice-mode entry command failed", "cmd", strings.TrimSpace(cmd), "err", err)
		}
	}
	if _, err := l.Command([]byte(l.cmds.voiceTransmitStart), "CONNECT\r\n"); err != nil {
		return fmt.Errorf("await CONNECT: %w", err)
	}
	l.voiceMode = true
	l.State = StateConnected
	return nil
}

// StopVoiceMode tears down voice mode per spec.md §4.2: DLE ^ (or
// manufacturer equivalent), on-hook, hang up, re-enter data mode, re-enable
// caller-ID.
func (l *Line) StopVoiceMode() {
	_, _ = l.port.Write([]byte(l.cmds.voiceModeEnd))
	_, _ = l.Command([]byte(l.cmds.hangUp), "OK\r\n")
	_, _ = l.Command([]byte(l.cmds.dataMode), "OK\r\n")
	_, _ = l.Command([]byte(l.cmds.formattedCallerID), "OK\r\n")
	l.voiceMode = false
	l.echoArmedUntil = time.Time{}
	l.echoRunningMean = 0
}

// Dial places an outbound call: ATD<number>; keeps the modem in voice mode,
// per spec.md §4.2.
func (l *Line) Dial(number string) error {
	l.State = StateDialing
	if _, err := l.Command([]byte(dialCommand(number)), "OK\r\n"); err != nil {
		return fmt.Errorf("dial %s: %w", number, err)
	}
	return l.StartVoiceMode()
}

// Handler polls the serial port once: in data mode it watches for RING and
// NMBR=; in voice mode it demultiplexes DLE control bytes out of the
// incoming audio stream. Non-blocking, per spec.md §5.
func (l *Line) Handler(now time.Time) {
	if l.voiceMode {
		l.pollVoice()
		return
	}
	l.pollData(now)
}

func (l *Line) pollData(now time.Time) {
	buf := make([]byte, 256)
	n, err := l.port.Read(buf)
	if err != nil || n == 0 {
		l.checkRingTimeout(now)
		return
	}
	l.pending.Write(buf[:n])
	text := l.pending.String()

	if strings.Contains(text, "RING\r\n") {
		l.onRing(now)
		l.pending.Reset()
		return
	}
	if idx := strings.Index(text, "NMBR="); idx >= 0 {
		rest := text[idx+len("NMBR="):]
		if end := strings.Index(rest, "\r\n"); end >= 0 {
			l.callerID = rest[:end]
			l.pending.Reset()
		}
	}
}

func (l *Line) onRing(now time.Time) {
	if l.State != StateRinging {
		l.State = StateRinging
		l.ringCount = 0
	}
	l.ringCount++
	l.ringArmed = true
	l.ringDeadline = now.Add(7 * time.Second)
	_, _ = l.Command([]byte(l.cmds.ringCallerIDRequest), "")
}

func (l *Line) checkRingTimeout(now time.Time) {
	if l.ringArmed && !now.Before(l.ringDeadline) {
		l.ringArmed = false
		if l.State == StateRinging {
			l.State = StateIdle
		}
	}
}

// RingCount reports the number of RINGs observed in the current inter-ring
// window, for the bridge's ANSWER_AFTER_RINGS comparison.
func (l *Line) RingCount() int { return l.ringCount }

// CallerID returns the most recently captured NMBR= digits.
func (l *Line) CallerID() string { return l.callerID }

func (l *Line) pollVoice() {
	buf := make([]byte, 256)
	n, err := l.port.Read(buf)
	if err != nil || n == 0 {
		return
	}
	data := buf[:n]
	if l.heldDLE {
		data = append([]byte{dleByte}, data...)
		l.heldDLE = false
	}
	result := Demux(data)
	audio := result.Audio
	if len(audio) > 0 && audio[len(audio)-1] == dleByte {
		audio = audio[:len(audio)-1]
		l.heldDLE = true
	}
	l.applyEvents(result.Events)
	for _, d := range result.Digits {
		select {
		case l.dtmfIn <- d:
		default:
		}
	}
	l.audioIn = append(l.audioIn, audio...)
}

func (l *Line) applyEvents(events []DemuxEvent) {
	for _, e := range events {
		switch e {
		case EventBusyTone, EventDialTone, EventSilence, EventEndOfVoice:
			l.State = StateHangingUp
		case EventTXUnderrun:
			l.duplicateNext = true
		case EventRXOverrun:
			slog.Warn("modem RX buffer overrun")
		}
	}
}

// ReadAudio returns the next available frame of demultiplexed PSTN audio,
// if any.
func (l *Line) ReadAudio() ([]byte, bool) {
	if len(l.audioIn) == 0 {
		return nil, false
	}
	frame := l.audioIn
	l.audioIn = nil
	return frame, true
}

// WriteAudio escapes and transmits one outgoing audio frame, applying the
// one-shot TX-underrun duplication, per spec.md §4.2/SUPPLEMENTED FEATURES.
func (l *Line) WriteAudio(frame []byte) error {
	escaped := EscapeSend(frame)
	if l.duplicateNext && l.lastFrameSent != nil {
		if _, err := l.port.Write(l.lastFrameSent); err != nil {
			return fmt.Errorf("write duplicated frame: %w", err)
		}
		l.duplicateNext = false
	}
	if _, err := l.port.Write(escaped); err != nil {
		return fmt.Errorf("write audio frame: %w", err)
	}
	l.lastFrameSent = escaped
	l.updateEchoState(frame)
	return nil
}

// ReadDTMF returns the next DTMF digit recognized from the line, if any.
func (l *Line) ReadDTMF() (rune, bool) {
	select {
	case d := <-l.dtmfIn:
		return d, true
	default:
		return 0, false
	}
}

// SendDTMF writes an AT+VTS= command to generate one DTMF tone on the line,
// grounded on line.py's send_dtmf. Like send_dtmf, this is fire-and-forget:
// voice mode is already active, and the bridge's per-tick relay must not
// block waiting for an OK that the modem may send well after the next tick.
func (l *Line) SendDTMF(digit rune) error {
	if _, err := l.port.Write([]byte(dtmfCommand(digit))); err != nil {
		return fmt.Errorf("send DTMF %q: %w", digit, err)
	}
	return nil
}

// EchoArmed reports whether the echo-suppression silence window is
// currently active, per spec.md §4.2.
func (l *Line) EchoArmed(now time.Time) bool {
	return l.cfg.EchoCancelDelta != 0 && now.Before(l.echoArmedUntil)
}

// updateEchoState implements spec.md §4.2's echo suppression heuristic: the
// mean of up to the first 10 samples exceeding 128 (positive half-cycle),
// compared against a running mean updated with the original's single-pole
// (old+new)/2 rule, per SUPPLEMENTED FEATURES.
func (l *Line) updateEchoState(frame []byte) {
	if l.cfg.EchoCancelDelta == 0 {
		return
	}
	sum, count := 0, 0
	for _, b := range frame {
		if b > 128 && count < 10 {
			sum += int(b)
			count++
		}
	}
	if count == 0 {
		return
	}
	mean := float64(sum) / float64(count)

	// The first frame only establishes the baseline: the running mean
	// starts at zero, so comparing against it would false-arm on whatever
	// level the line happens to be at.
	if l.echoRunningMean == 0 {
		l.echoRunningMean = mean
		return
	}

	delta := mean - l.echoRunningMean
	if delta < 0 {
		delta = -delta
	}
	arm := delta > float64(l.cfg.EchoCancelDelta) || l.echoRunningMean > 128+float64(l.cfg.EchoCancelDelta)

	l.echoRunningMean = (l.echoRunningMean + mean) / 2

	if arm {
		l.echoArmedUntil = l.now().Add(l.cfg.EchoCancelTime)
	}
}
