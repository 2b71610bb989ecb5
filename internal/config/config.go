// Package config loads pstnxsip's configuration from flags and environment
// variables, adapted from the signaling server's flag+env loader.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Chipset selects the AT command dialect used to configure voice
// compression and gain, since different modem chipsets speak incompatible
// variants of the same parameters.
type Chipset string

const (
	ChipsetConexant   Chipset = "conexant"
	ChipsetUSRobotics Chipset = "usrobotics"
)

// Config holds every option named in the EXTERNAL INTERFACES configuration
// table, plus the chipset selector from SUPPLEMENTED FEATURES.
type Config struct {
	ModemPort         string
	ModemCountryCode  string
	ModemChipset      Chipset
	EchoCancelDelta   int
	EchoCancelTime    time.Duration

	IPPBXUser         string
	IPPBXDomain       string
	IPPBXPass         string
	IPPBXProxyAddress string
	IPPBXProxyPort    int

	IPPhoneIP   string
	IPPhonePort int

	RTPLow  int
	RTPHigh int

	RegisterExpires time.Duration

	ResponseTimeout    time.Duration
	AnswerTimeout      time.Duration
	DialTimeout        time.Duration
	MaxSessionDuration time.Duration
	AnswerAfterRings   int

	LocalPBX           bool
	LineCanDial        bool
	CallForwardTo      string
	IPPhoneCIDIsNumber bool

	RecordingEnabled bool

	SampleFreq int
	LoopTime   time.Duration
	RTPLen     int

	LogLevel string
}

// Default returns the option set with the values common.py itself defaults
// to (timers, sample rate, loop cadence); identity/network fields are left
// empty and must come from flags or the environment.
func Default() *Config {
	return &Config{
		ModemPort:        "/dev/ttyACM0",
		ModemCountryCode: "US",
		ModemChipset:     ChipsetConexant,
		EchoCancelDelta:  0,
		EchoCancelTime:   200 * time.Millisecond,

		IPPhonePort: 5060,

		RTPLow:  10000,
		RTPHigh: 20000,

		RegisterExpires: 60 * time.Second,

		ResponseTimeout:    5 * time.Second,
		AnswerTimeout:      28 * time.Second,
		DialTimeout:        30 * time.Second,
		MaxSessionDuration: 180 * time.Second,
		AnswerAfterRings:   1,

		SampleFreq: 8000,
		LoopTime:   10 * time.Millisecond,
		RTPLen:     160,

		LogLevel: "info",
	}
}

// Load builds a Config from defaults, then command-line flags, then
// environment variables (each stage overriding the last), mirroring the
// signaling server's flag-then-env loader.
func Load(args []string) (*Config, error) {
	cfg := Default()

	fs := newFlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.IPPBXUser == "" {
		return fmt.Errorf("IP_PBX_USER is required")
	}
	if c.IPPBXDomain == "" {
		return fmt.Errorf("IP_PBX_DOMAIN is required")
	}
	if c.RTPLow <= 0 || c.RTPHigh <= c.RTPLow {
		return fmt.Errorf("RTP_LOW/RTP_HIGH must describe a non-empty range, got [%d, %d]", c.RTPLow, c.RTPHigh)
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envSeconds(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = time.Duration(n * float64(time.Second))
		}
	}
}

func applyEnv(cfg *Config) {
	envString("MODEM_PORT", &cfg.ModemPort)
	envString("MODEM_COUNTRY_CODE", &cfg.ModemCountryCode)
	if v := os.Getenv("MODEM_CHIPSET"); v != "" {
		cfg.ModemChipset = Chipset(strings.ToLower(v))
	}
	envInt("ECHO_CANCEL_DELTA", &cfg.EchoCancelDelta)
	envSeconds("ECHO_CANCEL_TIME", &cfg.EchoCancelTime)

	envString("IP_PBX_USER", &cfg.IPPBXUser)
	envString("IP_PBX_DOMAIN", &cfg.IPPBXDomain)
	envString("IP_PBX_PASS", &cfg.IPPBXPass)
	envString("IP_PBX_PROXY_ADDRESS", &cfg.IPPBXProxyAddress)
	envInt("IP_PBX_PROXY_PORT", &cfg.IPPBXProxyPort)

	envString("IP_PHONE_IP", &cfg.IPPhoneIP)
	envInt("IP_PHONE_PORT", &cfg.IPPhonePort)

	envInt("RTP_LOW", &cfg.RTPLow)
	envInt("RTP_HIGH", &cfg.RTPHigh)

	envSeconds("REGISTER_EXPIRES", &cfg.RegisterExpires)

	envSeconds("RESPONSE_TIMEOUT", &cfg.ResponseTimeout)
	envSeconds("ANSWER_TIMEOUT", &cfg.AnswerTimeout)
	envSeconds("DIAL_TIMEOUT", &cfg.DialTimeout)
	envSeconds("MAX_SESSION_DURATION", &cfg.MaxSessionDuration)
	envInt("ANSWER_AFTER_RINGS", &cfg.AnswerAfterRings)

	envBool("LOCAL_PBX", &cfg.LocalPBX)
	envBool("LINE_CAN_DIAL", &cfg.LineCanDial)
	envString("CALL_FORWARD_TO", &cfg.CallForwardTo)
	envBool("IP_PHONE_CID_IS_NUMBER", &cfg.IPPhoneCIDIsNumber)

	envBool("RECORDING_ENABLED", &cfg.RecordingEnabled)

	envString("LOGLEVEL", &cfg.LogLevel)
}
