package config

import "flag"

// newFlagSet defines one flag per configuration option, seeded from the
// defaults already on cfg, matching the signaling server's flag-then-env
// pattern in services/signaling/config/config.go.
func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("pstnxsip", flag.ContinueOnError)

	fs.StringVar(&cfg.ModemPort, "modem-port", cfg.ModemPort, "serial device path for the voice modem")
	fs.StringVar(&cfg.ModemCountryCode, "modem-country", cfg.ModemCountryCode, "two-letter country code for AT+GCI=")
	fs.StringVar((*string)(&cfg.ModemChipset), "modem-chipset", string(cfg.ModemChipset), "modem chipset dialect: conexant or usrobotics")
	fs.IntVar(&cfg.EchoCancelDelta, "echo-cancel-delta", cfg.EchoCancelDelta, "echo suppression threshold, 0 disables")
	fs.DurationVar(&cfg.EchoCancelTime, "echo-cancel-time", cfg.EchoCancelTime, "echo suppression window")

	fs.StringVar(&cfg.IPPBXUser, "ip-pbx-user", cfg.IPPBXUser, "SIP AOR user")
	fs.StringVar(&cfg.IPPBXDomain, "ip-pbx-domain", cfg.IPPBXDomain, "SIP AOR domain")
	fs.StringVar(&cfg.IPPBXPass, "ip-pbx-pass", cfg.IPPBXPass, "SIP AOR password")
	fs.StringVar(&cfg.IPPBXProxyAddress, "ip-pbx-proxy-address", cfg.IPPBXProxyAddress, "outbound proxy address")
	fs.IntVar(&cfg.IPPBXProxyPort, "ip-pbx-proxy-port", cfg.IPPBXProxyPort, "outbound proxy port")

	fs.StringVar(&cfg.IPPhoneIP, "ip-phone-ip", cfg.IPPhoneIP, "local SIP bind address")
	fs.IntVar(&cfg.IPPhonePort, "ip-phone-port", cfg.IPPhonePort, "local SIP bind port")

	fs.IntVar(&cfg.RTPLow, "rtp-low", cfg.RTPLow, "lowest RTP port in the allocation range")
	fs.IntVar(&cfg.RTPHigh, "rtp-high", cfg.RTPHigh, "highest RTP port in the allocation range")

	fs.DurationVar(&cfg.RegisterExpires, "register-expires", cfg.RegisterExpires, "REGISTER Expires value")

	fs.DurationVar(&cfg.ResponseTimeout, "response-timeout", cfg.ResponseTimeout, "SIP/AT response timeout")
	fs.DurationVar(&cfg.AnswerTimeout, "answer-timeout", cfg.AnswerTimeout, "max time to wait for an answer")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "max time to collect dialed digits")
	fs.DurationVar(&cfg.MaxSessionDuration, "max-session-duration", cfg.MaxSessionDuration, "max connected call duration")
	fs.IntVar(&cfg.AnswerAfterRings, "answer-after-rings", cfg.AnswerAfterRings, "rings before the line answers")

	fs.BoolVar(&cfg.LocalPBX, "local-pbx", cfg.LocalPBX, "true when IP_PBX_DOMAIN is a local PBX rather than a carrier")
	fs.BoolVar(&cfg.LineCanDial, "line-can-dial", cfg.LineCanDial, "allow PSTN callers to dial an extension via IVR")
	fs.StringVar(&cfg.CallForwardTo, "call-forward-to", cfg.CallForwardTo, "SIP target dialed for unsolicited PSTN calls")
	fs.BoolVar(&cfg.IPPhoneCIDIsNumber, "ip-phone-cid-is-number", cfg.IPPhoneCIDIsNumber, "caller-ID-is-number option (parsed; the bridge does not read it)")

	fs.BoolVar(&cfg.RecordingEnabled, "recording-enabled", cfg.RecordingEnabled, "enable WAV session recording")

	fs.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "log level: debug, info, warn, error")

	return fs
}
