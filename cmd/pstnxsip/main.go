// Command pstnxsip bridges one analog PSTN line to one SIP/RTP endpoint.
package main

import (
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sebas/pstnxsip/internal/banner"
	"github.com/sebas/pstnxsip/internal/bridge"
	"github.com/sebas/pstnxsip/internal/config"
	"github.com/sebas/pstnxsip/internal/logger"
	"github.com/sebas/pstnxsip/internal/modem"
	"github.com/sebas/pstnxsip/internal/sipua"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		// logger isn't initialized yet; this is a startup-argument error.
		os.Stderr.WriteString("pstnxsip: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Init(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	port, err := modem.OpenTTY(cfg.ModemPort)
	if err != nil {
		slog.Error("open modem port", "port", cfg.ModemPort, "err", err)
		os.Exit(1)
	}

	line := modem.NewLine(modem.Config{
		Port:             cfg.ModemPort,
		CountryCode:      cfg.ModemCountryCode,
		Chipset:          modemChipset(cfg.ModemChipset),
		ResponseTimeout:  cfg.ResponseTimeout,
		EchoCancelDelta:  cfg.EchoCancelDelta,
		EchoCancelTime:   cfg.EchoCancelTime,
		AnswerAfterRings: cfg.AnswerAfterRings,
	}, port)
	if err := line.Start(); err != nil {
		slog.Error("modem startup sequence failed", "err", err)
		os.Exit(1)
	}

	agent := sipua.NewAgent(sipua.Config{
		LocalIP:         cfg.IPPhoneIP,
		LocalPort:       cfg.IPPhonePort,
		ProxyAddr:       cfg.IPPBXProxyAddress,
		ProxyPort:       cfg.IPPBXProxyPort,
		Domain:          cfg.IPPBXDomain,
		User:            cfg.IPPBXUser,
		Password:        cfg.IPPBXPass,
		RTPLow:          cfg.RTPLow,
		RTPHigh:         cfg.RTPHigh,
		RegisterTTL:     cfg.RegisterExpires,
		ResponseTimeout: cfg.ResponseTimeout,
		AnswerTimeout:   cfg.AnswerTimeout,
	})
	if err := agent.Start(); err != nil {
		slog.Error("SIP agent start failed", "err", err)
		os.Exit(1)
	}

	controller := bridge.New(cfg, agent, line)

	banner.Print("pstnxsip", []banner.ConfigLine{
		{Label: "Modem port", Value: cfg.ModemPort},
		{Label: "Modem chipset", Value: string(cfg.ModemChipset)},
		{Label: "IP PBX domain", Value: cfg.IPPBXDomain},
		{Label: "IP PBX proxy", Value: net.JoinHostPort(cfg.IPPBXProxyAddress, strconv.Itoa(cfg.IPPBXProxyPort))},
		{Label: "SIP user", Value: cfg.IPPBXUser},
		{Label: "RTP port range", Value: strconv.Itoa(cfg.RTPLow) + "-" + strconv.Itoa(cfg.RTPHigh)},
		{Label: "Max session duration", Value: cfg.MaxSessionDuration.String()},
	})

	run(controller, line, agent, cfg)
}

// run drives the cooperative tick loop (spec.md §5: one 10ms step, no
// blocking I/O) until a termination signal arrives, then tears down both
// legs.
func run(c *bridge.Controller, line *modem.Line, agent *sipua.Agent, cfg *config.Config) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.LoopTime)
	defer ticker.Stop()

	slog.Info("pstnxsip ready")
	for {
		select {
		case <-ticker.C:
			c.Tick()
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			shutdown(line, agent)
			return
		}
	}
}

func shutdown(line *modem.Line, agent *sipua.Agent) {
	if err := agent.Stop(); err != nil {
		slog.Warn("SIP agent stop failed", "err", err)
	}
	if err := line.Stop(); err != nil {
		slog.Warn("modem line stop failed", "err", err)
	}
}

func modemChipset(c config.Chipset) modem.Chipset {
	if c == config.ChipsetUSRobotics {
		return modem.ChipsetUSRobotics
	}
	return modem.ChipsetConexant
}
