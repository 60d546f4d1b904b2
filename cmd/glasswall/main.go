// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// glasswall is a transparent middlebox that inspects live TCP and UDP
// flows, extracts application metadata, and enforces user rules via
// NFQUEUE verdicts.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/oschwald/geoip2-golang"

	"grimm.is/glasswall/internal/analyzer"
	analyzertcp "grimm.is/glasswall/internal/analyzer/tcp"
	analyzerudp "grimm.is/glasswall/internal/analyzer/udp"
	"grimm.is/glasswall/internal/config"
	"grimm.is/glasswall/internal/engine"
	"grimm.is/glasswall/internal/io"
	"grimm.is/glasswall/internal/logging"
	"grimm.is/glasswall/internal/metrics"
	"grimm.is/glasswall/internal/modifier"
	modifierudp "grimm.is/glasswall/internal/modifier/udp"
	"grimm.is/glasswall/internal/ruleset"
)

// registeredAnalyzers is the full analyzer set rules may reference.
func registeredAnalyzers() []analyzer.Analyzer {
	return []analyzer.Analyzer{
		&analyzertcp.HTTPAnalyzer{},
		&analyzertcp.SSHAnalyzer{},
		&analyzertcp.TLSAnalyzer{},
		&analyzertcp.FETAnalyzer{},
		&analyzerudp.DNSAnalyzer{},
	}
}

// registeredModifiers is the modifier set rules may name.
func registeredModifiers() []modifier.Modifier {
	return []modifier.Modifier{
		&modifierudp.DNSModifier{},
	}
}

func main() {
	configPath := flag.String("config", "/etc/glasswall/glasswall.yaml", "Path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logging.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.SetDefault(logging.New(cfg.Logging))
	log := logging.WithComponent("main")

	var geo *geoip2.Reader
	if cfg.GeoIPDB != "" {
		geo, err = geoip2.Open(cfg.GeoIPDB)
		if err != nil {
			return err
		}
		defer geo.Close()
	}

	compile := func() (ruleset.Ruleset, error) {
		rules, err := ruleset.ExprRulesFromYAML(cfg.RuleFile)
		if err != nil {
			return nil, err
		}
		return ruleset.CompileExprRules(rules, &ruleset.CompileOptions{
			Analyzers: registeredAnalyzers(),
			Modifiers: registeredModifiers(),
			Logger:    newRulesetLogger(),
			GeoIP:     geo,
		})
	}
	rs, err := compile()
	if err != nil {
		return err
	}

	pio, err := io.NewNFQueuePacketIO(io.NFQueueConfig{
		QueueNum:   cfg.IO.QueueNum,
		QueueSize:  cfg.IO.QueueSize,
		ReadBuffer: cfg.IO.ReadBuffer,
		AcceptMark: cfg.IO.AcceptMark,
		DropMark:   cfg.IO.DropMark,
	})
	if err != nil {
		return err
	}
	defer pio.Close()

	reg := metrics.NewRegistry()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error("metrics server", "error", err)
			}
		}()
	}

	eng, err := engine.New(engine.Config{
		Logger:                     newEngineLogger(),
		IO:                         pio,
		Ruleset:                    rs,
		Metrics:                    reg,
		Workers:                    cfg.Workers.Count,
		WorkerQueueSize:            cfg.Workers.QueueSize,
		TCPMaxBufferedPagesTotal:   cfg.Workers.TCPMaxBufferedPagesTotal,
		TCPMaxBufferedPagesPerConn: cfg.Workers.TCPMaxBufferedPagesPerConn,
		TCPTimeout:                 cfg.Workers.TCPTimeout.Std(),
		UDPMaxStreams:              cfg.Workers.UDPMaxStreams,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGHUP recompiles the rule file and hot-swaps the ruleset.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			newRS, err := compile()
			if err != nil {
				log.Error("ruleset reload failed", "error", err)
				continue
			}
			if err := eng.UpdateRuleset(newRS); err != nil {
				log.Error("ruleset swap failed", "error", err)
				continue
			}
			reg.RulesetSwaps.Inc()
			log.Info("ruleset reloaded", "file", cfg.RuleFile)
		}
	}()

	log.Info("engine starting", "queue", cfg.IO.QueueNum, "workers", cfg.Workers.Count, "rules", cfg.RuleFile)
	return eng.Run(ctx)
}
