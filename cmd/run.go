package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaycommander/rc-agent/internal/agent"
	"github.com/relaycommander/rc-agent/internal/config"
	"github.com/relaycommander/rc-agent/internal/control"
	"github.com/relaycommander/rc-agent/internal/identity"
	"github.com/relaycommander/rc-agent/internal/orchestrator"
	"github.com/relaycommander/rc-agent/internal/tasks"
	"github.com/relaycommander/rc-agent/internal/transport"
	"github.com/relaycommander/rc-agent/internal/wire"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Register with the control server and run the poll loop",
	Long: `Run the agent in the foreground. It:
  - Registers this host with the control server, retrying until it succeeds
  - Fetches tasks every poll interval and runs them concurrently
  - Reports results, keeping undelivered ones for the next cycle
  - Listens on a local socket for results sent by "rc-agent exec"`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("server", "s", "", "Control server address (host:port) for the udp transport")
	runCmd.Flags().StringP("transport", "t", "", "Control transport: udp, http or websocket")
	runCmd.Flags().String("key-file", "", "File holding the hex obfuscation key")
	runCmd.Flags().Duration("interval", 0, "Poll interval")
	runCmd.Flags().String("spool", "", "File that keeps undelivered results across restarts")
	runCmd.Flags().String("socket", "", `Local result socket path ("-" disables it)`)
}

func runAgent(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger
	reg := metrics.NewRegistry()
	log.Info("rc-agent starting", zap.String("transport", cfg.Server.Transport))

	codec, err := newCodec(cfg.Codec)
	if err != nil {
		return err
	}

	opts := control.Options{
		Kind:         cfg.Server.Transport,
		Address:      cfg.Server.Address,
		BaseURL:      cfg.Server.BaseURL,
		WebSocketURL: cfg.Server.WebSocketURL,
		Paths:        control.Paths(cfg.Server.Paths),
		Timeout:      cfg.Server.ReplyTimeout,
		Codec:        codec,
		Logger:       log,
	}
	if cfg.Server.Transport == control.KindUDP {
		tr, err := transport.Listen(transport.Options{
			LocalPortMin: cfg.Server.LocalPortMin,
			LocalPortMax: cfg.Server.LocalPortMax,
			ReplyTimeout: cfg.Server.ReplyTimeout,
			Logger:       log,
			Registry:     reg,
		})
		if err != nil {
			return errors.Wrap(err, "binding datagram socket")
		}
		defer func() {
			log.Info("transport closed", zap.String("stats", tr.Stats()))
			tr.Close()
		}()
		opts.Transport = tr
	}
	client, err := control.New(opts)
	if err != nil {
		return err
	}
	defer client.Close()

	orch := orchestrator.New(log, reg)
	dispatcher := tasks.NewDispatcher(orch, tasks.DispatcherOptions{
		Shell: tasks.ShellOptions{Shell: cfg.Tasks.Shell, MaxOutput: cfg.Tasks.MaxOutputBytes},
		Probe: tasks.ProbeOptions{
			Hosts:   cfg.Tasks.Probe.Hosts,
			Ports:   cfg.Tasks.Probe.Ports,
			Workers: cfg.Tasks.Probe.Workers,
			Timeout: cfg.Tasks.Probe.Timeout,
		},
		DefaultMinDelay: cfg.Poll.DefaultMinDelay,
		DefaultMaxDelay: cfg.Poll.DefaultMaxDelay,
		Logger:          log,
	})

	if cfg.Results.Socket != "-" {
		intake, err := startIntake(cfg.Results, orch, log)
		if err != nil {
			log.Warn("result socket disabled", zap.Error(err))
		} else {
			defer intake.Close()
		}
	}

	var spool *agent.Spool
	if cfg.Results.Spool != "" {
		spool = agent.NewSpool(cfg.Results.Spool)
	}

	a := agent.New(agent.Options{
		Client:     client,
		Registry:   orch,
		Dispatcher: dispatcher,
		Identity:   identity.Collect,
		Interval:   cfg.Poll.Interval,
		Backoff:    cfg.Poll.RegisterBackoff,
		BackoffMax: cfg.Poll.RegisterBackoffMax,
		Settle:     cfg.Poll.Settle,
		Spool:      spool,
		Logger:     log,
	})
	err = a.Run(ctx)
	log.Info("shutting down", zap.String("registry", orch.Stats()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newCodec(c config.CodecConfig) (*wire.Codec, error) {
	var opts []wire.Option
	switch {
	case c.KeyFile != "":
		key, err := wire.LoadKeyFile(c.KeyFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, wire.WithKey(key))
	case c.Key != "":
		key, err := wire.ParseKey(c.Key)
		if err != nil {
			return nil, err
		}
		opts = append(opts, wire.WithKey(key))
	}
	if c.Compression {
		opts = append(opts, wire.WithCompression(c.Quality, c.Window))
	} else {
		opts = append(opts, wire.WithoutCompression())
	}
	if c.Checksum == "gsm" {
		opts = append(opts, wire.WithChecksum(wire.CRC16GSM))
	}
	if c.MaxDecompressed > 0 {
		opts = append(opts, wire.WithMaxDecompressed(c.MaxDecompressed))
	}
	return wire.NewCodec(opts...), nil
}

func startIntake(c config.ResultsConfig, orch *orchestrator.Orchestrator, log *zap.Logger) (*resultIntake, error) {
	path, cleanup, err := determineSocketPath(c.Socket)
	if err != nil {
		return nil, err
	}
	intake, err := listenResults(path, orch, log)
	if err != nil {
		cleanup()
		return nil, err
	}
	intake.cleanup = cleanup
	if c.MaxConnections > 0 {
		intake.maxConns = c.MaxConnections
	}
	if c.ReadTimeout > 0 {
		intake.readTimeout = c.ReadTimeout
	}
	go intake.serve()
	return intake, nil
}
