// Command ednad is the Emulator Daemon for NFC Applications: it binds
// the rendezvous socket, brings the configured reader into
// card-emulation mode, and dispatches C-APDUs to whichever registered
// client owns the selected AID.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/op/go-logging"
	"github.com/urfave/cli"

	"edna.io/edna/internal/config"
	"edna.io/edna/internal/daemonize"
	"edna.io/edna/internal/ednalog"
	"edna.io/edna/internal/engine"
	"edna.io/edna/internal/hwchannel"
	"edna.io/edna/internal/registry"
)

const version = "1.0.0"

const (
	defaultConfigPath  = "/etc/edna.conf"
	defaultPIDFile     = "/var/run/edna.pid"
	defaultSocketPath  = "/tmp/edna-comm"
	defaultATQ         = 0x0004
	defaultSAK         = 0x28
)

func useSyslog() bool {
	env := os.Getenv("EDNA_LOG_SYSLOG")
	if env != "" {
		return env == "true"
	}
	return true
}

var log = ednalog.Setup("ednad", logging.INFO, useSyslog(), true)

func main() {
	app := cli.NewApp()
	app.Name = "ednad"
	app.Usage = "Emulator Daemon for NFC Applications"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "f",
			Usage: "run in the foreground, logging to stderr as well (the daemon never forks)",
		},
		cli.StringFlag{
			Name:  "c",
			Usage: fmt.Sprintf("use <config> as configuration file (default: %s)", defaultConfigPath),
		},
		cli.StringFlag{
			Name:  "p",
			Usage: fmt.Sprintf("specify the PID file to write the daemon process ID to (default: %s)", defaultPIDFile),
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	defer func() {
		if x := recover(); x != nil {
			log.Errorf("run time panic: %v", x)
			panic(x)
		}
	}()

	// Re-configure logging now that -f is known: a supervised instance
	// (no -f) logs to syslog only, while a foreground instance also gets
	// the colorized stderr backend even when syslog is reachable.
	log = ednalog.Setup("ednad", logging.INFO, useSyslog(), c.Bool("f"))

	log.Notice(ednalog.Cyan(fmt.Sprintf("Starting the Emulator Daemon for NFC Applications (edna) version %s", version)))

	configPath := c.String("c")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		if os.IsNotExist(err) && c.String("c") == "" {
			log.Warningf("configuration file %s not found, using defaults", configPath)
			cfg = config.Default()
		} else {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
	}

	// Apply the configured log level and syslog choice; EDNA_LOG_LEVEL and
	// EDNA_LOG_SYSLOG, when set, still take precedence over them.
	trySyslog := cfg.GetBool("log", "syslog", true)
	if env := os.Getenv("EDNA_LOG_SYSLOG"); env != "" {
		trySyslog = env == "true"
	}
	log = ednalog.Setup("ednad", ednalog.LevelFromString(cfg.GetString("log", "level", "INFO")), trySyslog, c.Bool("f"))

	pidPath := c.String("p")
	if pidPath == "" {
		pidPath = cfg.GetString("daemon", "pidfile", defaultPIDFile)
	}
	pidFile, err := daemonize.WritePIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("failed to write pidfile: %w", err)
	}
	defer pidFile.Close()

	if !c.Bool("f") && cfg.GetBool("daemon", "fork", true) {
		log.Notice("daemon.fork is set; expecting to be run under a process supervisor rather than forking directly")
	}

	readerName := cfg.GetString("emulation", "reader", "")
	if readerName == "" {
		return fmt.Errorf("no smart card reader configured, giving up")
	}

	engineCfg := engine.Config{
		Reader:           readerName,
		ATQ:              uint16(cfg.GetInt("emulation", "atq", defaultATQ)),
		SAK:              byte(cfg.GetInt("emulation", "sak", defaultSAK)),
		CmdDelay:         time.Duration(cfg.GetInt("emulation", "cmd_delay", 0)) * time.Millisecond,
		DelaySuccessOnly: cfg.GetBool("emulation", "delay_success_only", false),
	}

	srv, err := registry.Listen(defaultSocketPath, log)
	if err != nil {
		return fmt.Errorf("failed to bind rendezvous socket: %w", err)
	}
	go srv.Serve()

	hc, err := hwchannel.Open(readerName)
	if err != nil {
		srv.Shutdown()
		return fmt.Errorf("failed to connect to PC/SC reader %s: %w", readerName, err)
	}
	log.Infof("connected to PC/SC reader %s", readerName)

	eng := engine.New(hc, srv, engineCfg, log)

	engineErr := make(chan error, 1)
	go func() {
		engineErr <- eng.Run()
	}()

	stop := daemonize.WatchSignals(log, func() {
		eng.Cancel()
	})

	select {
	case <-stop:
		eng.Cancel()
		<-engineErr
	case err := <-engineErr:
		if err != nil {
			log.Errorf("emulation engine exited: %v", err)
		}
	}

	srv.Shutdown()

	log.Notice(ednalog.Green(fmt.Sprintf("The Emulator Daemon for NFC Applications (edna) version %s has now stopped", version)))
	return nil
}
