package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/chronologos/netkvm/internal/client"
	"github.com/chronologos/netkvm/internal/config"
	"github.com/chronologos/netkvm/internal/filecopy"
	"github.com/chronologos/netkvm/internal/input"
	"github.com/chronologos/netkvm/internal/protocol"
	"github.com/chronologos/netkvm/internal/screen"
	"github.com/chronologos/netkvm/internal/server"
	"github.com/chronologos/netkvm/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version", "--version":
		fmt.Println(version.String())
		return
	case "server":
		err = runServer(os.Args[2:])
	case "client":
		err = runClient(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s exited: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: netkvm server [--config f] [--listen addr] [--mouse dev] [--keyboard dev]")
	fmt.Fprintln(os.Stderr, "                     [--outbox dir] [--no-grab] [--log-level l] [--log-json]")
	fmt.Fprintln(os.Stderr, "       netkvm client [--config f] [--server addr] [--side left|right] [--mouse dev]")
	fmt.Fprintln(os.Stderr, "                     [--download-dir dir] [--log-level l] [--log-json]")
	fmt.Fprintln(os.Stderr, "       netkvm version")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "The server accepts clients until Enter is pressed (or SIGUSR1), then")
	fmt.Fprintln(os.Stderr, "shares its mouse across all screens. Files dropped in <outbox>/<id>/")
	fmt.Fprintln(os.Stderr, "are copied to client <id>.")
}

// commonFlags are accepted by both roles.
type commonFlags struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func (c *commonFlags) add(fs *pflag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML config file")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&c.logJSON, "log-json", false, "log as JSON instead of text")
}

// load reads the config file and applies the shared flags over it.
func (c *commonFlags) load(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = c.logLevel
	}
	if fs.Changed("log-json") {
		cfg.Log.JSON = c.logJSON
	}
	return cfg, nil
}

// finish expands paths set by flags and validates the result.
func finish(cfg *config.Config) error {
	if err := cfg.ExpandPaths(); err != nil {
		return err
	}
	return cfg.Validate()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	// Validate already restricted Level to names slog understands.
	_ = level.UnmarshalText([]byte(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// parse runs fs over args. A help request returns errHelp.
func parse(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errHelp
		}
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return nil
}

var errHelp = errors.New("help requested")

func runServer(args []string) error {
	var common commonFlags
	var listen, mouse, keyboard, outbox string
	var noGrab bool

	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	common.add(fs)
	fs.StringVar(&listen, "listen", "", fmt.Sprintf("TCP address to listen on (default :%d)", config.DefaultPort))
	fs.StringVar(&mouse, "mouse", "", "evdev mouse device, e.g. /dev/input/event3")
	fs.StringVar(&keyboard, "keyboard", "", "evdev keyboard device")
	fs.StringVar(&outbox, "outbox", "", "directory watched for files to copy (default ~/.netkvm/outbox)")
	fs.BoolVar(&noGrab, "no-grab", false, "do not take exclusive access to the physical devices")
	if err := parse(fs, args); err != nil {
		if errors.Is(err, errHelp) {
			return nil
		}
		return err
	}

	cfg, err := common.load(fs)
	if err != nil {
		return err
	}
	if fs.Changed("listen") {
		cfg.Server.Listen = listen
	}
	if fs.Changed("mouse") {
		cfg.Server.Mouse = mouse
	}
	if fs.Changed("keyboard") {
		cfg.Server.Keyboard = keyboard
	}
	if fs.Changed("outbox") {
		cfg.Server.Outbox = outbox
	}
	if noGrab {
		cfg.Server.Grab = false
	}
	if err := finish(cfg); err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dev, err := input.Open(input.Options{
		Mouse:    cfg.Server.Mouse,
		Keyboard: cfg.Server.Keyboard,
		Grab:     cfg.Server.Grab,
	})
	if err != nil {
		return err
	}
	defer dev.Close()

	requests, err := filecopy.Watch(ctx, cfg.Server.Outbox, logger)
	switch {
	case errors.Is(err, filecopy.ErrUnsupported):
		logger.Warn("file copy disabled", "error", err)
	case err != nil:
		return err
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	srv := server.New(server.Config{
		Addr:       cfg.Server.Listen,
		Device:     dev,
		Resolution: cfg.Server.Resolution.Screen(),
		Begin:      beginTrigger(ctx),
		Requests:   requests,
		Logger:     logger,
		OnAccept: func(id screen.ID) {
			if interactive {
				fmt.Fprintf(os.Stderr, "client %d connected; press Enter to begin\n", id)
			}
		},
		OnStart: func(arrangement []screen.Screen) {
			ids := make([]screen.ID, 0, len(arrangement))
			for _, s := range arrangement {
				ids = append(ids, s.ID)
			}
			if err := filecopy.EnsureScreenDirs(cfg.Server.Outbox, ids); err != nil {
				logger.Warn("create outbox directories", "error", err)
			}
		},
	})

	go func() {
		<-srv.Ready
		if interactive {
			fmt.Fprintf(os.Stderr, "listening on %s; waiting for clients, press Enter to begin\n", srv.Addr())
		}
	}()

	err = srv.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// beginTrigger returns a channel closed on the first line read from stdin
// or the first beginSignals delivery.
func beginTrigger(ctx context.Context) <-chan struct{} {
	begin := make(chan struct{})
	var once sync.Once
	fire := func() { once.Do(func() { close(begin) }) }

	if len(beginSignals) > 0 {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, beginSignals...)
		go func() {
			defer signal.Stop(sigCh)
			select {
			case <-sigCh:
				fire()
			case <-begin:
			case <-ctx.Done():
			}
		}()
	}

	// EOF (stdin is /dev/null under a service manager) leaves the signal
	// as the only trigger.
	go func() {
		if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err == nil {
			fire()
		}
	}()
	return begin
}

func runClient(args []string) error {
	var common commonFlags
	var serverAddr, side, mouse, downloadDir string

	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)
	common.add(fs)
	fs.StringVar(&serverAddr, "server", "", "server host:port")
	fs.StringVar(&side, "side", "", "where this screen sits: left or right of the server (default right)")
	fs.StringVar(&mouse, "mouse", "", "local evdev mouse device, e.g. /dev/input/event3")
	fs.StringVar(&downloadDir, "download-dir", "", "directory for copied files (default ~/Desktop)")
	if err := parse(fs, args); err != nil {
		if errors.Is(err, errHelp) {
			return nil
		}
		return err
	}

	cfg, err := common.load(fs)
	if err != nil {
		return err
	}
	if fs.Changed("server") {
		cfg.Client.Server = serverAddr
	}
	if fs.Changed("side") {
		cfg.Client.Side = side
	}
	if fs.Changed("mouse") {
		cfg.Client.Mouse = mouse
	}
	if fs.Changed("download-dir") {
		cfg.Client.DownloadDir = downloadDir
	}
	if err := finish(cfg); err != nil {
		return err
	}
	if cfg.Client.Server == "" {
		return errors.New("no server address: set --server or client.server")
	}
	clientSide, err := protocol.ParseSide(cfg.Client.Side)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Not grabbed: local input keeps working and is only observed.
	dev, err := input.Open(input.Options{Mouse: cfg.Client.Mouse})
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := os.MkdirAll(cfg.Client.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	c := client.New(client.Config{
		Addr:        cfg.Client.Server,
		Side:        clientSide,
		Device:      dev,
		Resolution:  cfg.Client.Resolution.Screen(),
		DownloadDir: cfg.Client.DownloadDir,
		Logger:      logger,
	})
	err = c.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
