package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/netutil"

	"rshare/internal/auth"
	"rshare/internal/certs"
	"rshare/internal/config"
	"rshare/internal/credential"
	"rshare/internal/httpserver"
	"rshare/internal/logging"
	"rshare/internal/netx"
	"rshare/internal/store"
)

const shutdownGrace = 30 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "passwd" {
		os.Exit(passwdCmd(os.Args[2:], os.Stdout, os.Stderr))
	}
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "rshare: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	flags.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	password, err := credential.Ensure(cfg.CredentialFile, func() (string, error) {
		return credential.Prompt(os.Stdout, int(os.Stdin.Fd()))
	})
	if err != nil {
		return fmt.Errorf("password: %w", err)
	}
	secret, err := auth.NewSecret(password)
	if err != nil {
		return fmt.Errorf("password: %w", err)
	}
	sessions, err := auth.NewMarkerSessions(secret)
	if err != nil {
		return err
	}

	st, err := store.New(cfg.StoreDir, cfg.StatePath())
	if err != nil {
		return err
	}

	lanIP, err := netx.LocalIP()
	if err != nil {
		logger.Warn(ctx, "lan address unknown", "err", err)
	}
	host := netx.HostOr(lanIP, "localhost")
	_, port, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return fmt.Errorf("addr: %w", err)
	}

	scheme := "http"
	var tlsCfg *tls.Config
	if cfg.TLS {
		scheme = "https"
		created, err := certs.Ensure(cfg.CertFile, cfg.KeyFile, []string{"localhost", "127.0.0.1", netx.HostOr(lanIP, "")})
		if err != nil {
			return fmt.Errorf("certificates: %w", err)
		}
		if created {
			logger.Info(ctx, "generated self-signed certificate", "cert", cfg.CertFile, "key", cfg.KeyFile)
		}
		if tlsCfg, err = certs.Load(cfg.CertFile, cfg.KeyFile); err != nil {
			return err
		}
	}
	shareURL := fmt.Sprintf("%s://%s/login", scheme, net.JoinHostPort(host, port))

	srv, err := httpserver.New(httpserver.Options{
		Config:   cfg,
		Store:    st,
		Sessions: sessions,
		Throttle: auth.NewThrottle(cfg.LoginMaxFailures, cfg.LoginLockout.Std()),
		Logger:   logger,
		ShareURL: shareURL,
	})
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConns)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}

	printBanner(os.Stdout, scheme, port, shareURL)
	logger.Info(ctx, "rshare listening", "addr", cfg.Addr, "store", st.Dir(), "tls", cfg.TLS, "dav", cfg.DAV)

	httpSrv := &http.Server{
		Handler: srv.Handler(),
		// No read/write timeouts: large transfers may take as long as they take.
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Slog().Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down", "grace", shutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type cliFlags struct {
	configPath string
	addr       string
	store      string
	noTLS      bool
	set        map[string]bool
}

func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("rshare", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to config json (optional)")
	fs.StringVar(&f.addr, "addr", "", "listen address (default 0.0.0.0:8080)")
	fs.StringVar(&f.store, "store", "", "directory holding shared files (default uploads)")
	fs.BoolVar(&f.noTLS, "no-tls", false, "serve plain HTTP")
	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	if fs.NArg() > 0 {
		return cliFlags{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	f.set = map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

// apply overrides cfg with the flags given on the command line only.
func (f cliFlags) apply(cfg *config.Config) {
	if f.set["addr"] {
		cfg.Addr = f.addr
	}
	if f.set["store"] {
		cfg.StoreDir = f.store
	}
	if f.set["no-tls"] && f.noTLS {
		cfg.TLS = false
	}
}

func passwdCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("passwd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		password = fs.String("p", "", "password (required)")
		cost     = fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *password == "" {
		fmt.Fprintln(stderr, "usage: rshare passwd -p <password> [-cost n]")
		return 2
	}
	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		fmt.Fprintf(stderr, "invalid cost %d (min=%d max=%d)\n", *cost, bcrypt.MinCost, bcrypt.MaxCost)
		return 2
	}
	h, err := bcrypt.GenerateFromPassword([]byte(*password), *cost)
	if err != nil {
		fmt.Fprintf(stderr, "bcrypt: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(h))
	return 0
}
