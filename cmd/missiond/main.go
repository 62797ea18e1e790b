package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/flitsinc/mission-control/internal/config"
	"github.com/flitsinc/mission-control/internal/listener"
	"github.com/flitsinc/mission-control/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	if err := run(ctx, cfg, os.Stdout, hup); err != nil {
		stop()
		log.Fatalf("%v", err)
	}
}

// run serves until ctx is cancelled or a restart is requested on hup, then
// shuts down within cfg.ShutdownTimeout.
func run(ctx context.Context, cfg config.Config, out io.Writer, hup <-chan os.Signal) error {
	site, err := web.NewServer(cfg.RootDir, cfg.IndexPath)
	if err != nil {
		return err
	}
	defer site.Close()

	ln, err := listener.Listen(cfg.Addr(), cfg.MaxConns)
	if err != nil {
		return err
	}

	handler := site.Handler()
	if cfg.LogRequests {
		handler = web.LogRequests(handler, nil)
	}

	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		// "OPTIONS *" must still get the CORS headers.
		DisableGeneralOptionsHandler: true,
		BaseContext: func(_ net.Listener) context.Context {
			return serverCtx
		},
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		cfg.Port = tcpAddr.Port
	}
	printBanner(out, cfg)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(ln)
	}()

	handoff := &listener.Handoff{Listener: ln, Args: os.Args, Env: os.Environ(), Stdout: os.Stdout, Stderr: os.Stderr}
wait:
	for {
		select {
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("http server error: %w", err)
		case <-ctx.Done():
			break wait
		case <-hup:
			proc, err := handoff.Start()
			if err != nil {
				log.Printf("restart failed: %v", err)
				continue
			}
			log.Printf("handed listener to pid %d", proc.Pid)
			break wait
		}
	}

	color.New(color.FgYellow).Fprintln(out, "\n\nShutting down server...")
	serverCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	_ = httpServer.Close()
	return nil
}

func printBanner(out io.Writer, cfg config.Config) {
	title := color.New(color.FgGreen, color.Bold)
	link := color.New(color.FgCyan)

	title.Fprintln(out, "Mission Control Server Starting...")
	fmt.Fprintf(out, "Serving from: %s\n", cfg.RootDir)
	fmt.Fprintf(out, "Server running at: %s\n", link.Sprint(cfg.URL()))
	fmt.Fprintln(out, "Press Ctrl+C to stop the server")
}
