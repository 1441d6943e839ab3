// Command nsmesh is a peer-to-peer directory-and-chat node: it joins a
// family rooted at a Surname Server, serves and resolves directory
// lookups for its family, and carries one chat session at a time over
// TCP.
//
// Lifecycle: parse arguments, configure logging, optionally start the
// admin API in its own goroutine, run the main loop until a signal or
// an `exit` command winds it down, then shut everything back down in
// reverse order.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jroosing/nsmesh/internal/adminapi"
	"github.com/jroosing/nsmesh/internal/cli"
	"github.com/jroosing/nsmesh/internal/config"
	"github.com/jroosing/nsmesh/internal/engine"
	"github.com/jroosing/nsmesh/internal/logging"
	"github.com/jroosing/nsmesh/internal/loop"
	"github.com/jroosing/nsmesh/internal/status"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, code := cli.ParseArgs(args)
	if code != cli.ExitOK {
		return code
	}
	if cfg.Name == "" {
		// ParseArgs returned ExitOK for a bare -h/--help invocation.
		return cli.ExitOK
	}

	log := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})
	log.Logger.Info("nsmesh starting",
		"name", cfg.FullName(),
		"ip", cfg.IP,
		"talk_port", cfg.TalkPort,
		"dns_port", cfg.DNSPort,
		"ss_addr", cfg.SSAddr,
	)

	self, err := engine.NewSelf(cfg.FullName(), cfg.IP, cfg.TalkPort, cfg.DNSPort, cfg.SSAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nsmesh:", err)
		return cli.ExitArgError
	}

	eng := engine.New(self)
	counters := &status.Counters{}
	startedAt := time.Now()

	l, err := loop.New(eng, log, counters, os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nsmesh:", err)
		return cli.ExitFatalOS
	}

	var adminSrv *adminapi.Server
	if cfg.Admin.Enabled {
		adminSrv = adminapi.New(cfg.Admin.Host, cfg.Admin.Port, eng, counters, startedAt, log.Logger)
		log.Logger.Info("admin api starting", "addr", adminSrv.Addr())
		go func() {
			if serveErr := adminSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				log.Logger.Error("admin api error", "err", serveErr)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runErr := l.Run(ctx)

	if adminSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = adminSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, "nsmesh:", runErr)
		return cli.ExitFatalOS
	}
	return cli.ExitOK
}
