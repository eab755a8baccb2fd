// Command fplf-controller runs the OpenFlow control-plane daemon: it
// loads a YAML config, seeds the host map and classification table,
// and serves switches until signalled.
//
// Usage:
//
//	fplf-controller -config controller.yaml [-verbose]
//
// Exit codes follow the rest of the retrieval pack's daemons
// (flywall-sim, tsnet): 0 when the controller stops on its own without
// error, 1 on a configuration error, 2 on an I/O error encountered
// while running, 130 after a shutdown triggered by SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ofcontrol/fplf/config"
	"github.com/ofcontrol/fplf/controller"
	"github.com/ofcontrol/fplf/internal/logging"
)

const (
	exitOK = iota
	exitConfigError
	exitIOError
	exitSignalled = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to controller YAML config")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "fplf-controller: -config is required")
		return exitConfigError
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fplf-controller: %v\n", err)
		return exitConfigError
	}

	log := logging.NewVerbose(*verbose)

	ctrl := controller.New(cfg, log)
	if err := ctrl.LoadState(); err != nil {
		fmt.Fprintf(os.Stderr, "fplf-controller: %v\n", err)
		return exitConfigError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalled := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("fplf-controller: shutting down")
		close(signalled)
		cancel()
	}()

	if err := ctrl.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fplf-controller: %v\n", err)
		return exitIOError
	}
	select {
	case <-signalled:
		return exitSignalled
	default:
		return exitOK
	}
}
