// reactorhost is a sandboxed WASM module host: load a compiled guest
// module, call its reducers, and watch the incremental updates its
// subscriptions produce.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/vela-systems/reactorhost/internal/abi"
	"github.com/vela-systems/reactorhost/internal/compilecache"
	"github.com/vela-systems/reactorhost/internal/console"
	"github.com/vela-systems/reactorhost/internal/modulehost"
	"github.com/vela-systems/reactorhost/internal/storage/sqlitedb"
)

const version = "0.1.0"

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version")
		dbPath      = flag.String("db", "reactorhost.db", "sqlite database path")
		modulePath  = flag.String("module", "", "path to a compiled guest module to load at startup")
		debug       = flag.Bool("debug", false, "enable debug logging")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `reactorhost v%s - sandboxed module host

Usage: reactorhost [options]

Options:
`, version)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  reactorhost --db ./app.db --module ./module.wasm
  reactorhost                 start against an empty database, load a module from the console

Console commands once running: help, load, call, subscribe, unsubscribe, describe, exit
`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("reactorhost v%s\n", version)
		return
	}

	if err := run(*dbPath, *modulePath, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath, modulePath string, debug bool) error {
	log, err := newLogger(debug)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	db, err := sqlitedb.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	cache, err := compilecache.New(32)
	if err != nil {
		return err
	}

	ctx := context.Background()
	host, err := modulehost.New(ctx, cache, db, db, console.NewDispatcher(), log)
	if err != nil {
		return err
	}
	defer host.Close(ctx)

	if modulePath != "" {
		if err := host.LoadModuleFile(ctx, modulePath, abi.FuncNames{Version: abi.ImplementedABI}); err != nil {
			return err
		}
	}

	c, err := console.New(host, ".reactorhost_history")
	if err != nil {
		return err
	}
	return c.Run()
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
