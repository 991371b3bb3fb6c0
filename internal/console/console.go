// Package console is the interactive REPL that drives a modulehost.Host:
// load a module, invoke its reducers, and watch the incremental updates
// its subscriptions produce.
//
// Grounded on the teacher's internal/ui.Chat: a github.com/chzyer/readline
// instance with a colored prompt, a signal-handling goroutine that
// triggers a graceful shutdown, and a line-based command loop - adapted
// from a free-text, LLM-routed intent parser to a small fixed set of
// module-host commands, since this console has a handful of concrete
// verbs (load, call, subscribe) rather than open-ended conversation.
package console

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/vela-systems/reactorhost/internal/abi"
	"github.com/vela-systems/reactorhost/internal/dbupdate"
	"github.com/vela-systems/reactorhost/internal/energy"
	"github.com/vela-systems/reactorhost/internal/modulehost"
	"github.com/vela-systems/reactorhost/internal/storage"
	"github.com/vela-systems/reactorhost/internal/subscription"
)

// Console is the interactive REPL driving one modulehost.Host.
type Console struct {
	host *modulehost.Host

	rl     *readline.Instance
	ctx    context.Context
	cancel context.CancelFunc

	// defaultSub is the subscriber id used when a subscribe/unsubscribe
	// command names none, unique per console session so two consoles
	// attached to the same host never collide on a shared subscriber id.
	defaultSub subscription.SubscriberID

	shutdownOnce sync.Once
}

// New builds a Console around host. historyFile may be empty, in which
// case readline keeps no persistent history.
func New(host *modulehost.Host, historyFile string) (*Console, error) {
	ctx, cancel := context.WithCancel(context.Background())

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mreactor>\033[0m ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("console: readline: %w", err)
	}

	return &Console{
		host:       host,
		rl:         rl,
		ctx:        ctx,
		cancel:     cancel,
		defaultSub: subscription.SubscriberID(uuid.New().String()),
	}, nil
}

// Run starts the REPL loop; it returns when the user exits or stdin
// closes.
func (c *Console) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		c.shutdown()
	}()

	c.printWelcome()

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				break
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		if err := c.dispatch(line); err != nil {
			fmt.Printf("\033[31merror: %v\033[0m\n", err)
		}
	}

	c.shutdown()
	return nil
}

func (c *Console) printWelcome() {
	fmt.Println("reactorhost console - type `help` for commands")
}

func (c *Console) shutdown() {
	c.shutdownOnce.Do(func() {
		c.cancel()
		_ = c.rl.Close()
	})
}

func (c *Console) dispatch(line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		c.printHelp()
	case "load":
		return c.cmdLoad(args)
	case "call":
		return c.cmdCall(args)
	case "subscribe", "sub":
		return c.cmdSubscribe(args)
	case "unsubscribe", "unsub":
		return c.cmdUnsubscribe(args)
	case "describe":
		return c.cmdDescribe()
	default:
		return fmt.Errorf("unknown command %q (try `help`)", cmd)
	}
	return nil
}

func (c *Console) printHelp() {
	fmt.Print(`commands:
  load <path>              load a compiled guest module from disk
  call <reducer-id> [hex]  invoke a reducer, optionally with hex-encoded argument bytes
  subscribe [sub-id]       subscribe to every visible table (default: this session's own subscriber id)
  unsubscribe [sub-id]
  describe                 print the active module's schema blob size
  help
  exit
`)
}

func (c *Console) cmdLoad(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: load <path>")
	}
	if err := c.host.LoadModuleFile(c.ctx, args[0], abi.FuncNames{Version: abi.ImplementedABI}); err != nil {
		return err
	}
	fmt.Printf("loaded %s\n", args[0])
	return nil
}

func (c *Console) cmdCall(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: call <reducer-id> [hex-args]")
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("reducer id: %w", err)
	}

	var payload []byte
	if len(args) > 1 {
		payload, err = hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("args: %w", err)
		}
	}

	var identity [32]byte
	var address [16]byte
	stats, err := c.host.CallReducer(c.ctx, uint32(id), energy.DefaultReducerBudget, identity, address, uint64(time.Now().UnixMicro()), payload)
	if err != nil {
		return err
	}
	fmt.Printf("ok - energy used %d, remaining %d\n", stats.Used, stats.Remaining)
	return nil
}

func (c *Console) cmdSubscribe(args []string) error {
	subscriber := c.subscriberFor(args)
	auth := storage.AuthCtx{Caller: string(subscriber), Owner: string(subscriber)}
	update, err := c.host.SubscribeToAll(c.ctx, subscriber, auth)
	if err != nil {
		return err
	}
	fmt.Printf("subscribed as %q\n", subscriber)
	printUpdate(update)
	return nil
}

func (c *Console) cmdUnsubscribe(args []string) error {
	c.host.Unsubscribe(c.subscriberFor(args))
	return nil
}

func (c *Console) subscriberFor(args []string) subscription.SubscriberID {
	if len(args) > 0 {
		return subscription.SubscriberID(args[0])
	}
	return c.defaultSub
}

func (c *Console) cmdDescribe() error {
	blob, err := c.host.ExtractDescriptions(c.ctx)
	if err != nil {
		return err
	}
	fmt.Printf("schema blob: %d bytes\n", len(blob))
	return nil
}

func printUpdate(update dbupdate.DatabaseUpdate) {
	if update.IsEmpty() {
		fmt.Println("(no rows)")
		return
	}
	for _, t := range update.Tables {
		fmt.Printf("table %s (#%d): %d ops\n", t.TableName, t.TableID, len(t.Ops))
	}
}

// Dispatcher implements modulehost.Dispatcher, printing each incremental
// update to stdout as it arrives - the console's view of a push rather
// than a pull (spec §4.6's "server streams incremental updates").
type Dispatcher struct{}

// NewDispatcher returns a Dispatcher.
func NewDispatcher() Dispatcher { return Dispatcher{} }

// Dispatch implements modulehost.Dispatcher.
func (Dispatcher) Dispatch(subscriber subscription.SubscriberID, update dbupdate.DatabaseUpdate) {
	fmt.Printf("\n[update for %s]\n", subscriber)
	printUpdate(update)
}
