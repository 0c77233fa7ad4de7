// Package console implements the admin CLI (spec §4.8, SPEC_FULL §4.10):
// a line-oriented REPL over a fixed command table, with Levenshtein-based
// fuzzy suggestion when the typed command doesn't match exactly.
package console

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/kindlyrobotics/iplchat/internal/broker"
	"github.com/kindlyrobotics/iplchat/internal/config"
	"github.com/kindlyrobotics/iplchat/internal/crypto"
	"github.com/kindlyrobotics/iplchat/internal/logging"
	"github.com/kindlyrobotics/iplchat/internal/store"
)

// suggestionThreshold is the maximum edit distance at which an unknown
// command is offered a "did you mean" suggestion (spec §4.8, §8 boundary:
// distance ≥4 yields no suggestion).
const suggestionThreshold = 3

// Command is one console command entry: name, description, usage,
// required argument count, and the action it runs.
type Command struct {
	Name        string
	Description string
	Usage       string
	Arity       int
	Action      func(args []string) string
}

// Console drives the admin REPL against a broker, its persistence engine,
// and the active configuration.
type Console struct {
	commands   map[string]*Command
	order      []string
	b          *broker.Broker
	engine     *store.Engine
	cfg        *config.Config
	cfgPath    string
	log        *logging.Logger
	stopSignal chan struct{}
}

// New builds the standard command table wired to b, engine, and cfg.
// cfgPath is the file config reload re-reads.
func New(b *broker.Broker, engine *store.Engine, cfg *config.Config, cfgPath string) *Console {
	c := &Console{
		commands:   make(map[string]*Command),
		b:          b,
		engine:     engine,
		cfg:        cfg,
		cfgPath:    cfgPath,
		log:        logging.New("Console"),
		stopSignal: make(chan struct{}),
	}
	c.registerStandardCommands()
	c.log.Infof("admin console ready (%d commands)", len(c.order))
	return c
}

// StopSignal is closed when the `stop` command runs, for the caller to
// select on during graceful shutdown.
func (c *Console) StopSignal() <-chan struct{} {
	return c.stopSignal
}

func (c *Console) register(cmd *Command) {
	c.commands[cmd.Name] = cmd
	c.order = append(c.order, cmd.Name)
}

func (c *Console) registerStandardCommands() {
	c.register(&Command{
		Name: "help", Description: "list available commands", Usage: "help", Arity: 0,
		Action: func(args []string) string { return c.helpText() },
	})
	c.register(&Command{
		Name: "stop", Description: "shut down the server", Usage: "stop", Arity: 0,
		Action: func(args []string) string {
			close(c.stopSignal)
			return "stopping..."
		},
	})
	c.register(&Command{
		Name: "clear", Description: "clear the screen", Usage: "clear", Arity: 0,
		Action: func(args []string) string { return "\033[H\033[2J" },
	})
	c.register(&Command{
		Name: "clients", Description: "list connected clients", Usage: "clients", Arity: 0,
		Action: func(args []string) string { return c.clientsText() },
	})
	c.register(&Command{
		Name: "snapshot", Description: "save a database snapshot now", Usage: "snapshot", Arity: 0,
		Action: func(args []string) string {
			name, err := c.engine.SaveSnapshot()
			if err != nil {
				return fmt.Sprintf("snapshot failed: %v", err)
			}
			return fmt.Sprintf("saved snapshot %s", name)
		},
	})
	c.register(&Command{
		Name: "snapshot-load", Description: "load a saved snapshot", Usage: "snapshot-load <name>", Arity: 1,
		Action: func(args []string) string {
			if err := c.engine.LoadSnapshot(args[0]); err != nil {
				return fmt.Sprintf("load failed: %v", err)
			}
			return fmt.Sprintf("loaded snapshot %s", args[0])
		},
	})
	c.register(&Command{
		Name: "snapshot-revert", Description: "revert the most recent snapshot load", Usage: "snapshot-revert", Arity: 0,
		Action: func(args []string) string {
			if err := c.engine.RevertSnapshotLoad(); err != nil {
				return fmt.Sprintf("revert failed: %v", err)
			}
			return "reverted to the prior database state"
		},
	})
	c.register(&Command{
		Name: "snapshot-list", Description: "list saved snapshots", Usage: "snapshot-list", Arity: 0,
		Action: func(args []string) string {
			names, err := c.engine.ListSnapshots()
			if err != nil {
				return fmt.Sprintf("list failed: %v", err)
			}
			if len(names) == 0 {
				return "no snapshots"
			}
			return strings.Join(names, "\n")
		},
	})
	c.register(&Command{
		Name: "log", Description: "report pending write-queue depth", Usage: "log", Arity: 0,
		Action: func(args []string) string {
			return fmt.Sprintf("%d message(s) pending flush", c.engine.PendingMessageCount())
		},
	})
	c.register(&Command{
		Name: "config", Description: "print or reload the active configuration", Usage: "config [reload]", Arity: -1,
		Action: c.configAction,
	})
	c.register(&Command{
		Name: "license", Description: "print license information", Usage: "license", Arity: 0,
		Action: func(args []string) string { return licenseText },
	})
}

func (c *Console) configAction(args []string) string {
	if len(args) == 1 && args[0] == "reload" {
		reloaded, err := config.Load(c.cfgPath)
		if err != nil {
			return fmt.Sprintf("config reload failed: %v", err)
		}
		*c.cfg = *reloaded
		return "configuration reloaded"
	}
	if len(args) > 0 {
		return fmt.Sprintf("usage: config [reload]")
	}
	return c.configText()
}

func (c *Console) configText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "snapshotTimeout=%d\n", c.cfg.SnapshotTimeoutHours)
	fmt.Fprintf(&sb, "snapshotPath=%s\n", c.cfg.SnapshotPath)
	fmt.Fprintf(&sb, "snapshotBacklog=%d\n", c.cfg.SnapshotBacklog)
	fmt.Fprintf(&sb, "databasePath=%s\n", c.cfg.DatabasePath)
	fmt.Fprintf(&sb, "databaseName=%s\n", c.cfg.DatabaseName)
	fmt.Fprintf(&sb, "databaseBufferedAccess=%t\n", c.cfg.DatabaseBufferedAccess)
	fmt.Fprintf(&sb, "databaseQueueSize=%d\n", c.cfg.DatabaseQueueSize)
	fmt.Fprintf(&sb, "databaseFlushTimeout=%d\n", c.cfg.DatabaseFlushMinutes)
	fmt.Fprintf(&sb, "randomRateLimit=%t\n", c.cfg.RandomRateLimit)
	fmt.Fprintf(&sb, "rateLimit=%d\n", c.cfg.RateLimitSeconds)
	fmt.Fprintf(&sb, "rateLimitMultiplier=%s\n", strconv.FormatFloat(c.cfg.RateLimitMultiplier, 'f', -1, 64))
	fmt.Fprintf(&sb, "logfilePath=%s\n", c.cfg.LogfilePath)
	fmt.Fprintf(&sb, "logVerbose=%t\n", c.cfg.LogVerbose)
	fmt.Fprintf(&sb, "autosave=%t\n", c.cfg.Autosave)
	fmt.Fprintf(&sb, "listenAddress=%s", c.cfg.ListenAddress)
	return sb.String()
}

func (c *Console) clientsText() string {
	sessions := c.b.Registry().Snapshot()
	if len(sessions) == 0 {
		return "no clients connected"
	}
	var sb strings.Builder
	for i, s := range sessions {
		if i > 0 {
			sb.WriteByte('\n')
		}
		username := s.Username
		if username == "" {
			username = "(unauthenticated)"
		}
		fingerprint := "-"
		if len(s.PeerPublicKey) > 0 {
			fingerprint = crypto.Fingerprint(s.PeerPublicKey)
		}
		fmt.Fprintf(&sb, "%s\t%s\t%s", s.StreamID, username, fingerprint)
	}
	return sb.String()
}

func (c *Console) helpText() string {
	names := append([]string(nil), c.order...)
	sort.Strings(names)
	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteByte('\n')
		}
		cmd := c.commands[name]
		fmt.Fprintf(&sb, "%-16s %s", cmd.Usage, cmd.Description)
	}
	return sb.String()
}

const licenseText = "iplchat-server is provided as-is, without warranty of any kind."

// Run reads lines from in until EOF or the stop command runs, writing
// each command's result to out.
func (c *Console) Run(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := normalizeWhitespace(scanner.Text())
		if line == "" {
			continue
		}
		fmt.Fprintln(out, c.Eval(line))

		select {
		case <-c.stopSignal:
			return
		default:
		}
	}
}

// Eval runs one already-tokenizable line and returns its output, without
// driving the read loop. Exposed for tests and for embedding the console
// in another UI.
func (c *Console) Eval(line string) string {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return ""
	}
	name, args := tokens[0], tokens[1:]

	cmd, ok := c.commands[name]
	if !ok {
		return c.suggest(name)
	}
	if cmd.Arity >= 0 && len(args) != cmd.Arity {
		return fmt.Sprintf("usage: %s", cmd.Usage)
	}
	return cmd.Action(args)
}

func (c *Console) suggest(token string) string {
	best := ""
	bestDist := suggestionThreshold + 1
	for _, name := range c.order {
		d := levenshtein(token, name)
		if d < bestDist {
			bestDist, best = d, name
		}
	}
	if bestDist <= suggestionThreshold {
		cmd := c.commands[best]
		return fmt.Sprintf("unknown command %q — did you mean %q? (%s)", token, best, cmd.Usage)
	}
	return "unknown command"
}

func normalizeWhitespace(line string) string {
	return strings.Join(strings.Fields(line), " ")
}
