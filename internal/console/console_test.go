package console

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/iplchat/internal/broker"
	"github.com/kindlyrobotics/iplchat/internal/config"
	"github.com/kindlyrobotics/iplchat/internal/session"
	"github.com/kindlyrobotics/iplchat/internal/store"
)

func testConsole(t *testing.T) *Console {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DatabasePath = dir
	cfg.DatabaseName = "console-test.db"
	cfg.SnapshotPath = filepath.Join(dir, "snapshots")

	engine, err := store.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	b := broker.New(cfg, session.New(), engine)
	return New(b, engine, cfg, filepath.Join(dir, "config.env"))
}

func TestHelpListsEveryCommand(t *testing.T) {
	c := testConsole(t)
	out := c.Eval("help")
	for _, name := range []string{"help", "stop", "clear", "clients", "snapshot", "snapshot-load", "snapshot-revert", "snapshot-list", "log", "config", "license"} {
		assert.Contains(t, out, name)
	}
}

func TestClientsWithNoneConnected(t *testing.T) {
	c := testConsole(t)
	assert.Equal(t, "no clients connected", c.Eval("clients"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := testConsole(t)
	out := c.Eval("snapshot")
	assert.Contains(t, out, "saved snapshot")

	listOut := c.Eval("snapshot-list")
	assert.NotEqual(t, "no snapshots", listOut)

	assert.Contains(t, c.Eval("snapshot-load "+listOut), "loaded snapshot")
	assert.Contains(t, c.Eval("snapshot-revert"), "reverted")
}

func TestSnapshotLoadUnknownName(t *testing.T) {
	c := testConsole(t)
	out := c.Eval("snapshot-load nope")
	assert.Contains(t, out, "load failed")
}

func TestSnapshotRevertWithoutPriorLoad(t *testing.T) {
	c := testConsole(t)
	out := c.Eval("snapshot-revert")
	assert.Contains(t, out, "revert failed")
}

func TestWrongArityReportsUsage(t *testing.T) {
	c := testConsole(t)
	out := c.Eval("snapshot-load")
	assert.Equal(t, "usage: snapshot-load <name>", out)
}

func TestConfigPrintsActiveSettings(t *testing.T) {
	c := testConsole(t)
	out := c.Eval("config")
	assert.Contains(t, out, "listenAddress=")
	assert.Contains(t, out, "snapshotBacklog=")
}

func TestLicensePrintsSomething(t *testing.T) {
	c := testConsole(t)
	assert.NotEmpty(t, c.Eval("license"))
}

func TestLogReportsPendingCount(t *testing.T) {
	c := testConsole(t)
	assert.Contains(t, c.Eval("log"), "0 message(s) pending flush")
}

// TestUnknownCommandWithinThresholdSuggests checks the spec §8 fuzzy
// boundary: an edit distance within suggestionThreshold of a real command
// offers that command as a suggestion.
func TestUnknownCommandWithinThresholdSuggests(t *testing.T) {
	c := testConsole(t)
	out := c.Eval("hlp")
	assert.Contains(t, out, `did you mean "help"`)
}

// TestUnknownCommandBeyondThresholdHasNoSuggestion checks the other side
// of the same boundary: distance >= 4 yields a bare "unknown command".
func TestUnknownCommandBeyondThresholdHasNoSuggestion(t *testing.T) {
	c := testConsole(t)
	out := c.Eval("xyzzyplugh")
	assert.Equal(t, "unknown command", out)
}

func TestStopClosesStopSignal(t *testing.T) {
	c := testConsole(t)
	select {
	case <-c.StopSignal():
		t.Fatal("stop signal closed before stop ran")
	default:
	}
	c.Eval("stop")
	select {
	case <-c.StopSignal():
	default:
		t.Fatal("stop signal not closed after stop ran")
	}
}

func TestRunStopsOnStopCommand(t *testing.T) {
	c := testConsole(t)
	in := strings.NewReader("help\nstop\nclients\n")
	var out strings.Builder
	c.Run(in, &out)
	assert.Contains(t, out.String(), "stopping...")
	assert.NotContains(t, out.String(), "no clients connected")
}
