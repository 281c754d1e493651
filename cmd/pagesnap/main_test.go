package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root4loot/pagesnap/pkg/screener"
	"github.com/root4loot/pagesnap/pkg/screener/screenertest"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

type run struct {
	out    string
	errOut string
	err    error
}

func execute(t *testing.T, driver screener.Driver, stdin string, args ...string) run {
	t.Helper()
	t.Setenv("BROWSER_CDP_URL", "")
	t.Setenv("PAGESNAP_OUTPUT_DIR", "")

	cmd := newRootCmdFor(&app{driver: driver})
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))

	base := []string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "--silence"}
	cmd.SetArgs(append(base, args...))
	err := cmd.Execute()
	return run{out: out.String(), errOut: errOut.String(), err: err}
}

func captureArgs(outDir string, extra ...string) []string {
	return append([]string{"capture", "-o", outDir, "--settle-delay", "0", "--idle-timeout", "10ms"}, extra...)
}

func TestCaptureTargetsFromArgs(t *testing.T) {
	driver := screenertest.NewDriver("fake")
	outDir := t.TempDir()

	r := execute(t, driver, "", captureArgs(outDir, "a.example,b.example", "https://c.example/page")...)
	require.NoError(t, r.err)

	assert.Contains(t, r.out, "✓ https://a.example/")
	assert.Contains(t, r.out, "✓ https://b.example/")
	assert.Contains(t, r.out, "✓ https://c.example/page")
	assert.Equal(t, 3, driver.Count(screenertest.OpScreenshot))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestCaptureTargetsFromStdin(t *testing.T) {
	driver := screenertest.NewDriver("fake")

	r := execute(t, driver, "a.example\n# skipped\n\nb.example\na.example\n", captureArgs(t.TempDir())...)
	require.NoError(t, r.err)

	assert.Equal(t, 2, driver.Count(screenertest.OpScreenshot))
	assert.Equal(t, 2, strings.Count(r.out, "✓"))
}

func TestCaptureTargetsFromList(t *testing.T) {
	driver := screenertest.NewDriver("fake")
	list := filepath.Join(t.TempDir(), "targets.txt")
	require.NoError(t, os.WriteFile(list, []byte("a.example\n# staging\n\nb.example\na.example\n"), 0o644))

	r := execute(t, driver, "", captureArgs(t.TempDir(), "-l", list, "-c", "2")...)
	require.NoError(t, r.err)
	assert.Equal(t, 2, driver.Count(screenertest.OpScreenshot))
}

func TestCaptureAppliesFlags(t *testing.T) {
	driver := screenertest.NewDriver("fake")

	r := execute(t, driver, "", captureArgs(t.TempDir(),
		"--width", "800", "--height", "600", "--scale", "1.5", "--cdp-url", "ws://chrome:9222/devtools/browser/x",
		"https://example.com")...)
	require.NoError(t, r.err)

	cfg := driver.SessionConfig()
	assert.Equal(t, 800, cfg.Width)
	assert.Equal(t, 600, cfg.Height)
	assert.Equal(t, "ws://chrome:9222/devtools/browser/x", cfg.Endpoint)
	assert.Equal(t, 1.5, driver.Metrics().DeviceScaleFactor)
}

func TestCaptureJSONFailure(t *testing.T) {
	driver := screenertest.NewDriver("fake")
	driver.Fail[screenertest.OpNavigate] = errors.New("net::ERR_NAME_NOT_RESOLVED")

	r := execute(t, driver, "", captureArgs(t.TempDir(), "--json", "nope.invalid")...)
	require.Error(t, r.err)
	assert.Equal(t, "1 of 1 captures failed", r.err.Error())

	var line reportLine
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(r.out)), &line))
	assert.Equal(t, "nope.invalid", line.Target)
	assert.Equal(t, "failure", line.Outcome)
	assert.Contains(t, line.Error, "net::ERR_NAME_NOT_RESOLVED")
	assert.Equal(t, "the host name could not be resolved", line.Hint)
	assert.Equal(t, 1, driver.Count(screenertest.OpNavigate))
}

func TestCaptureProgress(t *testing.T) {
	driver := screenertest.NewDriver("fake")

	r := execute(t, driver, "", captureArgs(t.TempDir(), "--progress", "https://example.com")...)
	require.NoError(t, r.err)
	assert.Contains(t, r.errOut, "[https://example.com] "+screener.StepStartSession)
}

func TestCaptureWithoutTargets(t *testing.T) {
	r := execute(t, screenertest.NewDriver("fake"), "", captureArgs(t.TempDir())...)
	require.Error(t, r.err)
	assert.Equal(t, "no targets given", r.err.Error())
}

func TestCaptureRejectsInvalidConfig(t *testing.T) {
	driver := screenertest.NewDriver("fake")

	r := execute(t, driver, "", captureArgs(t.TempDir(), "--width", "0", "example.com")...)
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "invalid configuration")
	assert.Empty(t, driver.Calls())
}

func TestVersion(t *testing.T) {
	r := execute(t, nil, "", "version")
	require.NoError(t, r.err)
	assert.Equal(t, "pagesnap "+version+"\n", r.out)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagesnap.yaml")

	r := execute(t, nil, "", "config", "init", "--config", path)
	require.NoError(t, r.err)
	assert.FileExists(t, path)

	r = execute(t, nil, "", "config", "show", "--config", path)
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "driver: rod")
	assert.Contains(t, r.out, "idle_timeout: 15s")
}

func TestSplitTargets(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitTargets(" a, b ,,c "))
	assert.Empty(t, splitTargets(" , "))
}

func TestCaptureScope(t *testing.T) {
	driver := screenertest.NewDriver("fake")

	r := execute(t, driver, "", captureArgs(t.TempDir(),
		"--exclude", "admin.example.com", "www.example.com", "admin.example.com")...)
	require.NoError(t, r.err)

	assert.Contains(t, r.out, "✓ https://www.example.com/")
	assert.NotContains(t, r.out, "admin.example.com")
	assert.Equal(t, 1, driver.Count(screenertest.OpScreenshot))
}

func TestCaptureInclude(t *testing.T) {
	driver := screenertest.NewDriver("fake")

	r := execute(t, driver, "", captureArgs(t.TempDir(),
		"--include", "*.example.com", "www.example.com", "example.org")...)
	require.NoError(t, r.err)
	assert.Equal(t, 1, driver.Count(screenertest.OpScreenshot))
	assert.Equal(t, "https://www.example.com/", driver.URL())
}

func TestCaptureRejectsInvalidScope(t *testing.T) {
	driver := screenertest.NewDriver("fake")

	r := execute(t, driver, "", captureArgs(t.TempDir(), "--exclude", "not a host", "example.com")...)
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "--exclude")
	assert.Empty(t, driver.Calls())
}

func TestImprintFlagUsage(t *testing.T) {
	cmd := newCaptureCmd(&app{})
	flag := cmd.Flags().Lookup("imprint")
	require.NotNil(t, flag)
	assert.Equal(t, "print the URL below the screenshot", flag.Usage)
}

func TestGatherTargetsDropsRepeats(t *testing.T) {
	list := filepath.Join(t.TempDir(), "targets.txt")
	require.NoError(t, os.WriteFile(list, []byte("b.example\n  # note\na.example\n"), 0o644))

	targets, err := gatherTargets([]string{"a.example,c.example"}, list, nil)
	require.NoError(t, err)
	sort.Strings(targets)
	assert.Equal(t, []string{"a.example", "b.example", "c.example"}, targets)

	_, err = gatherTargets(nil, filepath.Join(t.TempDir(), "missing.txt"), nil)
	assert.ErrorContains(t, err, "error reading file")
}
