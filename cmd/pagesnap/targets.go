package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/root4loot/goutils/fileutil"
	"github.com/root4loot/goutils/sliceutil"
)

// gatherTargets collects targets from the arguments (comma separated values
// allowed), the list file and, when neither yields anything, stdin. Repeated
// targets are dropped; order is not preserved.
func gatherTargets(args []string, listFile string, stdin io.Reader) ([]string, error) {
	var targets []string
	for _, arg := range args {
		targets = append(targets, splitTargets(arg)...)
	}

	if listFile != "" {
		lines, err := fileutil.ReadFile(listFile)
		if err != nil {
			return nil, fmt.Errorf("error reading file: %w", err)
		}
		targets = append(targets, cleanLines(lines)...)
	}

	if len(targets) == 0 && hasStdin(stdin) {
		lines, err := readLines(stdin)
		if err != nil {
			return nil, fmt.Errorf("error reading stdin: %w", err)
		}
		targets = append(targets, lines...)
	}

	return sliceutil.Unique(targets), nil
}

func splitTargets(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return cleanLines(lines), scanner.Err()
}

// cleanLines skips blank lines and # comments.
func cleanLines(lines []string) []string {
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// hasStdin reports whether r is something other than an interactive terminal.
func hasStdin(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return r != nil
	}

	stat, err := f.Stat()
	if err != nil {
		return false
	}

	mode := stat.Mode()
	isPipedFromChrDev := (mode & os.ModeCharDevice) == 0
	isPipedFromFIFO := (mode & os.ModeNamedPipe) != 0

	return isPipedFromChrDev || isPipedFromFIFO
}
