// Package lyrics reads and writes timed lyric files ([mm:ss.xx]text).
package lyrics

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"stemquina/pkg/syncindex"
)

var (
	lineRe  = regexp.MustCompile(`\[(\d+):(\d+\.\d+)\](.*)`)
	stampRe = regexp.MustCompile(`\[.*?\]`)
)

// Parse returns the timed lines in file order. Lines without a stamp are
// skipped.
func Parse(r io.Reader) ([]syncindex.Event, error) {
	var out []syncindex.Event
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		m := lineRe.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		mins, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		sec, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		out = append(out, syncindex.Event{
			Ms:   (float64(mins)*60 + sec) * 1000,
			Text: strings.TrimSpace(m[3]),
		})
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read lyrics: %w", err)
	}
	return out, nil
}

// ParseFile parses path. A missing file yields no lines and no error.
func ParseFile(path string) ([]syncindex.Event, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Write stores text verbatim, trimmed of surrounding whitespace.
func Write(path, text string) error {
	return os.WriteFile(path, []byte(strings.TrimSpace(text)), 0o644)
}

// Read returns the raw file text ("" when absent).
func Read(path string) (string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return string(b), err
}

// FormatMs renders ms as a [mm:ss.xx] stamp. Rounding to hundredths
// happens before the minute split so seconds never read 60.00.
func FormatMs(ms float64) string {
	cs := int64(math.Round(math.Max(0, ms) / 10))
	return fmt.Sprintf("[%02d:%02d.%02d]", cs/6000, cs%6000/100, cs%100)
}

// Stamp replaces the first stamp of a line that starts with one, or
// prefixes a new stamp.
func Stamp(line string, ms float64) string {
	st := FormatMs(ms)
	if strings.HasPrefix(line, "[") {
		if loc := stampRe.FindStringIndex(line); loc != nil {
			return line[:loc[0]] + st + line[loc[1]:]
		}
	}
	return st + line
}

// StampLine stamps line n (0-based) of text.
func StampLine(text string, n int, ms float64) (string, error) {
	lines := strings.Split(text, "\n")
	if n < 0 || n >= len(lines) {
		return text, fmt.Errorf("line %d out of range", n)
	}
	lines[n] = Stamp(lines[n], ms)
	return strings.Join(lines, "\n"), nil
}
