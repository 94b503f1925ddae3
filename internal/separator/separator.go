// Package separator drives an external stem separator (demucs) and files
// its output into the song library.
package separator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"stemquina/internal/codec"
	"stemquina/pkg/spec"

	"github.com/dustin/go-humanize"
)

// Runner executes one separator invocation.
type Runner func(ctx context.Context, name string, args ...string) error

type Separator struct {
	Command []string
	Model   string
	Bitrate int
	Library string
	TempDir string

	Run Runner
	Out io.Writer
}

func New(command, model, library, temp string) *Separator {
	return &Separator{
		Command: strings.Fields(command),
		Model:   model,
		Bitrate: 256,
		Library: library,
		TempDir: temp,
		Run:     execRunner,
		Out:     os.Stdout,
	}
}

// execRunner runs the separator at low CPU priority where nice exists.
func execRunner(ctx context.Context, name string, args ...string) error {
	var cmd *exec.Cmd
	if runtime.GOOS != "windows" {
		cmd = exec.CommandContext(ctx, "nice", append([]string{"-n", "15", name}, args...)...)
	} else {
		cmd = exec.CommandContext(ctx, name, args...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
			msg = msg[i+1:]
		}
		if msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// SongName is the library directory name for a source file.
func SongName(src string) string {
	base := filepath.Base(src)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (s *Separator) args(src string) (string, []string) {
	args := append([]string(nil), s.Command[1:]...)
	args = append(args,
		"--mp3", "--mp3-bitrate", strconv.Itoa(s.Bitrate),
		"-o", s.TempDir,
		"-n", s.Model,
		src,
	)
	return s.Command[0], args
}

// Process separates one file into <library>/<song>/stems and copies the
// source next to them. It returns the stems that were filed.
func (s *Separator) Process(ctx context.Context, src string) ([]string, error) {
	if len(s.Command) == 0 {
		return nil, errors.New("no separator command")
	}
	name := SongName(src)
	songDir := filepath.Join(s.Library, name)
	stemsDir := filepath.Join(songDir, spec.StemsDir)
	if err := os.MkdirAll(stemsDir, 0o755); err != nil {
		return nil, err
	}

	fmt.Fprintf(s.Out, "[Process] Separating : %s\n", filepath.Base(src))
	bin, args := s.args(src)
	if err := s.Run(ctx, bin, args...); err != nil {
		return nil, fmt.Errorf("separate %s: %w", name, err)
	}

	results := filepath.Join(s.TempDir, s.Model, name)
	var filed []string
	for _, role := range spec.StemRoles {
		file := role + ".mp3"
		from := filepath.Join(results, file)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := move(from, filepath.Join(stemsDir, file)); err != nil {
			return filed, fmt.Errorf("file stem %s: %w", file, err)
		}
		filed = append(filed, file)
	}

	target := filepath.Join(songDir, filepath.Base(src))
	same, err := samePath(src, target)
	if err != nil {
		return filed, err
	}
	if !same {
		if err := copyFile(src, target); err != nil {
			return filed, fmt.Errorf("copy source: %w", err)
		}
	}
	return filed, nil
}

// Result summarises a batch.
type Result struct {
	Done   []string
	Failed map[string]error
}

// Batch processes files on a worker pool. A failure is reported and the
// batch moves on; nothing is retried. The temp dir is removed at the end.
func (s *Separator) Batch(ctx context.Context, files []string, workers int) Result {
	res := Result{Failed: make(map[string]error)}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string, len(files))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	bar := NewProgress(len(files), s.Out)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				if ctx.Err() != nil {
					mu.Lock()
					res.Failed[path] = ctx.Err()
					mu.Unlock()
					continue
				}
				_, err := s.Process(ctx, path)
				mu.Lock()
				if err != nil {
					res.Failed[path] = err
					fmt.Fprintf(s.Out, "[Error] %s: %v\n", filepath.Base(path), err)
				} else {
					res.Done = append(res.Done, path)
				}
				mu.Unlock()
				bar.Add(1)
			}
		}()
	}

	for _, f := range files {
		jobs <- f
	}
	close(jobs)
	wg.Wait()

	if err := os.RemoveAll(s.TempDir); err != nil {
		log.Printf("[Error] remove %s: %v", s.TempDir, err)
	}
	return res
}

// Collect lists audio files under dir (recursively), or dir itself when
// it is a file.
func Collect(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{dir}, nil
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && codec.Supported(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// TotalSize renders the combined size of files for the batch banner.
func TotalSize(files []string) string {
	var n uint64
	for _, f := range files {
		if st, err := os.Stat(f); err == nil {
			n += uint64(st.Size())
		}
	}
	return humanize.Bytes(n)
}

// ======================================================
// File helpers
// ======================================================

func samePath(a, b string) (bool, error) {
	aa, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	bb, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return filepath.Clean(aa) == filepath.Clean(bb), nil
}

// move renames, falling back to copy+remove across filesystems.
func move(from, to string) error {
	if err := os.Rename(from, to); err == nil {
		return nil
	}
	if err := copyFile(from, to); err != nil {
		return err
	}
	return os.Remove(from)
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(to)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
