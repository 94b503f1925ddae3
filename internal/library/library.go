// Package library is the on-disk song layout:
//
//	<root>/<song>/<reference audio>
//	<root>/<song>/<song>.lrc
//	<root>/<song>/metadata.json
//	<root>/<song>/stems/<stem audio>
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"stemquina/internal/codec"
	"stemquina/internal/lyrics"
	"stemquina/internal/metadata"
	"stemquina/pkg/audioengine"
	"stemquina/pkg/spec"
	"stemquina/pkg/syncindex"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
)

var ErrNoSong = errors.New("song not found")

type Library struct {
	Root string
	// Workers bounds parallel decodes per load.
	Workers int
}

func New(root string) *Library {
	return &Library{Root: root, Workers: spec.NumTracks}
}

func (l *Library) Dir(song string) string      { return filepath.Join(l.Root, song) }
func (l *Library) StemsDir(song string) string { return filepath.Join(l.Root, song, spec.StemsDir) }

// Songs lists song directories, sorted, names in NFC.
func (l *Library) Songs() ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, norm.NFC.String(e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func audioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && codec.Supported(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Reference is the first audio file in the song directory, by name.
func (l *Library) Reference(song string) (string, error) {
	files, err := audioFiles(l.Dir(song))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNoSong, song)
	}
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}
	return files[0], nil
}

// Stems lists the stem candidates; a missing stems dir is empty.
func (l *Library) Stems(song string) ([]string, error) {
	files, err := audioFiles(l.StemsDir(song))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return files, err
}

// LyricsPath is the first *.lrc in the song directory, else <song>.lrc.
func (l *Library) LyricsPath(song string) string {
	matches, _ := filepath.Glob(filepath.Join(l.Dir(song), "*"+spec.LyricsExt))
	if len(matches) > 0 {
		sort.Strings(matches)
		return matches[0]
	}
	return filepath.Join(l.Dir(song), song+spec.LyricsExt)
}

func (l *Library) ReadLyrics(song string) (string, error) {
	return lyrics.Read(l.LyricsPath(song))
}

// SaveLyrics writes text verbatim and returns the re-parsed lines.
func (l *Library) SaveLyrics(song, text string) ([]syncindex.Event, error) {
	p := l.LyricsPath(song)
	if err := lyrics.Write(p, text); err != nil {
		return nil, err
	}
	return lyrics.ParseFile(p)
}

// ======================================================
// Loading
// ======================================================

type decoded struct {
	pcm  *audioengine.PCM
	wave []float64
}

func decodeTrack(path string) (decoded, error) {
	pcm, err := codec.Decode(path)
	if err != nil {
		return decoded{}, err
	}
	return decoded{pcm: pcm, wave: codec.Waveform(pcm, codec.WaveformPoints)}, nil
}

// Load prepares a full song off the control loop. A slot that fails to
// decode is left empty; only a missing song directory is an error.
func (l *Library) Load(ctx context.Context, song string) (*audioengine.Song, error) {
	ref, err := l.Reference(song)
	if err != nil {
		return nil, err
	}
	stems, err := l.Stems(song)
	if err != nil {
		log.Printf("[Error] list stems %s: %v", song, err)
	}

	doc, err := metadata.Load(metadata.PathFor(l.Root, song))
	if err != nil {
		log.Printf("[Error] metadata %s: %v (using defaults)", song, err)
	}
	mappings := metadata.ResolveMappings(doc.TrackMappings, ref, stems)

	var tracks [spec.NumTracks]decoded
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, l.Workers))
	for i, m := range mappings {
		if m == spec.None {
			continue
		}
		path := filepath.Join(l.StemsDir(song), m)
		if i == spec.Reference {
			path = filepath.Join(l.Dir(song), m)
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := decodeTrack(path)
			if err != nil {
				log.Printf("[Error] decode %s: %v", path, err)
				return nil
			}
			tracks[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &audioengine.Song{
		Name:    song,
		Markers: doc.Markers,
		LoopA:   doc.LoopA,
		LoopB:   doc.LoopB,
		Stems:   stems,
	}
	for i := range s.Tracks {
		mapping := mappings[i]
		if tracks[i].pcm == nil {
			mapping = spec.None
		}
		s.Tracks[i] = audioengine.SongTrack{
			PCM:      tracks[i].pcm,
			Waveform: tracks[i].wave,
			Name:     doc.TrackNames[i],
			Volume:   doc.Volumes[i],
			Mute:     doc.Mutes[i],
			Mapping:  mapping,
		}
	}
	s.Fingerprint = codec.Fingerprint(tracks[spec.Reference].pcm)
	if doc.Fingerprint != "" && s.Fingerprint != "" && doc.Fingerprint != s.Fingerprint {
		log.Printf("[Warn] %s: reference recording changed since markers were saved", song)
	}

	s.Lyrics, err = lyrics.ParseFile(l.LyricsPath(song))
	if err != nil {
		log.Printf("[Error] lyrics %s: %v", song, err)
	}
	return s, nil
}

// LoadStem decodes one stem file of song for a slot swap.
func (l *Library) LoadStem(song, file string) (*audioengine.PCM, []float64, error) {
	if filepath.Base(file) != file {
		return nil, nil, fmt.Errorf("bad stem name %q", file)
	}
	d, err := decodeTrack(filepath.Join(l.StemsDir(song), file))
	if err != nil {
		return nil, nil, err
	}
	return d.pcm, d.wave, nil
}
