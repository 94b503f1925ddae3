// Package metadata is the per-song JSON document: track names, mix,
// markers, loop points and stem mappings.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"stemquina/pkg/audioengine"
	"stemquina/pkg/spec"
	"stemquina/pkg/syncindex"

	"golang.org/x/text/cases"
)

type Document struct {
	TrackNames    []string           `json:"track_names"`
	Volumes       []float64          `json:"volumes"`
	Mutes         []bool             `json:"mutes"`
	Markers       []syncindex.Marker `json:"markers"`
	LoopA         *float64           `json:"loop_a"`
	LoopB         *float64           `json:"loop_b"`
	TrackMappings []string           `json:"track_mappings"`
	Fingerprint   string             `json:"fingerprint,omitempty"`
}

// Default is the first-load document.
func Default() Document {
	d := Document{
		TrackNames:    make([]string, spec.NumTracks),
		Volumes:       make([]float64, spec.NumTracks),
		Mutes:         make([]bool, spec.NumTracks),
		Markers:       []syncindex.Marker{},
		TrackMappings: make([]string, spec.NumTracks),
	}
	for i := 0; i < spec.NumTracks; i++ {
		d.Volumes[i] = spec.DefaultVolume
		d.TrackMappings[i] = spec.None
	}
	return d
}

// normalize pads short arrays with defaults and drops extras.
func (d *Document) normalize() {
	def := Default()
	for i := len(d.TrackNames); i < spec.NumTracks; i++ {
		d.TrackNames = append(d.TrackNames, def.TrackNames[i])
	}
	for i := len(d.Volumes); i < spec.NumTracks; i++ {
		d.Volumes = append(d.Volumes, def.Volumes[i])
	}
	for i := len(d.Mutes); i < spec.NumTracks; i++ {
		d.Mutes = append(d.Mutes, def.Mutes[i])
	}
	for i := len(d.TrackMappings); i < spec.NumTracks; i++ {
		d.TrackMappings = append(d.TrackMappings, def.TrackMappings[i])
	}
	d.TrackNames = d.TrackNames[:spec.NumTracks]
	d.Volumes = d.Volumes[:spec.NumTracks]
	d.Mutes = d.Mutes[:spec.NumTracks]
	d.TrackMappings = d.TrackMappings[:spec.NumTracks]
	if d.Markers == nil {
		d.Markers = []syncindex.Marker{}
	}
	for i, v := range d.Volumes {
		d.Volumes[i] = max(spec.GainMin, min(spec.GainMax, v))
	}
	for i, m := range d.TrackMappings {
		if m == "" {
			d.TrackMappings[i] = spec.None
		}
	}
}

// Load reads path. A missing file returns defaults and no error; a
// malformed one returns defaults plus the parse error for logging.
func Load(path string) (Document, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Default(), err
	}
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return Default(), fmt.Errorf("parse %s: %w", path, err)
	}
	d.normalize()
	return d, nil
}

// Save writes d with 4-space indentation via a temp file and rename.
func Save(path string, d Document) error {
	d.normalize()
	b, err := json.MarshalIndent(d, "", "    ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// FromState converts an engine snapshot.
func FromState(st audioengine.SessionState) Document {
	d := Document{
		TrackNames:    st.Names[:],
		Volumes:       st.Volumes[:],
		Mutes:         st.Mutes[:],
		Markers:       st.Markers,
		LoopA:         st.LoopA,
		LoopB:         st.LoopB,
		TrackMappings: st.Mappings[:],
		Fingerprint:   st.Fingerprint,
	}
	d.normalize()
	return d
}

// BaseName reduces a saved mapping to its file name. Older documents
// carry relative paths with either separator.
func BaseName(p string) string {
	if p == "" || p == spec.None {
		return spec.None
	}
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	if p == "" {
		return spec.None
	}
	return p
}

// ResolveMappings assigns stems to slots 1..4. Each slot keeps its saved
// file if still present, else takes the first candidate containing its
// role keyword; leftovers then fill empty slots in order.
func ResolveMappings(saved []string, reference string, stems []string) [spec.NumTracks]string {
	var out [spec.NumTracks]string
	for i := range out {
		out[i] = spec.None
	}
	if reference != "" {
		out[spec.Reference] = reference
	}

	avail := append([]string(nil), stems...)
	take := func(k int) string {
		s := avail[k]
		avail = append(avail[:k], avail[k+1:]...)
		return s
	}

	for i := 1; i < spec.NumTracks; i++ {
		want := spec.None
		if i < len(saved) {
			want = BaseName(saved[i])
		}
		if want != spec.None {
			if k := indexOf(avail, want); k >= 0 {
				out[i] = take(k)
				continue
			}
		}
		kw := spec.RoleKeywords[i-1]
		fold := cases.Fold()
		for k, s := range avail {
			if strings.Contains(fold.String(s), kw) {
				out[i] = take(k)
				break
			}
		}
	}
	for i := 1; i < spec.NumTracks && len(avail) > 0; i++ {
		if out[i] == spec.None {
			out[i] = take(0)
		}
	}
	return out
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

// PathFor is where a song's document lives under a library root.
func PathFor(root, song string) string {
	return filepath.Join(root, song, spec.MetadataFile)
}
