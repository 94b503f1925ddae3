package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"stemquina/internal/metadata"
	"stemquina/pkg/spec"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeWAV(t *testing.T, path string, frames int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	data := make([]int, frames*2)
	for i := range data {
		data[i] = (i % 200) * 100
	}
	enc := wav.NewEncoder(f, spec.SampleRate, 16, 2, 1)
	if err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: spec.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func fixture(t *testing.T) *Library {
	t.Helper()
	root := t.TempDir()
	song := filepath.Join(root, "Song")
	writeWAV(t, filepath.Join(song, "Song.wav"), spec.SampleRate*2)
	writeWAV(t, filepath.Join(song, "stems", "drums.wav"), spec.SampleRate)
	writeWAV(t, filepath.Join(song, "stems", "vocals.wav"), spec.SampleRate)
	os.WriteFile(filepath.Join(song, "stems", "bass.wav"), []byte("not audio"), 0o644)
	os.WriteFile(filepath.Join(song, "Song.lrc"), []byte("[00:01.00]hello\n[00:01.50]world\n"), 0o644)

	d := metadata.Default()
	d.Volumes[1] = 0.3
	d.TrackNames[0] = "Full mix"
	if err := metadata.Save(metadata.PathFor(root, "Song"), d); err != nil {
		t.Fatal(err)
	}
	os.MkdirAll(filepath.Join(root, "Other"), 0o755)
	return New(root)
}

func TestSongs(t *testing.T) {
	l := fixture(t)
	got, err := l.Songs()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "Other" || got[1] != "Song" {
		t.Errorf("Songs = %v", got)
	}
}

func TestLoad(t *testing.T) {
	l := fixture(t)
	s, err := l.Load(context.Background(), "Song")
	if err != nil {
		t.Fatal(err)
	}

	if got := s.Tracks[0].PCM.DurationMs(); got != 2000 {
		t.Errorf("reference duration = %v, want 2000", got)
	}
	want := [spec.NumTracks]string{"Song.wav", "drums.wav", spec.None, spec.None, "vocals.wav"}
	for i, w := range want {
		if s.Tracks[i].Mapping != w {
			t.Errorf("slot %d mapping = %q, want %q", i, s.Tracks[i].Mapping, w)
		}
	}
	if s.Tracks[2].PCM != nil {
		t.Error("undecodable stem produced a buffer")
	}
	if s.Tracks[1].Volume != 0.3 || s.Tracks[0].Name != "Full mix" {
		t.Errorf("metadata not applied: %+v", s.Tracks[1])
	}
	if len(s.Tracks[0].Waveform) == 0 {
		t.Error("no waveform")
	}
	if len(s.Lyrics) != 2 || s.Lyrics[1].Text != "world" {
		t.Errorf("Lyrics = %+v", s.Lyrics)
	}
	if s.Fingerprint == "" || len(s.Stems) != 3 {
		t.Errorf("Fingerprint = %q Stems = %v", s.Fingerprint, s.Stems)
	}
}

func TestLoadMissingSong(t *testing.T) {
	l := fixture(t)
	if _, err := l.Load(context.Background(), "Nope"); err == nil {
		t.Error("missing song loaded")
	}
}

func TestLoadSongWithoutAudio(t *testing.T) {
	l := fixture(t)
	s, err := l.Load(context.Background(), "Other")
	if err != nil {
		t.Fatal(err)
	}
	if s.Tracks[0].PCM.DurationMs() != 0 || s.Tracks[0].Mapping != spec.None {
		t.Errorf("empty song track 0 = %+v", s.Tracks[0])
	}
}

func TestLoadStem(t *testing.T) {
	l := fixture(t)
	pcm, wave, err := l.LoadStem("Song", "vocals.wav")
	if err != nil || pcm.Len() != spec.SampleRate || len(wave) == 0 {
		t.Errorf("LoadStem = %v,%d,%v", pcm.Len(), len(wave), err)
	}
	if _, _, err := l.LoadStem("Song", "../Song.wav"); err == nil {
		t.Error("path outside stems accepted")
	}
}

func TestSaveLyrics(t *testing.T) {
	l := fixture(t)
	ev, err := l.SaveLyrics("Song", "[00:03.00]new")
	if err != nil {
		t.Fatal(err)
	}
	if len(ev) != 1 || ev[0].Ms != 3000 {
		t.Errorf("SaveLyrics = %+v", ev)
	}
	raw, _ := l.ReadLyrics("Song")
	if raw != "[00:03.00]new" {
		t.Errorf("ReadLyrics = %q", raw)
	}
}
