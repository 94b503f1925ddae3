/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the StemQuina (multi-stem rehearsal) project.
 * This code is provided "as is", without warranty of any kind.
 */

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stemquina/internal/config"
	"stemquina/internal/library"
	"stemquina/internal/lyrics"
	"stemquina/internal/metadata"
	"stemquina/pkg/spec"

	"github.com/dustin/go-humanize"
)

const (
	app_name        = "StemQuina-Meta"
	general_usage   = "Usage: ./stemquina-meta [-library DIR] -song <song name>"
	json_dump_usage = "Usage: ./stemquina-meta [-library DIR] -song <song name> -jsondump"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file")
	libDir := flag.String("library", "", "song library directory (overrides config)")
	song := flag.String("song", "", "song to inspect")
	jsonDump := flag.Bool("jsondump", false, "dump the resolved metadata document")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Println("[Error] config:", err)
		os.Exit(1)
	}
	if *libDir != "" {
		cfg.Library = *libDir
	}
	lib := library.New(cfg.Library)

	if *song == "" {
		fmt.Printf("\n%s %d.%d\n", app_name, spec.VersionMajor, spec.VersionMinor)
		fmt.Printf("%s\n%s\n\n", general_usage, json_dump_usage)
		listSongs(lib)
		return
	}

	ref, err := lib.Reference(*song)
	if err != nil {
		fmt.Printf("[!] %v\n", err)
		os.Exit(1)
	}
	stems, _ := lib.Stems(*song)
	doc, err := metadata.Load(metadata.PathFor(lib.Root, *song))
	if err != nil {
		fmt.Printf("[!] %v (showing defaults)\n", err)
	}
	mappings := metadata.ResolveMappings(doc.TrackMappings, ref, stems)
	lines, _ := lyrics.ParseFile(lib.LyricsPath(*song))

	fmt.Println(strings.Repeat("=", 75))
	fmt.Printf(" SONG          : %s\n", *song)
	fmt.Printf(" REFERENCE     : %s\n", orNone(ref))
	fmt.Printf(" LYRICS        : %d timed line(s)\n", len(lines))
	fmt.Printf(" LOOP          : %s - %s\n", stamp(doc.LoopA), stamp(doc.LoopB))
	if doc.Fingerprint != "" {
		fmt.Printf(" FINGERPRINT   : %s\n", doc.Fingerprint)
	}
	fmt.Println(strings.Repeat("-", 75))
	fmt.Printf(" %-3s | %-20s | %-25s | %-6s | %-4s\n", "NO", "NAME", "FILE", "VOL", "MUTE")
	fmt.Println(strings.Repeat("-", 75))
	for i, m := range mappings {
		fmt.Printf(" %2d  | %-20s | %-25s | %5.2f  | %v\n",
			i, doc.TrackNames[i], withSize(lib, *song, i, m), doc.Volumes[i], doc.Mutes[i])
	}
	if len(doc.Markers) > 0 {
		fmt.Println(strings.Repeat("-", 75))
		for i, mk := range doc.Markers {
			fmt.Printf(" %2d  %s %s\n", i+1, lyrics.FormatMs(mk.Ms), mk.Label)
		}
	}
	fmt.Println(strings.Repeat("=", 75))

	if *jsonDump {
		doc.TrackMappings = mappings[:]
		b, _ := json.MarshalIndent(doc, "", "    ")
		fmt.Println(string(b))
		fmt.Println("=== [END DUMP] ===")
	}
}

func listSongs(lib *library.Library) {
	songs, err := lib.Songs()
	if err != nil {
		fmt.Printf("[!] %v\n", err)
		return
	}
	for _, s := range songs {
		stems, _ := lib.Stems(s)
		fmt.Printf(" %-40s %d stem(s)\n", s, len(stems))
	}
}

func orNone(s string) string {
	if s == "" {
		return spec.None
	}
	return s
}

func stamp(ms *float64) string {
	if ms == nil {
		return "--"
	}
	return lyrics.FormatMs(*ms)
}

func withSize(lib *library.Library, song string, slot int, file string) string {
	if file == spec.None {
		return file
	}
	dir := lib.StemsDir(song)
	if slot == spec.Reference {
		dir = lib.Dir(song)
	}
	st, err := os.Stat(filepath.Join(dir, file))
	if err != nil {
		return file + " (missing)"
	}
	return fmt.Sprintf("%s (%s)", file, humanize.Bytes(uint64(st.Size())))
}
