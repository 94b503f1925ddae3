/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the StemQuina (multi-stem rehearsal) project.
 * This code is provided "as is", without warranty of any kind.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"stemquina/internal/config"
	"stemquina/internal/separator"
	"stemquina/pkg/spec"
)

const (
	app_name   = "StemQuina-Split"
	usage_text = "Usage: stemquina-split [-source mp3] [-library DIR] [-workers 1] [-model htdemucs] [-config stemquina.yaml]"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file")
	source := flag.String("source", "mp3", "audio file or directory to separate")
	libDir := flag.String("library", "", "song library directory (overrides config)")
	workers := flag.Int("workers", 0, "parallel separations (overrides config)")
	model := flag.String("model", "", "separator model (overrides config)")
	flag.Usage = func() { fmt.Println(usage_text) }
	flag.Parse()

	fmt.Printf("%s version %d.%d\n", app_name, spec.VersionMajor, spec.VersionMinor)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Println("[Error] config:", err)
		os.Exit(1)
	}
	if *libDir != "" {
		cfg.Library = *libDir
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *model != "" {
		cfg.SeparatorModel = *model
	}

	files, err := separator.Collect(*source)
	if err != nil {
		fmt.Printf("[Error] %s: %v\n", *source, err)
		fmt.Println(usage_text)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Printf("[Batch] No audio files in %s.\n", *source)
		return
	}
	sort.Strings(files)

	fmt.Printf("[Batch] Found %d file(s), %s. Separating with %s on %d worker(s)...\n",
		len(files), separator.TotalSize(files), cfg.SeparatorModel, cfg.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sep := separator.New(cfg.SeparatorCommand, cfg.SeparatorModel, cfg.Library, cfg.TempDir)
	res := sep.Batch(ctx, files, cfg.Workers)

	for path, err := range res.Failed {
		fmt.Printf("[FAIL] %s: %v\n", filepath.Base(path), err)
	}
	fmt.Printf("\n[Success] %d of %d song(s) separated into %s.\n", len(res.Done), len(files), cfg.Library)
	if len(res.Failed) > 0 {
		os.Exit(1)
	}
}
