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
	"log"
	"os"
	"os/signal"
	"syscall"

	"stemquina/internal/config"
	"stemquina/internal/control"
	"stemquina/internal/library"
	"stemquina/internal/metadata"
	"stemquina/pkg/audioengine"
	"stemquina/pkg/spec"
)

const (
	server_name = "StemQuina-Server"
	usage_text  = "Usage: stemquina-server [-config stemquina.yaml] [-library DIR] [-socket PATH] [-song NAME]"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file")
	libDir := flag.String("library", "", "song library directory (overrides config)")
	socket := flag.String("socket", "", "unix socket path (overrides config)")
	song := flag.String("song", "", "song to load at start")
	headless := flag.Bool("headless", false, "run without an audio device")
	flag.Usage = func() { fmt.Println(usage_text) }
	flag.Parse()

	fmt.Printf("%s V.%d.%d\n", server_name, spec.VersionMajor, spec.VersionMinor)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[Error] config: %v", err)
	}
	if *libDir != "" {
		cfg.Library = *libDir
	}
	if *socket != "" {
		cfg.Socket = *socket
	}
	if err := os.MkdirAll(cfg.Library, 0o755); err != nil {
		log.Fatalf("[Error] library: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := audioengine.DefaultOptions()
	opts.MasterVolume = cfg.MasterVolume
	opts.Repeat = cfg.Repeat
	opts.CountIn = cfg.CountIn

	if !*headless {
		out, err := audioengine.NewSpeakerOutput(cfg.Buffer())
		if err != nil {
			log.Printf("[Error] audio device: %v (running headless)", err)
		} else {
			opts.Output = out
		}
	}

	writer := metadata.NewWriter(cfg.Library)
	opts.Persister = writer

	eng := audioengine.New(opts)
	lib := library.New(cfg.Library)
	srv := control.New(eng, lib)

	writerDone := make(chan struct{})
	go func() {
		writer.Run(ctx)
		close(writerDone)
	}()
	go eng.Run(ctx, cfg.Tick())

	if *song != "" {
		go func() {
			s, err := lib.Load(ctx, *song)
			if err != nil {
				log.Printf("[Error] load %s: %v", *song, err)
				return
			}
			eng.DeliverSong(s)
		}()
	}

	if err := srv.Listen(ctx, cfg.Socket); err != nil {
		log.Fatalf("[Error] socket: %v", err)
	}
	<-writerDone
	fmt.Println("Bye.")
}
