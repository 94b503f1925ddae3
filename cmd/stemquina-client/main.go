package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"stemquina/internal/config"
	"stemquina/internal/control"
	"stemquina/pkg/spec"

	"github.com/chzyer/readline"
)

const (
	app_name   = "StemQuina-Client"
	usage_text = "Usage: stemquina-client [-config stemquina.yaml] [-socket PATH] [-events]"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file")
	socket := flag.String("socket", "", "unix socket path (overrides config)")
	events := flag.Bool("events", false, "print POSITION events too")
	flag.Usage = func() { fmt.Println(usage_text) }
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Println("[Error] config:", err)
		os.Exit(1)
	}
	if *socket != "" {
		cfg.Socket = *socket
	}

	fmt.Printf("\n%s V.%d.%d\n", app_name, spec.VersionMajor, spec.VersionMinor)
	conn, err := net.Dial("unix", cfg.Socket)
	if err != nil {
		fmt.Println("[Error] connect:", err)
		os.Exit(1)
	}
	defer conn.Close()

	items := make([]readline.PrefixCompleterInterface, 0, len(control.Verbs))
	for _, v := range control.Verbs {
		items = append(items, readline.PcItem(v))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "sq> ",
		HistoryFile:     cfg.HistoryFile,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "QUIT",
	})
	if err != nil {
		fmt.Println("[Error] readline:", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Println("CONNECTED to", cfg.Socket)
	fmt.Println(`Type "HELP" for commands, "QUIT" to exit`)

	// socket -> terminal
	go func() {
		sc := bufio.NewScanner(conn)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			if !*events && strings.HasPrefix(line, `EVENT {"type":"POSITION"`) {
				continue
			}
			fmt.Fprintln(rl.Stdout(), line)
		}
		fmt.Fprintln(rl.Stdout(), "SOCKET CLOSED")
		rl.Close()
	}()

	// terminal -> socket
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil { // io.EOF on ^D
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "QUIT") {
			break
		}
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			fmt.Println("WRITE ERROR:", err)
			os.Exit(1)
		}
	}
	fmt.Println("Bye.")
}
