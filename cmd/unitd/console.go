package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/openunitstate/unitd/internal/transport"
)

type consoleKind uint8

const (
	consoleMessage consoleKind = iota
	consoleTap
	consoleHold
	consoleRelease
	consoleCard
)

// consoleInput is one bench console line handed to the main loop.
type consoleInput struct {
	Kind    consoleKind
	Message transport.Message
	Card    []byte
}

const consoleHelp = `Commands:
  <suffix> [payload]  inject an inbound message, e.g. "config_status 5" or "unlocked_time 30000"
  button              press and release the button
  hold | release      hold the button down / let it go
  card <hex>          present a card UID, e.g. "card 04a1b2c3"
  help                show this help
  quit                shut down`

var (
	errQuit = errors.New("quit")
	errHelp = errors.New("help")
)

// parseConsoleLine turns a console line into an input. Blank lines return
// ok=false.
func parseConsoleLine(line string) (in consoleInput, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return consoleInput{}, false, nil
	}
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(word) {
	case "help", "?":
		return consoleInput{}, false, errHelp
	case "quit", "exit", "q":
		return consoleInput{}, false, errQuit
	case "button":
		return consoleInput{Kind: consoleTap}, true, nil
	case "hold":
		return consoleInput{Kind: consoleHold}, true, nil
	case "release":
		return consoleInput{Kind: consoleRelease}, true, nil
	case "card":
		uid, err := hex.DecodeString(rest)
		if err != nil || len(uid) == 0 {
			return consoleInput{}, false, fmt.Errorf("card %q: want a hex UID", rest)
		}
		return consoleInput{Kind: consoleCard, Card: uid}, true, nil
	}
	return consoleInput{
		Kind:    consoleMessage,
		Message: transport.Message{Suffix: word, Payload: []byte(rest)},
	}, true, nil
}

// console is the interactive bench console enabled with -console.
type console struct {
	rl  *readline.Instance
	out chan consoleInput
}

func newConsole() (*console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "unitd> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("create readline: %w", err)
	}
	return &console{rl: rl, out: make(chan consoleInput, 16)}, nil
}

// Stderr returns a writer that keeps log output clear of the prompt.
func (c *console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Close restores the terminal.
func (c *console) Close() error {
	return c.rl.Close()
}

// Inputs delivers parsed lines. It is closed when the console exits.
func (c *console) Inputs() <-chan consoleInput {
	return c.out
}

// Run reads lines until EOF or quit, then sends os.Interrupt on sig.
func (c *console) Run(sig chan<- os.Signal) {
	defer close(c.out)

	fmt.Fprintln(c.rl.Stdout(), consoleHelp)
loop:
	for {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			break
		}
		in, ok, err := parseConsoleLine(line)
		switch {
		case errors.Is(err, errQuit):
			break loop
		case errors.Is(err, errHelp):
			fmt.Fprintln(c.rl.Stdout(), consoleHelp)
		case err != nil:
			fmt.Fprintf(c.rl.Stdout(), "error: %v\n", err)
		case ok:
			c.out <- in
		}
	}

	fmt.Fprintln(c.rl.Stdout(), "Exiting...")
	select {
	case sig <- os.Interrupt:
	default:
	}
}
