// Command chatcli is an interactive client for the chat service.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/jessevdk/go-flags"
	"golang.org/x/term"
)

type options struct {
	Addr    string `short:"a" long:"addr" default:"http://localhost:8080" description:"chat service base URL"`
	Session string `short:"s" long:"session" description:"resume an existing session"`
	User    string `short:"u" long:"user" description:"user id attached to new sessions"`
}

func main() {
	var opts options
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		os.Exit(2)
	}

	log.SetFlags(log.Ltime)

	client := NewClient(opts.Addr, opts.User)
	sessionID := opts.Session
	if sessionID == "" {
		var err error
		if sessionID, err = client.CreateSession(); err != nil {
			log.Fatalf("Failed to create session: %v", err)
		}
	}

	fmt.Printf("Connecting to %s...\n", opts.Addr)
	if err := client.Connect(sessionID); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	fmt.Printf("Session established: %s\n", client.SessionID())
	fmt.Println("\nType a message and press Enter to send.")
	fmt.Println("Commands: /history, /new, /quit")
	fmt.Println()

	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		fmt.Println("\nInterrupted")
		client.Close()
		os.Exit(0)
	}()

	repl(client, os.Stdin, os.Stdout, term.IsTerminal(int(os.Stdin.Fd())))
}

// repl reads lines from in until EOF or /quit. The prompt is only printed
// for interactive input.
func repl(client *Client, in io.Reader, out io.Writer, interactive bool) {
	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			return
		}

		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case input == "/quit":
			fmt.Fprintln(out, "Bye!")
			return
		case input == "/history":
			printHistory(client, out)
			continue
		case input == "/new":
			sessionID, err := client.CreateSession()
			if err == nil {
				err = client.Connect(sessionID)
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "Session established: %s\n", sessionID)
			continue
		}

		answer, err := client.Ask(input)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, answer.Response)
		if answer.ToolUsed != "" {
			args, _ := json.Marshal(answer.ToolInput)
			fmt.Fprintf(out, "  (tool: %s %s)\n", answer.ToolUsed, args)
		}
	}
}

func printHistory(client *Client, out io.Writer) {
	msgs, err := client.History()
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Format("15:04:05"), m.Sender, m.Content)
	}
}
