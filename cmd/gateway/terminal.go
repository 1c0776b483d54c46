package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tailored-agentic-units/gateway/agent"
	"github.com/tailored-agentic-units/gateway/gateway"
	"github.com/tailored-agentic-units/gateway/security"
	"github.com/tailored-agentic-units/gateway/session"
)

// terminalChannel is the line-oriented chat surface: messages stream to
// stdout and confirmation prompts are answered with [y/a/n] input.
type terminalChannel struct {
	in  *bufio.Reader
	out *os.File
}

func (c *terminalChannel) Kind() string   { return "terminal" }
func (c *terminalChannel) ChatID() string { return "local" }

func (c *terminalChannel) Send(ctx context.Context, text string) error {
	_, err := fmt.Fprintln(c.out, text)
	return err
}

func (c *terminalChannel) SendStream(ctx context.Context, stream agent.Stream) error {
	for chunk, err := range stream {
		if err != nil {
			return err
		}
		fmt.Fprint(c.out, chunk)
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *terminalChannel) RequestConfirmation(ctx context.Context, req security.ConfirmationRequest) (security.Decision, error) {
	fmt.Fprintf(c.out, "\n%s\n", req.Prompt)
	if req.Details.Command != "" {
		fmt.Fprintf(c.out, "  command: %s\n", req.Details.Command)
	}
	if req.Details.Path != "" {
		fmt.Fprintf(c.out, "  path:    %s\n", req.Details.Path)
	}
	fmt.Fprint(c.out, "Allow? [y]es once / [a]lways / [n]o: ")

	line, err := c.in.ReadString('\n')
	if err != nil {
		return security.DecisionCancel, nil
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return security.DecisionAllow, nil
	case "a", "always":
		return security.DecisionAllowAlways, nil
	default:
		return security.DecisionCancel, nil
	}
}

// runTerminal reads user lines from stdin and feeds them through the
// gateway until EOF or interrupt. Lines starting with "/" are commands.
func runTerminal(ctx context.Context, g *gateway.Gateway) error {
	reader := bufio.NewReader(os.Stdin)
	ch := &terminalChannel{in: reader, out: os.Stdout}

	fmt.Println("Gateway ready. /help for commands, ctrl-d to quit.")
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			g.DisconnectChannel(session.Key{Channel: ch.Kind(), ChatID: ch.ChatID()})
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if done := runCommand(ctx, g, ch, line); done {
				return nil
			}
			continue
		}

		if err := g.ProcessMessage(ctx, ch, gateway.Incoming{Text: line}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func runCommand(ctx context.Context, g *gateway.Gateway, ch *terminalChannel, line string) (done bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		g.DisconnectChannel(session.Key{Channel: ch.Kind(), ChatID: ch.ChatID()})
		return true
	case "/mode":
		if len(fields) < 2 {
			fmt.Printf("mode: %s\n", g.Settings().SecurityMode)
			return false
		}
		if err := g.SetSecurityMode(security.Mode(fields[1])); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	case "/obedience":
		enabled := len(fields) > 1 && fields[1] == "on"
		if err := g.SetSpicyMaxObedienceEnabled(enabled); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	case "/model":
		if len(fields) < 2 {
			listModels(ctx, g)
			return false
		}
		effort := ""
		if len(fields) > 2 {
			effort = fields[2]
		}
		if err := g.SetLLMSelection(g.Settings().Provider, fields[1], effort); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	case "/clear":
		g.ClearSession(session.Key{Channel: ch.Kind(), ChatID: ch.ChatID()})
		fmt.Println("session cleared")
	case "/sessions":
		for _, info := range g.ListSessions() {
			fmt.Printf("%s  %d messages  updated %s\n",
				info.Key, info.Messages, info.UpdatedAt.Format("15:04:05"))
		}
	case "/help":
		fmt.Println("/mode [safe|spicy]  /obedience [on|off]  /model [id [effort]]  /clear  /sessions  /quit")
	default:
		fmt.Printf("unknown command %s\n", fields[0])
	}
	return false
}

func listModels(ctx context.Context, g *gateway.Gateway) {
	models, err := g.ListAvailableModels(ctx, g.Settings().Provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	for _, m := range models {
		marker := " "
		if m.Default {
			marker = "*"
		}
		fmt.Printf("%s %s  %s\n", marker, m.ID, m.DisplayName)
	}
}
