package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/youruser/mindweave/internal/api"
	"github.com/youruser/mindweave/internal/config"
	"github.com/youruser/mindweave/internal/ledger"
	"github.com/youruser/mindweave/internal/protocol"
	"github.com/youruser/mindweave/internal/session"
)

func loadConfig(flags rootFlags) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flags.configPath != "" {
		cfg, err = config.LoadFrom(flags.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if flags.baseURL != "" {
		cfg.BaseURL = flags.baseURL
	}
	if flags.sessionID != "" {
		cfg.SessionID = flags.sessionID
	}
	if flags.model != "" {
		cfg.DefaultModel = flags.model
	}
	if flags.mode != "" {
		switch flags.mode {
		case "manual", "auto", "all", "single-html":
			cfg.Mode = flags.mode
		default:
			return nil, config.ErrInvalidMode
		}
	}
	return cfg, nil
}

// terminalPrompter asks for tool confirmation on the same terminal the
// chat loop reads from. EOF rejects.
type terminalPrompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func (p *terminalPrompter) Confirm(ctx context.Context, tc *protocol.ToolCall) (bool, error) {
	fmt.Fprintf(p.out, "\n%s\n", describeToolCall(tc))
	fmt.Fprint(p.out, "Run this action? [y/N] ")
	if !p.in.Scan() {
		return false, p.in.Err()
	}
	answer := strings.ToLower(strings.TrimSpace(p.in.Text()))
	return answer == "y" || answer == "yes", nil
}

type terminalNotifier struct {
	out io.Writer
}

func (n *terminalNotifier) TaskCompleted(result string) {
	fmt.Fprintf(n.out, "\n-- task completed --\n")
	if result != "" {
		fmt.Fprintln(n.out, result)
	}
}

func describeToolCall(tc *protocol.ToolCall) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The assistant wants to run %s", tc.Name)
	if len(tc.Params) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(tc.Params))
	for k := range tc.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := tc.Params[k]
		if len(v) > 200 {
			v = v[:200] + "..."
		}
		fmt.Fprintf(&b, "\n  %s: %s", k, v)
	}
	return b.String()
}

func printHistory(out io.Writer, l *ledger.Ledger) {
	for _, msg := range l.Messages() {
		fmt.Fprintf(out, "[%s] %s: %s\n", msg.ID, msg.Role, msg.Content)
	}
}

func lastAssistantID(l *ledger.Ledger) string {
	msgs := l.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == ledger.RoleAssistant {
			return msgs[i].ID
		}
	}
	return ""
}

func runChat(ctx context.Context, flags rootFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if cfg.SessionID == "" {
		return errors.New("no session id: set session_id in the config or pass --session")
	}

	log.Info("chat started: session %s, mode %s, model %s", cfg.SessionID, cfg.Mode, cfg.DefaultModel)

	client := api.NewClient(cfg.BaseURL, cfg.RequestTimeout())
	out := os.Stdout
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// The callbacks close over conv to render the status line; conv is
	// assigned before any callback can fire.
	var conv *session.Conversation
	conv = session.NewConversation(session.Options{
		Transport: client,
		Ledger:    ledger.New(),
		Config: session.Config{
			SessionID:    cfg.SessionID,
			ProjectPath:  cfg.ProjectPath,
			Model:        cfg.DefaultModel,
			Mode:         session.Mode(cfg.Mode),
			ContextFiles: cfg.ContextFiles,
		},
		Gate: session.NewGate(
			&terminalPrompter{in: scanner, out: out},
			&terminalNotifier{out: out},
		),
		Callbacks: session.Callbacks{
			OnEvent: func(ev *protocol.StreamEvent) {
				if ev.Content != "" {
					fmt.Fprint(out, ev.Content)
				}
			},
			OnComplete: func() {
				fmt.Fprintln(out)
				fmt.Fprintf(out, "-- done (~%d prompt tokens) --\n", conv.Ledger().EstimateHistory())
			},
			OnError: func(err error) {
				fmt.Fprintf(out, "\nerror: %v\n", err)
			},
		},
		Preview: func(path string) {
			fmt.Fprintf(out, "\n-- artifact ready: %s --\n", path)
		},
	})

	// Ctrl-C aborts the in-flight response, not the program.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			conv.Cancel()
			fmt.Fprintln(out, "\n-- cancelled --")
		}
	}()

	fmt.Fprintf(out, "mindweave %s, session %s (%s mode)\n", versionString(), cfg.SessionID, cfg.Mode)
	fmt.Fprintln(out, "Commands: /explain [text], /retry, /delete <id>, /clear, /tokens, /history, /quit")

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "/quit", "/exit":
			return nil

		case "/explain":
			if err := conv.Explain(ctx, rest); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}

		case "/retry":
			id := lastAssistantID(conv.Ledger())
			if id == "" {
				fmt.Fprintln(out, "nothing to retry")
				continue
			}
			if err := conv.Retry(ctx, id); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}

		case "/delete":
			id := strings.TrimSpace(rest)
			if id == "" {
				fmt.Fprintln(out, "usage: /delete <message-id>")
				continue
			}
			if err := conv.DeleteMessage(ctx, id); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}

		case "/clear":
			if err := conv.ClearMessages(ctx); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}

		case "/tokens":
			fmt.Fprintf(out, "~%d prompt tokens of history\n", conv.Ledger().EstimateHistory())

		case "/history":
			printHistory(out, conv.Ledger())

		default:
			if strings.HasPrefix(cmd, "/") {
				fmt.Fprintf(out, "unknown command %s\n", cmd)
				continue
			}
			if err := conv.Send(ctx, line); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}
