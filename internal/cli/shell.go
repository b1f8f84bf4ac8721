// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/message"

	"github.com/jeranaias/apidesk/internal/config"
	"github.com/jeranaias/apidesk/internal/logging"
	"github.com/jeranaias/apidesk/internal/provider"
	"github.com/jeranaias/apidesk/internal/session"
)

var commandStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

// shellCommands is the /help listing, in display order.
var shellCommands = [][2]string{
	{"/key <provider>", "Enter an API key (input hidden, never saved to history)"},
	{"/keys", "Show which API keys are set"},
	{"/clearkeys", "Forget every API key"},
	{"/image <prompt>", "Generate an image"},
	{"/video <query>", "Search stock videos"},
	{"/news <query>", "Search news"},
	{"/stock <SYMBOL>", "Stock quote with one year of history"},
	{"/crypto <SYMBOL>", "Crypto quote in USD with 30 days of history"},
	{"/clear", "Clear the conversation"},
	{"/state [feature]", "Show feature states"},
	{"/help", "Show this help"},
	{"/quit", "Exit"},
}

// =============================================================================
// SHELL
// =============================================================================

// Shell is an interactive view over one session. Plain input is chat;
// slash commands drive the other features.
type Shell struct {
	ctrl     *session.Controller
	out      io.Writer
	printer  *message.Printer
	markdown bool

	// readSecret reads a key without echo.
	readSecret func(prompt string) (string, error)

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewShell creates a shell writing to out.
func NewShell(ctrl *session.Controller, out io.Writer) *Shell {
	return &Shell{
		ctrl:       ctrl,
		out:        out,
		printer:    newPrinter(),
		markdown:   IsStdoutTTY(),
		readSecret: readPassword,
	}
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Execute runs one line of input. It returns false when the shell should
// exit. Action failures are printed, not returned.
func (s *Shell) Execute(ctx context.Context, input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return true
	}
	if !strings.HasPrefix(input, "/") {
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return false
		}
		s.chat(ctx, input)
		return true
	}

	cmd, arg, _ := strings.Cut(input[1:], " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "quit", "q", "exit":
		return false
	case "help", "h", "?":
		s.help()
	case "key":
		s.setKey(arg)
	case "keys":
		renderCredentials(s.out, s.ctrl.Credentials())
	case "clearkeys":
		s.ctrl.ClearCredentials()
		fmt.Fprintln(s.out, RenderConditional(SuccessStyle, "All API keys cleared."))
	case "image", "img":
		img, err := s.ctrl.GenerateImage(s.actionContext(ctx), arg)
		s.done()
		if s.report(err) {
			renderImage(s.out, img)
		}
	case "video", "videos":
		s.search(ctx, provider.FeatureVideo, arg)
	case "news":
		s.search(ctx, provider.FeatureNews, arg)
	case "stock", "stocks":
		s.quote(ctx, provider.FeatureStocks, arg)
	case "crypto":
		s.quote(ctx, provider.FeatureCrypto, arg)
	case "clear", "c":
		s.ctrl.ClearConversation()
		fmt.Fprintln(s.out, DimStyle.Render("Conversation cleared."))
	case "state", "s":
		s.states(arg)
	default:
		fmt.Fprintf(s.out, "%s unknown command /%s. Type /help.\n", RenderConditional(WarningStyle, "[?]"), cmd)
	}
	return true
}

func (s *Shell) states(arg string) {
	if arg == "" {
		renderStates(s.out, s.ctrl.Snapshot())
		return
	}
	f, err := provider.ParseFeature(arg)
	if err != nil {
		s.report(&session.ValidationError{Field: "feature", Message: err.Error()})
		return
	}
	renderStates(s.out, session.Snapshot{Features: []session.FeatureView{s.ctrl.FeatureSnapshot(f)}})
}

func (s *Shell) chat(ctx context.Context, prompt string) {
	var streamed strings.Builder
	reply, err := s.ctrl.SubmitPrompt(s.actionContext(ctx), prompt, func(text string) {
		streamed.WriteString(text)
		fmt.Fprint(s.out, text)
	})
	s.done()
	if streamed.Len() > 0 {
		fmt.Fprintln(s.out)
	}
	if !s.report(err) {
		return
	}
	if s.markdown && reply != "" {
		fmt.Fprintln(s.out, RenderSeparatorAdaptive())
		fmt.Fprint(s.out, renderMarkdown(reply))
	}
}

func (s *Shell) search(ctx context.Context, f provider.Feature, query string) {
	res, err := s.ctrl.SubmitSearch(s.actionContext(ctx), f, query)
	s.done()
	if s.report(err) {
		renderSearch(s.out, res)
	}
}

func (s *Shell) quote(ctx context.Context, f provider.Feature, symbol string) {
	q, err := s.ctrl.FetchQuote(s.actionContext(ctx), f, symbol)
	s.done()
	if s.report(err) {
		renderQuote(s.out, s.printer, q)
	}
}

func (s *Shell) setKey(arg string) {
	id, inline, _ := strings.Cut(arg, " ")
	inline = strings.TrimSpace(inline)
	if id == "" {
		fmt.Fprintf(s.out, "Usage: /key <provider>  (%s)\n", strings.Join(provider.KnownProviders, ", "))
		return
	}
	if !provider.IsKnown(id) {
		s.report(&session.ValidationError{Field: "provider", Message: fmt.Sprintf("unknown provider %q", id)})
		return
	}
	secret := inline
	if secret == "" {
		var err error
		if secret, err = s.readSecret(provider.DisplayName(id) + " API key: "); err != nil {
			s.report(err)
			return
		}
	}
	if s.report(s.ctrl.SetCredential(id, secret)) {
		fmt.Fprintf(s.out, "%s %s key set.\n", RenderConditional(SuccessStyle, "[OK]"), provider.DisplayName(id))
	}
}

func (s *Shell) help() {
	fmt.Fprintln(s.out, "Type a message to chat, or use a command:")
	for _, c := range shellCommands {
		fmt.Fprintf(s.out, "  %s %s\n", RenderConditional(commandStyle, fmt.Sprintf("%-18s", c[0])), DimStyle.Render(c[1]))
	}
}

// report prints err and returns true when there was none.
func (s *Shell) report(err error) bool {
	if err == nil {
		return true
	}
	renderError(s.out, err)
	return false
}

// actionContext returns a context that Interrupt cancels.
func (s *Shell) actionContext(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	return ctx
}

func (s *Shell) done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Interrupt cancels the action in flight, if any. It reports whether there
// was one.
func (s *Shell) Interrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

// =============================================================================
// COMMAND
// =============================================================================

func newShellCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session in the terminal",
		Long: `Start an interactive session. Keys entered with /key live only in
memory and are forgotten when the shell exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := RequiresTTY("run the shell"); err != nil {
				return err
			}
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			return runShell(cmd.Context(), cfg)
		},
	}
}

func runShell(ctx context.Context, cfg *config.Config) error {
	// The shell owns the terminal; only warnings reach stderr.
	if level, err := logging.ParseLevel(cfg.Logging.Level); err != nil || level < zerolog.WarnLevel {
		cfg.Logging.Level = "warn"
	}
	logger := newLogger(cfg)

	mgr := newManager(cfg, logger)
	defer mgr.Shutdown()
	ctrl, err := mgr.Create()
	if err != nil {
		return err
	}

	sh := NewShell(ctrl, os.Stdout)

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	historyFile := shellHistoryPath()
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
		line.Close()
	}()

	// Ctrl+C while an action runs cancels it; at the prompt liner aborts.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if sh.Interrupt() {
				fmt.Fprintln(os.Stderr, "\n"+RenderConditional(WarningStyle, "[Cancelled]"))
			}
		}
	}()

	fmt.Println(RenderConditional(TitleStyle, "apidesk "+Version))
	fmt.Println(DimStyle.Render("Type /help for commands. Keys stay in memory for this session only."))

	for {
		input, err := line.Prompt("apidesk> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return err
		}
		if recordInHistory(input) {
			line.AppendHistory(input)
		}
		if !sh.Execute(ctx, input) {
			return nil
		}
	}
}

// recordInHistory reports whether input may be written to the history file.
// /key lines are never recorded, since a key may have been typed inline.
func recordInHistory(input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return false
	}
	cmd, _, _ := strings.Cut(input, " ")
	return !strings.EqualFold(cmd, "/key")
}

func shellHistoryPath() string {
	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "shell_history")
}
