// Package chatcmder provides the chat command: an interactive session with
// the agent streamed through a running oryx proxy.
package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/oryx/pkg/cliui"
	"github.com/papercomputeco/oryx/pkg/config"
	"github.com/papercomputeco/oryx/pkg/dotdir"
	"github.com/papercomputeco/oryx/pkg/httpfetch"
	"github.com/papercomputeco/oryx/pkg/logger"
	"github.com/papercomputeco/oryx/pkg/oryx"
	"github.com/papercomputeco/oryx/pkg/preview"
	"github.com/papercomputeco/oryx/proxy"
)

const (
	defaultWidth   = 80
	maxPreviewText = 600
)

var userPrompt = cliui.UserStyle.Render("you> ")

type chatCommander struct {
	proxyTarget string
	timeout     string
	logLevel    string
	logFormat   string
	newConv     bool
	thinking    bool
	plain       bool
	debug       bool
	configDir   string

	cfg    *config.Config
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	logger *slog.Logger

	ddm         *dotdir.Manager
	conv        *dotdir.Conversation
	session     *oryx.Session
	loader      *preview.Loader
	render      cliui.TurnOptions
	turnTimeout time.Duration
}

const chatLongDesc string = `Start an interactive chat session through the oryx proxy.

Each message is sent to the proxy's /api/chat route and the streamed answer
is rendered once the turn ends: intermediate steps, tool calls, the answer
and the sources it cites. Press Ctrl+C while a turn streams to stop it.

The conversation id is saved in the .oryx/ directory after every turn, so
the next "oryx chat" continues the same conversation. Use --new to start
over.

Commands inside the session:
  /preview <n>   Show the source cited as [n] in the last answer
  /new           Start a new conversation
  /help          Show this list
  /exit          Quit (Ctrl+D also works)

Examples:
  oryx chat
  oryx chat --proxy-target http://localhost:9000 --new`

const chatShortDesc string = "Interactive agent chat through the oryx proxy"

const sessionHelp = `/preview <n>  show source [n] of the last answer
/new          start a new conversation
/exit         quit`

var chatFlags = config.FlagSet{
	config.FlagProxyTarget: {Name: "proxy-target", Shorthand: "p", ViperKey: "client.proxy_target", Description: "oryx proxy URL"},
	config.FlagTimeout:     {Name: "timeout", ViperKey: "client.timeout", Description: "Maximum duration of one turn (0 disables)"},
	config.FlagLogLevel:    {Name: "log-level", ViperKey: "log.level", Description: "Log level (debug, info, warn, error)"},
	config.FlagLogFormat:   {Name: "log-format", ViperKey: "log.format", Description: "Log format (pretty, text, json)"},
}

var chatFlagKeys = []string{
	config.FlagProxyTarget,
	config.FlagTimeout,
	config.FlagLogLevel,
	config.FlagLogFormat,
}

func NewChatCmd() *cobra.Command {
	return newChatCmd(&chatCommander{})
}

func newChatCmd(cmder *chatCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, chatFlags, chatFlagKeys)
			cmder.cfg = config.FromViper(v)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			cmder.errOut = cmd.ErrOrStderr()
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, chatFlags, config.FlagProxyTarget, &cmder.proxyTarget)
	config.AddStringFlag(cmd, chatFlags, config.FlagTimeout, &cmder.timeout)
	config.AddStringFlag(cmd, chatFlags, config.FlagLogLevel, &cmder.logLevel)
	config.AddStringFlag(cmd, chatFlags, config.FlagLogFormat, &cmder.logFormat)
	cmd.Flags().BoolVar(&cmder.newConv, "new", false, "Start a new conversation instead of resuming the saved one")
	cmd.Flags().BoolVar(&cmder.thinking, "thinking", false, "Show the agent's thinking steps")
	cmd.Flags().BoolVar(&cmder.plain, "plain", false, "Disable markdown rendering and spinners")

	return cmd
}

func (c *chatCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	opts, err := c.cfg.Log.LoggerOptions(c.debug)
	if err != nil {
		return err
	}
	c.logger = logger.New(append(opts, logger.WithWriter(c.errOut), logger.WithPrefix("chat"))...)

	c.turnTimeout, err = c.cfg.Client.TimeoutDuration()
	if err != nil {
		return err
	}

	c.ddm = dotdir.NewManager()
	if c.newConv {
		if err := c.ddm.ClearConversation(c.configDir); err != nil {
			return fmt.Errorf("clearing conversation: %w", err)
		}
	} else {
		c.conv, err = c.ddm.LoadConversation(c.configDir)
		if err != nil {
			return fmt.Errorf("loading conversation: %w", err)
		}
	}

	fmt.Fprintln(c.out)
	if c.conv != nil && c.conv.ConversationID != "" {
		fmt.Fprintf(c.out, "  %s Resuming conversation %s %s\n",
			cliui.SuccessMark,
			cliui.KeyStyle.Render(c.conv.ConversationID),
			cliui.DimStyle.Render(fmt.Sprintf("(%d messages)", len(c.conv.Transcript))),
		)
	} else {
		c.conv = &dotdir.Conversation{}
		fmt.Fprintf(c.out, "  %s New conversation\n", cliui.DimStyle.Render("●"))
	}

	target := strings.TrimSuffix(c.cfg.Client.ProxyTarget, "/")
	fmt.Fprintf(c.out, "  %s %s\n\n", cliui.KeyStyle.Render("Proxy:"), cliui.ValueStyle.Render(target))
	fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /help for commands, /exit or Ctrl+D to quit."))

	c.session = c.newSession(target, c.conv.ConversationID)
	c.loader = preview.NewLoader(preview.NewHTTPFetcher(target, nil), c.logger)
	c.render = c.renderOptions()

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Fprint(c.out, userPrompt)
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		cmdName, arg, _ := strings.Cut(input, " ")
		switch cmdName {
		case "/exit", "/quit":
			fmt.Fprintln(c.out)
			return nil
		case "/help":
			fmt.Fprintln(c.out, cliui.DimStyle.Render(sessionHelp))
			continue
		case "/new":
			c.reset(target)
			continue
		case "/preview":
			c.preview(ctx, strings.TrimSpace(arg))
			continue
		}

		if err := c.turn(ctx, input); err != nil {
			fmt.Fprintf(c.errOut, "  %s %v\n", cliui.FailMark, err)
		}
		fmt.Fprintln(c.out)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Fprintln(c.out)
	return nil
}

func (c *chatCommander) newSession(target, conversationID string) *oryx.Session {
	fetcher := httpfetch.New(target+proxy.ChatPath, httpfetch.WithLogger(c.logger))
	return oryx.NewSession(fetcher,
		oryx.WithLogger(c.logger),
		oryx.WithConversationID(conversationID),
	)
}

// renderOptions enables markdown and spinners only on a terminal.
func (c *chatCommander) renderOptions() cliui.TurnOptions {
	opts := cliui.TurnOptions{
		Width:        defaultWidth,
		ShowThinking: c.thinking,
		OmitPrompt:   true,
	}
	if c.plain {
		return opts
	}

	f, ok := c.out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return opts
	}
	opts.Markdown = true
	if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
		opts.Width = w
	}
	return opts
}

// turn streams one prompt and renders the resulting state.
func (c *chatCommander) turn(ctx context.Context, prompt string) error {
	turnCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.turnTimeout > 0 {
		turnCtx, cancel = context.WithTimeout(ctx, c.turnTimeout)
	}
	defer cancel()

	if err := c.session.Start(turnCtx, prompt); err != nil {
		return err
	}

	// Ctrl+C stops the turn instead of killing the session.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigChan:
			c.session.Stop()
		case <-done:
		}
	}()

	wait := func() error {
		c.session.Wait()
		return nil
	}
	if c.render.Markdown {
		_ = cliui.Step(c.errOut, "Waiting for the agent", wait)
	} else {
		_ = wait()
	}
	close(done)
	signal.Stop(sigChan)

	id, st, ok := c.session.States().Latest()
	if !ok {
		return nil
	}
	if err := cliui.RenderTurn(c.out, id, st, c.render); err != nil {
		return err
	}

	return c.record(prompt, st)
}

// record appends the turn to the saved conversation.
func (c *chatCommander) record(prompt string, st *oryx.State) error {
	c.conv.Transcript = append(c.conv.Transcript, dotdir.TranscriptEntry{Role: string(oryx.RoleUser), Content: prompt})
	if st.AgentMessage != nil && st.AgentMessage.Content != "" {
		c.conv.Transcript = append(c.conv.Transcript, dotdir.TranscriptEntry{Role: "assistant", Content: st.AgentMessage.Content})
	}
	if id := c.session.ConversationID(); id != "" {
		c.conv.ConversationID = id
	}
	c.conv.UpdatedAt = time.Now().UTC()

	err := c.ddm.SaveConversation(c.conv, c.configDir)
	if errors.Is(err, dotdir.ErrNoTarget) {
		c.logger.Debug("no .oryx directory, conversation not saved")
		return nil
	}
	if err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	return nil
}

func (c *chatCommander) reset(target string) {
	c.session.Stop()
	c.session.Wait()

	if err := c.ddm.ClearConversation(c.configDir); err != nil {
		c.logger.Warn("could not clear saved conversation", "error", err)
	}
	c.conv = &dotdir.Conversation{}
	c.session = c.newSession(target, "")
	fmt.Fprintf(c.out, "  %s New conversation\n\n", cliui.DimStyle.Render("●"))
}

// preview loads and prints the source cited as [n] in the last answer.
func (c *chatCommander) preview(ctx context.Context, arg string) {
	fail := func(format string, args ...any) {
		fmt.Fprintf(c.out, "  %s %s\n\n", cliui.FailMark, fmt.Sprintf(format, args...))
	}

	n, err := strconv.Atoi(strings.Trim(arg, "[]"))
	if err != nil {
		fail("usage: /preview <n>")
		return
	}

	id, st, ok := c.session.States().Latest()
	if !ok {
		fail("nothing to preview yet")
		return
	}
	r, ok := oryx.RetrievalByNumber(st, n)
	if !ok {
		fail("the last answer has no source [%d]", n)
		return
	}
	if id == oryx.PendingMessageID {
		fail("the last turn never received a message id")
		return
	}

	var res preview.Result
	load := func() error {
		res = c.loader.Load(ctx, preview.Params{ContentID: r.ContentID, MessageID: id, Extras: r.Extras})
		if res.Err != nil {
			return res.Err
		}
		return nil
	}
	if c.render.Markdown {
		_ = cliui.Step(c.errOut, "Loading preview", load)
	} else {
		_ = load()
	}

	switch {
	case res.Err != nil:
		fail("%s", res.Err.Detail)
	case res.Metadata != nil:
		c.printMetadata(r, res.Metadata)
	}
}

func (c *chatCommander) printMetadata(r oryx.Retrieval, md *preview.Metadata) {
	fmt.Fprintf(c.out, "  %s %s %s\n",
		cliui.KeyStyle.Render(fmt.Sprintf("[%d]", r.Number)),
		cliui.ValueStyle.Render(r.Name),
		cliui.DimStyle.Render(fmt.Sprintf("page %d, document %s", md.Page, md.DocumentID)),
	)

	text := cliui.Truncate(strings.TrimSpace(md.ContentText), maxPreviewText)
	if text != "" {
		fmt.Fprintf(c.out, "\n%s\n", text)
	}
	if md.PageImage != "" {
		fmt.Fprintf(c.out, "  %s\n", cliui.DimStyle.Render(fmt.Sprintf("page image: %d bytes (base64)", len(md.PageImage))))
	}
	fmt.Fprintln(c.out)
}
