package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"llmchat/internal/client"
)

type chatOptions struct {
	server       string
	token        string
	username     string
	password     string
	model        string
	systemPrompt string
	webSearch    bool
	attach       []string
	render       bool
}

func newChatCommand() *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a running server from the terminal",
		Long: "Reads one message per line from stdin and streams the reply.\n" +
			"Ctrl-C cancels the reply in flight; /new starts a new conversation, /quit exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("render") {
				opts.render = isatty.IsTerminal(os.Stdout.Fd())
			}
			return runChat(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.server, "server", envOr("LLMCHAT_SERVER", "http://localhost:8090"), "server base URL")
	f.StringVar(&opts.token, "token", os.Getenv("LLMCHAT_TOKEN"), "bearer token; use --username/--password to log in instead")
	f.StringVar(&opts.username, "username", "", "username to log in with")
	f.StringVar(&opts.password, "password", os.Getenv("LLMCHAT_PASSWORD"), "password to log in with")
	f.StringVar(&opts.model, "model", "", "model identifier, e.g. gpt-4o, gemini-2.5-flash or claude-code:<project>")
	f.StringVar(&opts.systemPrompt, "system", "", "system prompt for a new conversation")
	f.BoolVar(&opts.webSearch, "web-search", false, "augment every turn with web search results")
	f.StringSliceVar(&opts.attach, "attach", nil, "files to attach to the first message")
	f.BoolVar(&opts.render, "render", false, "render replies as markdown (default when stdout is a terminal)")
	return cmd
}

func runChat(ctx context.Context, opts *chatOptions, in io.Reader, out, errOut io.Writer) error {
	c := client.New(opts.server, client.WithToken(opts.token))
	if opts.username != "" {
		if err := c.Login(ctx, opts.username, opts.password); err != nil {
			return errors.Wrap(err, "login")
		}
	}
	if c.Token() == "" {
		return errors.New("a --token or --username is required")
	}

	var renderer *glamour.TermRenderer
	if opts.render {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err != nil {
			fmt.Fprintf(errOut, "markdown rendering disabled: %v\n", err)
		} else {
			renderer = r
		}
	}

	newTranscript := func() *client.Transcript {
		t := client.NewTranscript(c, opts.model)
		t.WebSearch = opts.webSearch
		if opts.systemPrompt != "" {
			sp := opts.systemPrompt
			t.SystemPrompt = &sp
		}
		return t
	}
	transcript := newTranscript()
	attach := opts.attach

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(errOut, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			transcript = newTranscript()
			fmt.Fprintln(errOut, "started a new conversation")
			continue
		}

		var tempIDs []string
		if len(attach) > 0 {
			ids, err := c.Upload(ctx, attach...)
			if err != nil {
				fmt.Fprintf(errOut, "upload failed: %v\n", err)
				continue
			}
			tempIDs, attach = ids, nil
		}

		if err := chatTurn(ctx, transcript, line, tempIDs, renderer, out, errOut); err != nil {
			return err
		}
	}
	return errors.Wrap(scanner.Err(), "read input")
}

// chatTurn streams one reply. Only unexpected failures are returned; server
// and cancellation errors are reported and the loop continues.
func chatTurn(ctx context.Context, t *client.Transcript, line string, tempIDs []string, renderer *glamour.TermRenderer, out, errOut io.Writer) error {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	onDelta := func(s string) { fmt.Fprint(out, s) }
	if renderer != nil {
		onDelta = nil
	}
	res, err := t.Send(turnCtx, line, tempIDs, onDelta)
	switch {
	case errors.Is(err, client.ErrHTMLResponse):
		fmt.Fprintln(errOut, "\nthe server returned an HTML page; your session has probably expired, log in again")
		return nil
	case turnCtx.Err() != nil && ctx.Err() == nil:
		fmt.Fprintln(errOut, "\n[cancelled]")
		return nil
	case err != nil:
		var httpErr *client.HTTPError
		if errors.As(err, &httpErr) {
			fmt.Fprintf(errOut, "\n%v\n", httpErr)
			return nil
		}
		return err
	}

	if renderer != nil {
		rendered, rerr := renderer.Render(res.Text)
		if rerr != nil {
			rendered = res.Text
		}
		fmt.Fprint(out, rendered)
	} else {
		fmt.Fprintln(out)
	}
	if res.StreamError != "" {
		fmt.Fprintf(errOut, "[reply failed: %s]\n", res.StreamError)
	}
	return nil
}
