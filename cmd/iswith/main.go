package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jenian/iswith/internal/config"
	"github.com/jenian/iswith/internal/model"
)

var (
	// Version is set during build via ldflags
	// Example: go build -ldflags="-X main.Version=v1.0.0" ./cmd/iswith
	Version = "dev"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		printError(stderr, err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "iswith",
		Short:         "Discover the inputs GitHub Actions workflows are run with",
		Long:          fmt.Sprintf("iswith reads workflow definitions and run logs to show which inputs a workflow\nactually receives and how often.\n\nVersion: %s", Version),
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("token", "", "GitHub token (defaults to GITHUB_TOKEN)")
	flags.String("app-id", "", "GitHub App id (defaults to GITHUB_APP_ID)")
	flags.String("private-key", "", "GitHub App private key path (defaults to GITHUB_PRIVATE_KEY_PATH)")
	flags.String("api-url", "", "GitHub API URL (defaults to GITHUB_API_URL or https://api.github.com)")
	flags.Int("concurrency", 4, "Number of logs fetched at once (1-16)")
	flags.Duration("timeout", 5*time.Minute, "Overall time limit")
	flags.StringP("format", "f", config.FormatMarkdown, "Output format: markdown, plain or json")
	flags.Bool("no-redact", false, "Do not redact secrets from values and examples")
	flags.BoolP("verbose", "v", false, "Log progress and skipped runs to stderr")

	root.AddCommand(newInputsCmd(), newUsageCmd(), newWorkflowsCmd(), newScanCmd())
	return root
}

// env is what every command needs once flags are parsed
type env struct {
	cfg    *config.Config
	log    zerolog.Logger
	out    io.Writer
	errOut io.Writer
}

func setup(cmd *cobra.Command) (*env, error) {
	// a missing .env file is fine
	_ = godotenv.Load()

	cfg, err := config.Load(viper.New(), cmd.Flags())
	if err != nil {
		return nil, err
	}

	level := zerolog.WarnLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	if cfg.Format != config.FormatJSON {
		printHeader(cmd.ErrOrStderr())
	}
	return &env{cfg: cfg, log: logger, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}, nil
}

// context bounds the whole invocation by the configured timeout
func (e *env) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), e.cfg.Timeout)
}

// progress returns a spinner on stderr, or nil when output should stay quiet
func (e *env) progress(suffix string) *spinner.Spinner {
	if e.cfg.Verbose || e.cfg.Format != config.FormatMarkdown {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(e.errOut))
	s.Suffix = " " + suffix
	return s
}

// printHeader displays a nice visual header with the tool name and version
func printHeader(w io.Writer) {
	headerColor := color.New(color.FgCyan, color.Bold)
	versionColor := color.New(color.FgHiBlack)

	headerColor.Fprint(w, "[ iswith ]")
	versionColor.Fprintf(w, "  version %s\n\n", Version)
}

func printError(w io.Writer, err error) {
	color.New(color.FgRed, color.Bold).Fprint(w, "Error: ")
	fmt.Fprintln(w, err)
	if errors.Is(err, context.DeadlineExceeded) {
		fmt.Fprintln(w, "\nThe analysis ran out of time; raise --timeout or lower --runs.")
		return
	}
	if hint := model.Hint(err); hint != "" {
		color.New(color.FgYellow).Fprintln(w, "\nSuggestions:")
		fmt.Fprintln(w, hint)
	}
}
