// Package cli implements the almctl command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/almsync/internal/paths"
	"github.com/mesh-intelligence/almsync/internal/session"
	"github.com/mesh-intelligence/almsync/pkg/alm"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	verbose   bool
	quiet     bool
	logFile   string
}

// app is the state one command invocation shares across its subcommands.
type app struct {
	flags  rootFlags
	config *viper.Viper
	stderr io.Writer
	logs   io.Closer

	// prompt asks for the password of user; replaced in tests.
	prompt func(user string) (string, error)

	client *alm.Client
}

// NewRootCmd creates the top-level "almctl" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	return newApp().rootCmd()
}

func newApp() *app {
	a := &app{stderr: os.Stderr}
	a.prompt = func(user string) (string, error) { return promptPassword(a.stderr, user) }
	return a
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "almctl",
		Short:   "Work with an ALM server from the command line",
		Long:    "almctl reads and edits work items, test runs and plans on an ALM server,\nand can serve a local reference server for development.",
		Version: alm.Version,
		// Do not print usage on errors returned by subcommands.
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "reference server data directory (default: $(CWD)/.almsync-db)")
	pf.BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "debug logging")
	pf.BoolVarP(&a.flags.quiet, "quiet", "q", false, "log warnings and errors only")
	pf.StringVar(&a.flags.logFile, "log-file", "", "also write logs to this rotating file")
	pf.String("url", "", "ALM server url")
	pf.String("user", "", "user name")
	pf.String("token", "", "personal access token")

	root.AddCommand(a.versionCmd())
	root.AddCommand(a.initCmd())
	root.AddCommand(a.workItemCmd())
	root.AddCommand(a.testRunCmd())
	root.AddCommand(a.planCmd())
	root.AddCommand(a.resolveCmd())
	root.AddCommand(a.serveCmd())

	return root
}

// setup builds the logger and loads the configuration before any subcommand
// runs.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger, closer, err := newLogger(a.stderr, a.flags.verbose, a.flags.quiet, a.flags.logFile)
	if err != nil {
		return err
	}
	a.logs = closer
	cmd.SetContext(logger.WithContext(ctx))

	if cmd.Name() == "version" {
		return nil
	}

	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return err
	}
	for _, key := range []string{cfgKeyURL, cfgKeyUser, cfgKeyToken} {
		if err := v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(key)); err != nil {
			return fmt.Errorf("bind flag %s: %w", key, err)
		}
	}
	a.config = v
	return nil
}

// teardown ends the session the command opened and closes the log file.
func (a *app) teardown(cmd *cobra.Command, args []string) error {
	return a.close(cmd.Context())
}

// close ends the app's own session and closes the log file. It is safe to
// call more than once.
func (a *app) close(ctx context.Context) error {
	var err error
	if a.client != nil {
		err = a.client.Close(ctx)
		a.client = nil
	}
	if a.logs != nil {
		err = errors.Join(err, a.logs.Close())
		a.logs = nil
	}
	return err
}

// execute runs root and then closes what the invocation opened. Cobra skips
// PersistentPostRunE when RunE fails, so the close happens here as well.
func (a *app) execute(ctx context.Context, root *cobra.Command) error {
	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.close(ctx))
}

// connect opens the client session, prompting for a missing password.
func (a *app) connect(ctx context.Context) (*alm.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	cfg, err := clientConfig(a.config)
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" && cfg.User != "" && cfg.Password == "" {
		password, err := a.prompt(cfg.User)
		if err != nil && !errors.Is(err, errNoTerminal) {
			return nil, err
		}
		cfg.Password = password
	}

	c, err := alm.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

// dataDir resolves the reference server data directory.
func (a *app) dataDir() (string, error) {
	return paths.ResolveDataDir(a.flags.dataDir, a.config.GetString(cfgKeyDataDir))
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	a := newApp()
	err := a.execute(context.Background(), a.rootCmd())
	_ = session.RunExitHooks(context.Background())
	if err != nil {
		os.Exit(exitCode(err))
	}
	os.Exit(exitSuccess)
}

// exitCode maps an error to exitUserError when the request itself was at
// fault and exitSysError otherwise.
func exitCode(err error) int {
	for _, user := range []error{
		types.ErrNotFound,
		types.ErrMalformedIdentifier,
		types.ErrUnknownEntityType,
		types.ErrFieldNotAllowed,
		types.ErrTypeNotAllowed,
		types.ErrActionNotFound,
		types.ErrStatusNotAvailable,
		types.ErrInvalidResult,
		types.ErrURLEmpty,
		types.ErrCredentialsMissing,
		types.ErrAuthentication,
		errUsage,
	} {
		if errors.Is(err, user) {
			return exitUserError
		}
	}
	return exitSysError
}
