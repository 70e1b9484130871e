// Package clicmd implements the command-line commands for cchist. It is
// intentionally thin: every handler validates flags into a typed request
// and calls exactly one internal/engine.Engine method, mirroring kopia's
// cli.App / appServices framing (cli/app.go) without any of the repository
// machinery this module doesn't need.
package clicmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/pkg/errors"

	"github.com/justSteve/claude-config-history/internal/config"
	"github.com/justSteve/claude-config-history/internal/engine"
	"github.com/justSteve/claude-config-history/internal/logging"
)

var log = logging.Module("cchist/cli")

//nolint:gochecknoglobals
var (
	errorColor = color.New(color.FgHiRed)
	noteColor  = color.New(color.FgHiCyan)
)

// App holds per-invocation flags and the lazily-opened Engine.
type App struct {
	dbPath     string
	configPath string
	platform   string

	stdoutWriter io.Writer
	stderrWriter io.Writer

	eng *engine.Engine

	snapshotCmd commandSnapshot
}

// NewApp constructs an App with its I/O hooks wired to colorable stdio,
// matching cli.NewApp's testability-hook convention.
func NewApp() *App {
	return &App{
		stdoutWriter: colorable.NewColorableStdout(),
		stderrWriter: colorable.NewColorableStderr(),
		platform:     runtime.GOOS,
	}
}

func (a *App) stderr() io.Writer { return a.stderrWriter }

// Attach registers every command and global flag on app, mirroring
// cli.App.Attach.
func (a *App) Attach(app *kingpin.Application) {
	app.Flag("db", "Path to the configuration history database").
		Default(defaultDBPath()).StringVar(&a.dbPath)
	app.Flag("config", "Path to the YAML location document (default: built-in)").
		StringVar(&a.configPath)
	app.Flag("platform", "Platform filter applied to locations (default: runtime GOOS)").
		Default(runtime.GOOS).StringVar(&a.platform)

	a.snapshotCmd.setup(app, a)
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cchist.db"
	}

	return filepath.Join(home, ".cchist", "history.db")
}

// engineAction wraps act so kingpin can call it as a command Action: it
// opens the Engine on first use and converts any error into kingpin's
// expected return convention.
func (a *App) engineAction(act func(ctx context.Context, eng *engine.Engine) error) func(*kingpin.ParseContext) error {
	return func(*kingpin.ParseContext) error {
		eng, err := a.ensureEngine()
		if err != nil {
			return err
		}

		if err := act(context.Background(), eng); err != nil {
			errorColor.Fprintf(a.stderr(), "error: %v\n", err) //nolint:errcheck

			return err
		}

		return nil
	}
}

func (a *App) ensureEngine() (*engine.Engine, error) {
	if a.eng != nil {
		return a.eng, nil
	}

	doc := config.Default()

	if a.configPath != "" {
		loaded, err := config.LoadFile(a.configPath)
		if err != nil {
			return nil, errors.Wrap(err, "loading configuration document")
		}

		doc = loaded
	}

	if err := os.MkdirAll(filepath.Dir(a.dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating database directory")
	}

	eng, err := engine.Open(context.Background(), a.dbPath, doc, a.platform, nil)
	if err != nil {
		return nil, errors.Wrap(err, "opening engine")
	}

	log.Debugw("engine opened", "db", a.dbPath, "platform", a.platform)

	a.eng = eng

	return eng, nil
}

// Close releases the Engine, if one was opened.
func (a *App) Close() error {
	if a.eng == nil {
		return nil
	}

	return a.eng.Close()
}
