package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/ZMB-UZH/omero-docker-extended/internal/config"
	qerrors "github.com/ZMB-UZH/omero-docker-extended/internal/errors"
	"github.com/ZMB-UZH/omero-docker-extended/internal/version"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" type:"path"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Enforce struct{} `cmd:"" help:"Run one reconciliation pass and exit non-zero unless it converged"`

	Daemon struct{} `cmd:"" help:"Run continuously: periodic sweep, state document watcher, admin endpoint"`

	Status struct {
		JSON bool `help:"Emit machine-readable JSON instead of a table"`
	} `cmd:"" help:"Show group mappings, desired quotas, and recent runs"`

	Set struct {
		Group   string  `arg:"" help:"Group directory name under the managed root"`
		QuotaGB float64 `arg:"" optional:"" name:"quota-gb" help:"Desired quota in GB"`
		Delete  bool    `help:"Remove the group from the desired state instead"`
	} `cmd:"" help:"Set or remove one group's desired quota"`

	Import struct {
		CSV string `arg:"" type:"existingfile" help:"CSV file with Group,Quota [GB] columns"`
	} `cmd:"" help:"Import desired quotas from a CSV file"`

	Template struct {
		Output string `short:"o" help:"Write to a file instead of stdout" type:"path"`
	} `cmd:"" help:"Print a CSV template seeded with the current desired state"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("quotad"),
		kong.Description("Project quota reconciliation agent for the OMERO managed repository."),
		kong.UsageOnError(),
	)

	if ctx.Command() == "version" {
		fmt.Printf("quotad %s (commit %s, built %s)\n",
			version.Version, version.GitCommit, version.BuildTime)
		return
	}

	cfg, err := config.LoadOrDefault(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quotad: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg, CLI.Verbose)

	var runErr error
	switch ctx.Command() {
	case "enforce":
		runErr = runEnforce(cfg)
	case "daemon":
		runErr = runDaemon(cfg)
	case "status":
		runErr = runStatus(cfg, CLI.Status.JSON)
	case "set <group> <quota-gb>", "set <group>":
		runErr = runSet(cfg, CLI.Set.Group, CLI.Set.QuotaGB, CLI.Set.Delete)
	case "import <csv>":
		runErr = runImport(cfg, CLI.Import.CSV)
	case "template":
		runErr = runTemplate(cfg, CLI.Template.Output)
	default:
		runErr = fmt.Errorf("unknown command: %s", ctx.Command())
	}

	if runErr != nil {
		qerrors.NewCLIErrorAdapter(CLI.Verbose, slog.Default()).HandleError(runErr)
	}
}

// setupLogging installs the process-wide logger. Logs go to stderr so the
// template and status commands can write their payload to stdout.
func setupLogging(cfg *config.Config, verbose bool) {
	level := slog.LevelInfo
	switch config.NormalizeLogLevel(cfg.Logging.Level) {
	case config.LogLevelDebug:
		level = slog.LevelDebug
	case config.LogLevelWarn:
		level = slog.LevelWarn
	case config.LogLevelError:
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if config.NormalizeLogFormat(cfg.Logging.Format) == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
