package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/neuroforge/labmirror/pkg/archive"
	"github.com/neuroforge/labmirror/pkg/config"
	"github.com/neuroforge/labmirror/pkg/engine"
	"github.com/neuroforge/labmirror/pkg/mirror"
	"github.com/neuroforge/labmirror/pkg/plog"
	"github.com/neuroforge/labmirror/pkg/preflight"
	"github.com/neuroforge/labmirror/pkg/runner"
	"github.com/neuroforge/labmirror/pkg/settings"
	"github.com/neuroforge/labmirror/pkg/watch"
)

// appName is the canonical name of the application used for logging.
const appName = "LabMirror"

// version holds the application's version string.
// It's a `var` so it can be set at compile time using ldflags.
// Example: go build -ldflags="-X main.version=1.0.0"
var version = "dev"

// action defines a special command to execute instead of a mirror run.
type action int

const (
	actionRunMirror action = iota // The default action is to mirror a project.
	actionShowVersion
	actionInitConfig
	actionArchive
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", appName, version)
		fmt.Fprintf(flag.CommandLine.Output(), "Mirrors a project's raw recording data to a server share and keeps session file inventories in sync.\n\n")
		flag.PrintDefaults()
	}
}

// cliFlags holds the parsed command-line values. Zero values mean the
// flag was not set; loaded config fills the gaps.
type cliFlags struct {
	rawRoot     string
	project     string
	serverRoot  string
	logLevel    string
	failFastSet bool
	failFast    bool
	chunkSizeMB int
	watchMode   bool
	archiveOut  string
	archiveFmt  string
}

func parseFlags() (action, *cliFlags, error) {
	rawRootFlag := flag.String("raw-root", "", "Local directory holding one subdirectory per project.")
	projectFlag := flag.String("project", "", "Project to mirror (defaults to the last opened project).")
	serverRootFlag := flag.String("server-root", "", "Server directory to mirror into (remembered per project).")
	logLevelFlag := flag.String("log-level", "", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	failFastFlag := flag.Bool("fail-fast", true, "Stop the run immediately on the first file copy error.")
	chunkSizeFlag := flag.Int("chunk-size-mb", 0, "Copy chunk size in mebibytes.")
	watchFlag := flag.Bool("watch", false, "Keep running and re-mirror whenever the source changes.")
	archiveFlag := flag.String("archive", "", "Write the project as a compressed tarball to this directory and exit.")
	archiveFormatFlag := flag.String("archive-format", "", "Archive format: 'tar.gz' or 'tar.zst'.")
	initFlag := flag.Bool("init", false, "Generate a default labmirror.config.json in the raw root and exit.")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")

	flag.Parse()

	usedFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flags := &cliFlags{
		rawRoot:     *rawRootFlag,
		project:     *projectFlag,
		serverRoot:  *serverRootFlag,
		logLevel:    *logLevelFlag,
		failFastSet: usedFlags["fail-fast"],
		failFast:    *failFastFlag,
		chunkSizeMB: *chunkSizeFlag,
		watchMode:   *watchFlag,
		archiveOut:  *archiveFlag,
		archiveFmt:  *archiveFormatFlag,
	}

	if *versionFlag {
		return actionShowVersion, flags, nil
	}
	if *initFlag {
		return actionInitConfig, flags, nil
	}
	if flags.archiveOut != "" {
		return actionArchive, flags, nil
	}
	return actionRunMirror, flags, nil
}

// loadConfig loads configuration from the raw root and applies the
// explicitly set flags on top.
func loadConfig(flags *cliFlags) (*config.Config, error) {
	if flags.rawRoot == "" {
		return nil, fmt.Errorf("the -raw-root flag is required")
	}

	cfg, err := config.Load(flags.rawRoot)
	if err != nil {
		return nil, err
	}

	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.failFastSet {
		cfg.FailFast = flags.failFast
	}
	if flags.chunkSizeMB > 0 {
		cfg.ChunkSizeMB = flags.chunkSizeMB
	}
	if flags.archiveFmt != "" {
		cfg.ArchiveFormat = flags.archiveFmt
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	plog.SetLevel(plog.LevelFromString(cfg.LogLevel))
	cfg.LogSummary()
	return cfg, nil
}

// resolveProject determines the project to operate on, falling back to
// the last opened one, and records the choice.
func resolveProject(store *settings.Store, flags *cliFlags) (string, error) {
	project := flags.project
	if project == "" {
		project = store.LastOpenedProject()
	}
	if project == "" {
		return "", fmt.Errorf("no project given and no previous project recorded; use -project")
	}
	if err := store.SetLastOpenedProject(project); err != nil {
		plog.Warn("Could not remember project", "error", err)
	}
	return project, nil
}

// resolveServerRoot determines the server root for a project, falling
// back to the stored one, and records the choice.
func resolveServerRoot(store *settings.Store, flags *cliFlags, project string) (string, error) {
	serverRoot := flags.serverRoot
	if serverRoot == "" {
		serverRoot = store.ServerRootForProject(project)
	}
	if serverRoot == "" {
		return "", fmt.Errorf("no server root known for project %q; use -server-root once to set it", project)
	}
	if err := store.SetServerRootForProject(project, serverRoot); err != nil {
		plog.Warn("Could not remember server root", "error", err)
	}
	return serverRoot, nil
}

// runMirror performs one synchronization (or keeps watching) and prints
// the run's progress lines to stdout.
func runMirror(ctx context.Context, flags *cliFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	store, err := settings.Open()
	if err != nil {
		return err
	}
	defer store.Close()

	project, err := resolveProject(store, flags)
	if err != nil {
		return err
	}
	serverRoot, err := resolveServerRoot(store, flags, project)
	if err != nil {
		return err
	}

	metrics := &mirror.MirrorMetrics{}
	eng := engine.New(cfg, metrics)
	runs := runner.New()
	defer runs.Close()

	syncOnce := func(ctx context.Context) error {
		startTime := time.Now()
		h, joined := runs.Run(ctx, "mirror:"+project, func(taskCtx context.Context, sink func(string)) error {
			return eng.SynchronizeAndReconcile(taskCtx, project, serverRoot, sink)
		})
		if joined {
			plog.Info("A run for this project is already active, following it", "project", project)
		}
		for line := range h.Lines() {
			fmt.Println(line)
		}
		<-h.Done()
		if err := h.Err(); err != nil {
			return err
		}
		fmt.Printf("Project copy finished in %s.\n", time.Since(startTime).Round(time.Second))
		metrics.LogSummary("Run complete")
		return nil
	}

	if flags.watchMode {
		settle := time.Duration(cfg.WatchSettleSeconds) * time.Second
		w := watch.New(eng.SourceProjectDir(project), settle, syncOnce)
		if err := syncOnce(ctx); err != nil {
			plog.Warn("Initial run failed, continuing to watch", "error", err)
		}
		return w.Watch(ctx)
	}
	return syncOnce(ctx)
}

// runArchive exports the project directory as a compressed tarball.
func runArchive(ctx context.Context, flags *cliFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	store, err := settings.Open()
	if err != nil {
		return err
	}
	defer store.Close()

	project, err := resolveProject(store, flags)
	if err != nil {
		return err
	}

	format, err := archive.ParseFormat(cfg.ArchiveFormat)
	if err != nil {
		return err
	}

	serverRoot, err := resolveServerRoot(store, flags, project)
	if err != nil {
		return err
	}

	// Archive the mirrored copy, so an export always reflects what the
	// server holds rather than work in progress under the raw root.
	srcDir := filepath.Join(serverRoot, project)
	if err := preflight.CheckSourceAccessible(srcDir); err != nil {
		return err
	}
	outPath := filepath.Join(flags.archiveOut, archive.ArchiveName(srcDir, time.Now(), format))

	startTime := time.Now()
	if err := archive.WriteArchive(ctx, srcDir, outPath, format); err != nil {
		return err
	}
	plog.Info("Archive written", "path", outPath, "duration", time.Since(startTime).Round(time.Millisecond))
	return nil
}

func runInit(flags *cliFlags) error {
	if flags.rawRoot == "" {
		return fmt.Errorf("the -raw-root flag is required for the init operation")
	}
	path, err := config.WriteDefault(flags.rawRoot)
	if err != nil {
		return err
	}
	plog.Info("Default configuration written", "path", path)
	return nil
}

func run(ctx context.Context) error {
	act, flags, err := parseFlags()
	if err != nil {
		return err
	}

	switch act {
	case actionShowVersion:
		fmt.Printf("%s version %s\n", appName, version)
		return nil
	case actionInitConfig:
		return runInit(flags)
	case actionArchive:
		plog.Info("Starting "+appName, "version", version, "pid", os.Getpid())
		return runArchive(ctx, flags)
	case actionRunMirror:
		plog.Info("Starting "+appName, "version", version, "pid", os.Getpid())
		return runMirror(ctx, flags)
	default:
		return fmt.Errorf("internal error: unknown action %d", act)
	}
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx); err != nil {
		plog.Error(appName+" exited with error", "error", err)
		os.Exit(1)
	}
}
