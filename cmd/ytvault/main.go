package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GiovanniLombardo/Youtrack/internal/common"
	"github.com/GiovanniLombardo/Youtrack/internal/models"
	"github.com/GiovanniLombardo/Youtrack/internal/services"
	"github.com/ternarybob/arbor"
)

const appName = "ytvault"

// Exit status contract: 0 clean, 1 fatal (auth, corrupt archive, empty
// selection), 2 per-issue failures only.
const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
)

func main() {
	if len(os.Args) < 2 {
		showHelp()
		os.Exit(exitFatal)
	}

	switch os.Args[1] {
	case "backup":
		os.Exit(runBackup(os.Args[2:]))
	case "restore":
		os.Exit(runRestore(os.Args[2:]))
	case "version", "-version", "--version":
		fmt.Printf("%s v%s (build: %s)\n", appName, common.GetVersion(), common.GetBuild())
		os.Exit(exitOK)
	case "help", "-help", "--help":
		showHelp()
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		showHelp()
		os.Exit(exitFatal)
	}
}

// stringList is a repeatable flag value (-p A -p B).
type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func runBackup(args []string) int {
	if len(args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s backup url token output [-p PROJECT]... [-i ISSUE-ID]... [-v]\n", appName)
		return exitFatal
	}
	url, token, output := args[0], args[1], args[2]

	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	var projects, issueIDs stringList
	fs.Var(&projects, "p", "Only export issues of the given project (repeatable)")
	fs.Var(&issueIDs, "i", "Only export the issues with the given id (repeatable)")
	verbose := fs.Bool("v", false, "Show more verbose output")
	quiet := fs.Bool("quiet", false, "Suppress banner output")
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args[3:]); err != nil {
		return exitFatal
	}

	cfg, logger, code := setup(*configPath, *verbose)
	if code != exitOK {
		return code
	}
	if !*quiet {
		common.PrintBanner("backup", url, common.GetLogFilePath())
	}

	logger.Info().
		Str("version", common.GetVersion()).
		Str("source", url).
		Str("output", output).
		Msg("Starting backup")

	stop, stopped := watchSignals(logger)

	remote := services.NewYouTrackClient(url, token, &cfg.Vault)
	selector := services.NewSelector(remote, logger)
	ctx := context.Background()

	manifest := models.Manifest{
		SchemaVersion: models.SchemaVersion,
		SourceURL:     url,
		ExportedAt:    time.Now(),
		ProjectFilter: []string(projects),
		IssueFilter:   []string(issueIDs),
		ToolVersion:   common.GetVersion(),
	}
	builder, err := services.NewArchiveBuilder(output, manifest)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to prepare archive staging")
		common.PrintError(err.Error())
		return exitFatal
	}

	selected, work, err := selector.Select(ctx, []string(projects), []string(issueIDs), nil)
	if err != nil {
		logger.Error().Err(err).Msg("Selection failed")
		common.PrintError(err.Error())
		builder.Abort()
		return exitFatal
	}
	logger.Info().Int("projects", len(selected)).Int("issues", len(work)).Msg("Selection resolved")

	report, err := extractAndFinalize(ctx, builder, remote, cfg, logger, selected, work, stop, stopped, output)
	fmt.Println(report.Summary())
	if err != nil {
		common.PrintError(err.Error())
		return exitFatal
	}
	if report.FailedCount() > 0 {
		common.PrintWarning(fmt.Sprintf("%d issue(s) failed, see run report", report.FailedCount()))
		return exitPartial
	}
	return exitOK
}

func extractAndFinalize(ctx context.Context, builder *services.ArchiveBuilder, remote *services.YouTrackClient, cfg *common.Config, logger arbor.ILogger, selected []models.Project, work []services.WorkItem, stop <-chan struct{}, stopped func() bool, output string) (*models.RunReport, error) {
	extractor := services.NewExtractor(remote, &cfg.Vault, logger)
	report, err := extractor.Run(ctx, builder, selected, work, stop)
	if err != nil {
		logger.Error().Err(err).Msg("Backup aborted")
		builder.Abort()
		return report, err
	}

	if stopped() {
		// Keep the staging area so the next run with the same output
		// path resumes instead of starting over.
		builder.Abort()
		common.PrintWarning("Interrupted: staging kept, rerun with the same output path to resume")
		common.PrintShutdownBanner(appName)
		return report, fmt.Errorf("backup interrupted")
	}

	if err := builder.Finalize(); err != nil {
		logger.Error().Err(err).Msg("Failed to assemble archive")
		return report, err
	}
	common.PrintSuccess(fmt.Sprintf("Archive written to %s", output))
	return report, nil
}

func runRestore(args []string) int {
	if len(args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s restore archive url token [-v]\n", appName)
		return exitFatal
	}
	archivePath, url, token := args[0], args[1], args[2]

	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	verbose := fs.Bool("v", false, "Show more verbose output")
	quiet := fs.Bool("quiet", false, "Suppress banner output")
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args[3:]); err != nil {
		return exitFatal
	}

	cfg, logger, code := setup(*configPath, *verbose)
	if code != exitOK {
		return code
	}
	if !*quiet {
		common.PrintBanner("restore", url, common.GetLogFilePath())
	}

	logger.Info().
		Str("version", common.GetVersion()).
		Str("archive", archivePath).
		Str("target", url).
		Msg("Starting restore")

	reader, err := services.OpenArchive(archivePath)
	if err != nil {
		logger.Error().Err(err).Msg("Cannot read archive")
		common.PrintError(err.Error())
		return exitFatal
	}
	defer reader.Close()

	ids, err := services.OpenIdentityStore(services.IdentityDBPath(cfg.Storage.IdentityDir, url))
	if err != nil {
		logger.Error().Err(err).Msg("Cannot open identity map")
		common.PrintError(err.Error())
		return exitFatal
	}
	defer ids.Close()

	stop, stopped := watchSignals(logger)

	remote := services.NewYouTrackClient(url, token, &cfg.Vault)
	restorer := services.NewRestorer(remote, ids, &cfg.Vault, logger)

	report, err := restorer.Run(context.Background(), reader, stop)
	fmt.Println(report.Summary())

	if cfg.Storage.SnapshotDir != "" {
		if path, snapErr := ids.Snapshot(cfg.Storage.SnapshotDir); snapErr != nil {
			logger.Warn().Err(snapErr).Msg("Identity map snapshot failed")
		} else {
			logger.Info().Str("path", path).Msg("Identity map snapshot written")
		}
	}

	if err != nil {
		logger.Error().Err(err).Msg("Restore aborted")
		common.PrintError(err.Error())
		return exitFatal
	}
	if stopped() {
		// The identity map makes a rerun pick up where this one left off.
		common.PrintWarning("Interrupted: restore incomplete, rerun with the same archive to finish")
		common.PrintShutdownBanner(appName)
		return exitFatal
	}
	if report.FailedCount() > 0 {
		common.PrintWarning(fmt.Sprintf("%d issue(s) failed, see run report", report.FailedCount()))
		return exitPartial
	}
	return exitOK
}

func setup(configPath string, verbose bool) (*common.Config, arbor.ILogger, int) {
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return nil, nil, exitFatal
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := common.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, nil, exitFatal
	}
	return cfg, common.GetLogger(), exitOK
}

// watchSignals turns the first interrupt into a graceful stop (in-flight
// issues finish, nothing new starts) and the second into an immediate exit.
func watchSignals(logger arbor.ILogger) (<-chan struct{}, func() bool) {
	stop := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Warn().Msg("Interrupt received, letting in-flight issues finish")
		close(stop)
		<-sigChan
		logger.Error().Msg("Second interrupt, exiting immediately")
		os.Exit(exitFatal)
	}()

	stopped := func() bool {
		select {
		case <-stop:
			return true
		default:
			return false
		}
	}
	return stop, stopped
}

func showHelp() {
	fmt.Printf("%s v%s - YouTrack selective backup and restore\n\n", appName, common.GetVersion())
	fmt.Println("Usage:")
	fmt.Printf("  %s backup url token output [flags]\n", appName)
	fmt.Printf("  %s restore archive url token [flags]\n\n", appName)
	fmt.Println("Backup flags:")
	fmt.Println("  -p PROJECT    Only export issues of the given project (repeatable)")
	fmt.Println("  -i ISSUE-ID   Only export the issues with the given id (repeatable)")
	fmt.Println("  -v            Show more verbose output")
	fmt.Println("  -quiet        Suppress banner output")
	fmt.Println("  -config PATH  Configuration file path")
	fmt.Println("\nRestore flags:")
	fmt.Println("  -v            Show more verbose output")
	fmt.Println("  -quiet        Suppress banner output")
	fmt.Println("  -config PATH  Configuration file path")
	fmt.Println("\nExamples:")
	fmt.Printf("  %s backup https://yt.example.com perm:token backup.zip -p DEMO\n", appName)
	fmt.Printf("  %s restore backup.zip https://other.example.com perm:token\n", appName)
	fmt.Println("\nRe-running restore with the same archive is a no-op once fully restored.")
}
