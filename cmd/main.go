package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"

	"lardata/config"
	"lardata/detinfo"
	"lardata/extras"
	"lardata/logger"
	"lardata/output"
	"lardata/replay"
	"lardata/systeminfo"
	"lardata/tracing"
)

func main() {
	// Initialize configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.LogLevel)

	if cfg.RuntimeTrace != "" {
		stop, err := tracing.Start(cfg.RuntimeTrace)
		if err != nil {
			logger.Warnf("Failed to start trace: %v", err)
		} else {
			defer stop()
		}
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	summary, err := run(ctx, cfg, os.Stdin)
	if err != nil {
		logger.Fatalf("Job failed: %v", err)
	}
	logger.Infof("Replay completed: %d archival files, %d renamed, %d skipped.",
		summary.FilesTracked-summary.FilesSkipped, summary.FilesRenamed, summary.FilesSkipped)
}

// run replays the configured job trace through the metadata service and
// writes the catalog. An interrupted replay still finalizes open outputs.
func run(ctx context.Context, cfg *config.Config, stdin io.Reader) (output.Summary, error) {
	startTime := time.Now().UTC()

	var host *systeminfo.HostInfo
	if cfg.CollectHostInfo {
		info, err := systeminfo.GetHostInfo()
		if err != nil {
			logger.Warnf("Failed to gather host information: %v", err)
		}
		host = info
	}

	writer, err := output.New(cfg, host)
	if err != nil {
		return output.Summary{}, fmt.Errorf("initialize catalog: %w", err)
	}
	defer writer.Close()

	svc, err := extras.New(extras.Config{
		Metadata:                cfg.Metadata,
		GeneratePerFileMetadata: cfg.GeneratePerFileMetadata,
		CopyMetadataAttributes:  cfg.CopyMetadataAttributes,
		RenameTemplate:          cfg.RenameTemplate,
		RenameOverwrite:         cfg.RenameOverwrite,
	}, extras.Options{
		Catalog: writer,
		Sink:    writer,
		Inputs:  output.SidecarReader{},
	})
	if err != nil {
		return output.Summary{}, err
	}
	observers := []replay.Observer{svc}

	if cfg.DetectorParams != "" {
		params, err := detinfo.LoadParameterSet(cfg.DetectorParams)
		if err != nil {
			return output.Summary{}, err
		}
		lar, err := detinfo.NewLArService(&detinfo.TableProperties{}, params, 1)
		if err != nil {
			return output.Summary{}, err
		}
		observers = append(observers, runObserver{begin: lar.BeginRun})
	}

	if cfg.ShowProgress {
		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Replaying events"),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetVisibility(progressVisible()),
			progressbar.OptionFullWidth(),
		)
		defer bar.Finish()
		observers = append(observers, progressObserver{bar: bar})
	}

	trace, closeTrace, err := openTrace(cfg.JobTrace, stdin)
	if err != nil {
		return output.Summary{}, err
	}
	defer closeTrace()

	res, err := replay.Run(ctx, trace, observers...)
	switch {
	case errors.Is(err, context.Canceled):
		logger.Warn("Replay interrupted, closing open outputs.")
		svc.EndJob()
	case err != nil:
		return output.Summary{}, err
	case !res.JobEnded:
		if open := svc.OpenOutputs(); len(open) > 0 {
			logger.Warnf("Job trace ended without end_job, closing %d open outputs.", len(open))
			svc.EndJob()
		}
	}
	logger.Debugf("Replayed %d notifications, %d events", res.Notifications, res.Events)

	stats := svc.Stats()
	summary := output.Summary{
		StartTime:    startTime.Format(time.RFC3339),
		EndTime:      time.Now().UTC().Format(time.RFC3339),
		FilesTracked: stats.Closed,
		FilesRenamed: stats.Renamed,
		FilesSkipped: stats.Skipped,
	}
	writer.SetSummary(summary)
	if err := writer.Close(); err != nil {
		return summary, fmt.Errorf("close catalog: %w", err)
	}
	summary.FilesWritten = writer.FilesWritten()
	return summary, nil
}

func openTrace(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open job trace: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// runObserver forwards begin-run notifications to a detector service.
type runObserver struct {
	replay.Base
	begin func(run uint32)
}

func (o runObserver) BeginRun(run uint32) {
	o.begin(run)
}

type progressObserver struct {
	replay.Base
	bar *progressbar.ProgressBar
}

func (o progressObserver) PostEvent(extras.Event) {
	_ = o.bar.Add(1)
}

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("LARDATA_DISABLE_PROGRESS")))
	return value != "1" && value != "true" && value != "yes" && value != "on"
}

func handleSignals(cancelFunc context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	handleSignalEvent(cancelFunc, sigChan)
}

func handleSignalEvent(cancelFunc context.CancelFunc, sigChan <-chan os.Signal) {
	<-sigChan
	logger.Info("Interrupt signal received. Shutting down...")
	cancelFunc()
}
