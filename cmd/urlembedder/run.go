package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dongreenberg/url-embedder/internal/clock/system"
	"github.com/dongreenberg/url-embedder/internal/id/uuid"
	"github.com/dongreenberg/url-embedder/internal/pipeline"
)

type runFlags struct {
	maxDepth int
	cutoff   int
	headless bool
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <seed-url>",
		Short: "Crawl and embed a single site, then exit",
		Long: `Runs one embedding job to completion: crawls the seed URL to the
configured depth, embeds every page, writes the CSV artifact, and prints a
summary.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, args[0], flags)
		},
	}
	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", -1, "crawl depth (default from config)")
	cmd.Flags().IntVar(&flags.cutoff, "cutoff", -1, "max URLs to embed (default from config)")
	cmd.Flags().BoolVar(&flags.headless, "headless", false, "allow headless rendering for JS-heavy pages")
	return cmd
}

func runOnce(cmd *cobra.Command, seedURL string, flags *runFlags) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svcs, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svcs.close(logger)

	params := pipeline.JobParameters{
		SeedURL:         seedURL,
		MaxDepth:        cfg.Crawler.MaxDepthDefault,
		Cutoff:          cfg.Crawler.CutoffDefault,
		Normalize:       cfg.Embedder.Normalize,
		HeadlessAllowed: cfg.Headless.Enabled,
		ContinueOnError: cfg.Crawler.ContinueOnError,
		Tags:            map[string]string{},
	}
	if flags.maxDepth >= 0 {
		params.MaxDepth = flags.maxDepth
	}
	if flags.cutoff >= 0 {
		params.Cutoff = flags.cutoff
	}
	if flags.headless {
		params.HeadlessAllowed = true
		params.HeadlessProvided = true
	}

	jobID, err := submitJob(ctx, svcs, params)
	if err != nil {
		return err
	}
	logger.Info("job submitted", zap.String("job_id", jobID), zap.String("seed_url", seedURL))

	runCtx, cancelRun := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		svcs.dispatch.Run(runCtx)
		close(done)
	}()

	job, err := waitForJob(ctx, svcs, jobID)
	cancelRun()
	<-done
	if err != nil {
		return err
	}

	printSummary(cmd, job)
	if job.Status != pipeline.JobStatusSucceeded {
		return fmt.Errorf("job finished with status %s: %s", job.Status, job.ErrorText)
	}
	return nil
}

func submitJob(ctx context.Context, svcs *services, params pipeline.JobParameters) (string, error) {
	idGen := uuid.New()
	clk := system.New()
	jobID, err := idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := clk.Now()
	job := pipeline.Job{
		ID:         jobID,
		Status:     pipeline.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
	}
	if err := svcs.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	item := pipeline.QueueItem{
		JobID:     jobID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := svcs.dispatch.Enqueue(ctx, item); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

// waitForJob polls the job store until the job reaches a terminal status.
func waitForJob(ctx context.Context, svcs *services, jobID string) (pipeline.Job, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return pipeline.Job{}, fmt.Errorf("wait for job: %w", ctx.Err())
		case <-ticker.C:
			job, err := svcs.jobStore.GetJob(ctx, jobID)
			if err != nil {
				return pipeline.Job{}, fmt.Errorf("poll job: %w", err)
			}
			switch job.Status {
			case pipeline.JobStatusSucceeded, pipeline.JobStatusFailed, pipeline.JobStatusCanceled:
				return job, nil
			}
		}
	}
}

func printSummary(cmd *cobra.Command, job pipeline.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "job %s finished: %s\n", job.ID, job.Status)
	fmt.Fprintf(out, "  documents embedded: %d\n", job.Counters.DocsSucceeded)
	fmt.Fprintf(out, "  documents failed:   %d\n", job.Counters.DocsFailed)
	fmt.Fprintf(out, "  chunks:             %d\n", job.Counters.Chunks)
	fmt.Fprintf(out, "  download time:      %s\n", time.Duration(job.Counters.DownloadMs)*time.Millisecond)
	fmt.Fprintf(out, "  embed time:         %s\n", time.Duration(job.Counters.EmbedMs)*time.Millisecond)
	if job.Started != nil && job.Finished != nil {
		fmt.Fprintf(out, "  wall clock:         %s\n", job.Finished.Sub(*job.Started).Round(time.Millisecond))
	}
}
