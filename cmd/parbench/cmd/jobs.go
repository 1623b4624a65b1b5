package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/parbench/pkg/client"
	"github.com/psantana5/parbench/pkg/models"
)

var (
	// Job submit flags
	submitFeature  string
	openmpThreads  int
	pthreadThreads int
	waitForResult  bool

	// Job status flags
	followStatus bool
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage jobs",
	Long:  `Commands for submitting and inspecting benchmark jobs on a running parbench server.`,
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit <video>",
	Short: "Upload a video and start processing",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsSubmit,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Get job status",
	Long:  `Retrieve the status of a job. If no ID is provided, lists all jobs.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJobsStatus,
}

var jobsResultsCmd = &cobra.Command{
	Use:   "results <job-id>",
	Short: "Show the performance comparison of a completed job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsResults,
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup <job-id>",
	Short: "Delete a job's files and record",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCleanup,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsResultsCmd)
	jobsCmd.AddCommand(jobsCleanupCmd)

	jobsSubmitCmd.Flags().StringVar(&submitFeature, "feature", "", "feature id or name (required, e.g. grayscale)")
	jobsSubmitCmd.Flags().IntVar(&openmpThreads, "openmp-threads", 4, "OpenMP thread count (1-16)")
	jobsSubmitCmd.Flags().IntVar(&pthreadThreads, "pthread-threads", 4, "pthread thread count (1-16)")
	jobsSubmitCmd.Flags().BoolVar(&waitForResult, "wait", false, "stream progress and print results when done")
	jobsSubmitCmd.MarkFlagRequired("feature")

	jobsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll job status every 2 seconds until completion")
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c := newClient()

	up, err := c.Upload(ctx, args[0])
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	if err := c.Process(ctx, client.ProcessRequest{
		JobID:          up.JobID,
		Feature:        submitFeature,
		OpenMPThreads:  openmpThreads,
		PthreadThreads: pthreadThreads,
	}); err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}

	if !waitForResult {
		if isStructured() {
			return printStructured(stdout(), up)
		}
		fmt.Printf("Job submitted: %s\n", up.JobID)
		fmt.Printf("  File: %s (%d bytes)\n", up.Filename, up.Size)
		if up.VideoInfo != nil {
			fmt.Printf("  Video: %dx%d @ %.2f fps, %d frames\n", up.VideoInfo.Width, up.VideoInfo.Height, up.VideoInfo.FPS, up.VideoInfo.FrameCount)
		}
		return nil
	}

	fmt.Fprintf(os.Stderr, "Job %s submitted, waiting for completion...\n", up.JobID)
	watchCtx, stop := context.WithCancel(ctx)
	defer stop()
	go c.WatchProgress(watchCtx, up.JobID, func(e client.ProgressEvent) {
		fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", e.Progress, e.Message)
	})

	job, err := c.Wait(ctx, up.JobID, 2*time.Second, nil)
	stop()
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	}
	return showResults(ctx, c, job.ID)
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c := newClient()

	if len(args) == 0 {
		jobs, err := c.List(ctx)
		if err != nil {
			return err
		}
		if isStructured() {
			return printStructured(stdout(), jobs)
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs found")
			return nil
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("ID", "Feature", "Status", "Progress", "Message", "Created")
		for _, j := range jobs {
			table.Append([]string{
				j.ID,
				j.Feature,
				string(j.Status),
				fmt.Sprintf("%d%%", j.Progress),
				j.Message,
				j.CreatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		table.Render()
		return nil
	}

	jobID := args[0]
	if followStatus {
		job, err := c.Wait(ctx, jobID, 2*time.Second, func(j *models.Job) {
			if !isStructured() {
				fmt.Printf("[%s] %-20s %3d%%  %s\n", time.Now().Format("15:04:05"), j.Status, j.Progress, j.Message)
			}
		})
		if err != nil {
			return err
		}
		if isStructured() {
			return printStructured(stdout(), job)
		}
		return nil
	}

	job, err := c.Status(ctx, jobID)
	if err != nil {
		return err
	}
	if isStructured() {
		return printStructured(stdout(), job)
	}
	printJob(job)
	return nil
}

func printJob(job *models.Job) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Property", "Value")
	table.Append([]string{"Job ID", job.ID})
	table.Append([]string{"Feature", job.Feature})
	table.Append([]string{"Status", string(job.Status)})
	table.Append([]string{"Progress", fmt.Sprintf("%d%%", job.Progress)})
	table.Append([]string{"Message", job.Message})
	table.Append([]string{"Threads", fmt.Sprintf("pthread=%d openmp=%d", job.Config.PthreadThreads, job.Config.OpenMPThreads)})
	table.Append([]string{"Created", job.CreatedAt.Format(time.RFC3339)})
	if job.CompletedAt != nil {
		table.Append([]string{"Completed", job.CompletedAt.Format(time.RFC3339)})
	}
	if job.Error != "" {
		table.Append([]string{"Error", job.Error})
	}
	table.Render()
}

func runJobsResults(cmd *cobra.Command, args []string) error {
	return showResults(cmd.Context(), newClient(), args[0])
}

func showResults(ctx context.Context, c *client.Client, jobID string) error {
	res, pending, err := c.Results(ctx, jobID)
	if err != nil {
		return err
	}
	if pending != nil {
		if isStructured() {
			return printStructured(stdout(), pending)
		}
		fmt.Printf("Job %s is %s (%d%%): %s\n", jobID, pending.Status, pending.Progress, pending.Message)
		if pending.Error != "" {
			fmt.Printf("Error: %s\n", pending.Error)
		}
		return nil
	}
	if isStructured() {
		return printStructured(stdout(), res)
	}

	fmt.Printf("Feature: %s\n", res.Feature)
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Variant", "Threads", "Time (s)", "FPS", "Frames", "Speedup", "Efficiency")
	for _, v := range models.Variants {
		row := res.Metrics.Get(v)
		table.Append([]string{
			string(v),
			fmt.Sprintf("%d", row.Threads),
			fmtFloat(row.Time, "%.3f"),
			fmtFloat(row.FPS, "%.2f"),
			fmtInt(row.Frames),
			fmtFloat(row.Speedup, "%.2fx"),
			fmtFloat(row.Efficiency, "%.1f%%"),
		})
	}
	table.Render()

	links := res.Videos
	if res.IsSceneDetection {
		links = res.SceneResults
	}
	for _, name := range []string{"input", "sequential", "pthread", "openmp"} {
		if u, ok := links[name]; ok && u != nil {
			fmt.Printf("  %-10s %s%s\n", name, serverURL, *u)
		}
	}
	return nil
}

func runJobsCleanup(cmd *cobra.Command, args []string) error {
	if err := newClient().Cleanup(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Job %s cleaned up\n", args[0])
	return nil
}
