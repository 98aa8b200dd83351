package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage render runs",
	}

	cmd.AddCommand(
		newRunSubmitCmd(clientFn, outputFn),
		newRunListCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunRetryCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunWatchCmd(clientFn, outputFn),
	)

	return cmd
}

// NewQueueCmd создаёт команду просмотра очереди рендера.
func NewQueueCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show the render queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := clientFn().Queue()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(q.Waiting)+1)
			if q.Holder != "" {
				rows = append(rows, []string{"0", q.Holder, "rendering"})
			}
			for i, id := range q.Waiting {
				rows = append(rows, []string{strconv.Itoa(i + 1), id, "waiting"})
			}
			outputFn().Print([]string{"POS", "RUN_ID", "STATE"}, rows, q)
			return nil
		},
	}
}

var runHeaders = []string{"ID", "STATUS", "PROGRESS", "STEP", "ATTEMPT", "CREATED"}

func runRow(r *RunResponse) []string {
	return []string{r.ID, r.Status, progress(r.Progress), r.CurrentStep, strconv.Itoa(r.Attempt), r.CreatedAt}
}

func progress(p int) string {
	return strconv.Itoa(p) + "%"
}

func newRunSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string
	var start, watch bool

	cmd := &cobra.Command{
		Use:   "submit -f plan.yaml",
		Short: "Create a run from a plan file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			plan, err := LoadPlan(file)
			if err != nil {
				return err
			}

			run, err := client.CreateRun(CreateRunRequest{Plan: plan, AutoStart: start || watch})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run created: %s (%d scenes, %.1fs)", run.ID, len(plan.Scenes), plan.TotalSeconds()))
			out.Print(runHeaders, [][]string{runRow(run)}, run)

			if watch {
				return watchRun(cmd.Context(), client, out, run.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Plan file (YAML or JSON, - for stdin)")
	cmd.Flags().BoolVar(&start, "start", false, "Queue the run for rendering immediately")
	cmd.Flags().BoolVar(&watch, "watch", false, "Start the run and follow its progress")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(ListRunsOpts{
				Status: status,
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "TITLE", "STATUS", "PROGRESS", "STEP", "ATTEMPT", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.Title, r.Status, progress(r.Progress), r.CurrentStep, strconv.Itoa(r.Attempt), r.CreatedAt}
			}

			outputFn().Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (queued, running, done, failed, canceled, quality_failed)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var showLog bool

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			run, err := clientFn().GetRun(args[0])
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(run)
				return nil
			}

			out.Table(
				[]string{"ID", "STATUS", "PROGRESS", "STEP", "FAILED_STEP", "ATTEMPT", "ERROR"},
				[][]string{{run.ID, run.Status, progress(run.Progress), run.CurrentStep, run.FailedStep, strconv.Itoa(run.Attempt), run.Error}},
			)
			out.Line("", nil)
			out.Line("checkpoint: "+strings.Join(run.Checkpoint, ", "), nil)
			if run.Artifacts.Video != "" {
				out.Line("video: "+run.Artifacts.Video, nil)
			}
			if run.QA != nil {
				out.Line(fmt.Sprintf("qa: passed=%t silence=%t size=%t resolution=%t",
					run.QA.Passed, run.QA.Checks.Silence, run.QA.Checks.Size, run.QA.Checks.Resolution), nil)
				for _, d := range run.QA.Details {
					out.Line("  "+d, nil)
				}
			}
			if showLog {
				out.Line("", nil)
				for _, e := range run.Log {
					out.Line(formatLogEntry(e), nil)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showLog, "log", false, "Print the run log")
	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "start ID",
		Short: "Queue a created run for rendering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			action, err := client.StartRun(args[0])
			if err != nil {
				return err
			}

			out.Success(queuedMessage("Run queued", action))
			if watch {
				return watchRun(cmd.Context(), client, out, action.Run.ID)
			}
			out.Print(runHeaders, [][]string{runRow(&action.Run)}, action)
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Follow run progress")
	return cmd
}

func newRunRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var fromStep string
	var watch bool

	cmd := &cobra.Command{
		Use:   "retry ID",
		Short: "Retry a failed, quality-failed or canceled run",
		Long: "Retry resumes at the first incomplete step. With --from-step the step\n" +
			"and every step after it are discarded and executed again.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			action, err := client.RetryRun(args[0], fromStep)
			if err != nil {
				return err
			}

			out.Success(queuedMessage(fmt.Sprintf("Run retried (attempt %d)", action.Run.Attempt), action))
			if watch {
				return watchRun(cmd.Context(), client, out, action.Run.ID)
			}
			out.Print(runHeaders, [][]string{runRow(&action.Run)}, action)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromStep, "from-step", "", "Re-execute from this step (e.g. Image-Synthesis)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Follow run progress")
	return cmd
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			run, err := clientFn().CancelRun(args[0])
			if err != nil {
				return err
			}

			if run.Status == "canceled" {
				out.Success(fmt.Sprintf("Run canceled: %s", run.ID))
			} else {
				out.Success(fmt.Sprintf("Cancel requested: %s stops after %s", run.ID, run.CurrentStep))
			}
			return nil
		},
	}
}

func newRunWatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "watch ID",
		Short: "Follow run progress until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchRun(cmd.Context(), clientFn(), outputFn(), args[0])
		},
	}
}

func queuedMessage(prefix string, a *RunAction) string {
	if a.QueuePosition == 0 {
		return fmt.Sprintf("%s: %s (rendering)", prefix, a.Run.ID)
	}
	return fmt.Sprintf("%s: %s (position %d)", prefix, a.Run.ID, a.QueuePosition)
}

// watchRun печатает события run до финального статуса.
// Завершение не на done возвращается ошибкой, чтобы код выхода был ненулевым.
func watchRun(ctx context.Context, client *Client, out *Output, id string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var final Event
	err := client.WatchRun(ctx, id, func(ev Event) error {
		final = ev
		if text := formatEvent(ev); text != "" {
			out.Line(text, ev)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if final.Status != "done" {
		msg := final.Status
		if final.Error != "" {
			msg += ": " + final.Error
		}
		return fmt.Errorf("run %s finished as %s", id, msg)
	}
	return nil
}

func formatEvent(ev Event) string {
	switch ev.Type {
	case "snapshot":
		return fmt.Sprintf("[%4s] %s", progress(ev.Progress), ev.Status)
	case "step":
		return fmt.Sprintf("[%4s] > %s", progress(ev.Progress), ev.Step)
	case "progress":
		return fmt.Sprintf("[%4s] %s complete", progress(ev.Progress), ev.Step)
	case "status":
		if ev.Error != "" {
			return fmt.Sprintf("[%4s] %s: %s", progress(ev.Progress), ev.Status, ev.Error)
		}
		return fmt.Sprintf("[%4s] %s", progress(ev.Progress), ev.Status)
	case "log":
		if ev.Log != nil && ev.Log.Level != "info" {
			return "       " + formatLogEntry(*ev.Log)
		}
	}
	return ""
}

func formatLogEntry(e LogEntry) string {
	if e.Step != "" {
		return fmt.Sprintf("%s %-5s %s: %s", e.Time, e.Level, e.Step, e.Message)
	}
	return fmt.Sprintf("%s %-5s %s", e.Time, e.Level, e.Message)
}
