package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/blackroad/statesync/internal/task"
	"github.com/blackroad/statesync/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, list, and move tasks through their lifecycle",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a pending task",
	Long: `Create a pending task and propagate it to every backend.

The --due flag accepts natural language:
  brsync task create "rotate the API keys" --due "next friday"
  brsync task create "hotfix the parser" --priority critical --due tomorrow`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace(nil)
		if err != nil {
			return err
		}
		defer w.Close()

		t := task.New(args[0])
		if desc, _ := cmd.Flags().GetString("description"); desc != "" {
			t.Description = desc
		}
		if prio, _ := cmd.Flags().GetString("priority"); prio != "" {
			t.Priority = task.Priority(prio)
		}
		if labels, _ := cmd.Flags().GetStringSlice("label"); len(labels) > 0 {
			t.Labels = labels
		}
		if due, _ := cmd.Flags().GetString("due"); due != "" {
			parsed, err := parseDue(due)
			if err != nil {
				return err
			}
			t.Due = &parsed
		}

		res, err := w.queue.Create(cmd.Context(), t)
		if err != nil {
			return err
		}

		fmt.Printf("created %s %s\n", ui.RenderAccent(t.ID), t.Title)
		if !res.FullySynced() {
			fmt.Println(ui.RenderWarn(fmt.Sprintf("partial sync: unavailable %v", res.Unavailable)))
		}
		return nil
	},
}

// parseDue turns natural language ("tomorrow", "next friday 5pm") into a
// due timestamp.
func parseDue(text string) (time.Time, error) {
	parser := when.New(nil)
	parser.Add(en.All...)
	parser.Add(common.All...)

	result, err := parser.Parse(text, time.Now())
	if err != nil || result == nil {
		return time.Time{}, fmt.Errorf("could not understand due date %q", text)
	}
	return result.Time.UTC(), nil
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace(nil)
		if err != nil {
			return err
		}
		defer w.Close()

		status, _ := cmd.Flags().GetString("status")
		tasks, err := w.queue.List(cmd.Context(), task.Status(status))
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format != "" {
			return renderTasks(tasks, format)
		}

		if len(tasks) == 0 {
			fmt.Println(ui.RenderMuted("no tasks"))
			return nil
		}
		now := time.Now()
		for _, t := range tasks {
			line := fmt.Sprintf("%s %s [%s] %s", ui.StatusGlyph(string(t.Status)),
				ui.RenderAccent(shortID(t.ID)), t.Priority, t.Title)
			if t.Assignee != "" {
				line += ui.RenderMuted(" @" + t.Assignee)
			}
			if t.Overdue(now) {
				line += " " + ui.RenderFail("overdue")
			}
			fmt.Println(line)
		}
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace(nil)
		if err != nil {
			return err
		}
		defer w.Close()

		t, err := w.queue.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if format == "" {
			format = "yaml"
		}
		return renderTasks([]*task.Task{t}, format)
	},
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim <id>",
	Short: "Claim a pending task",
	Long: `Claim a pending task for an assignee.

The claim is guarded by the record digest observed at read time: if the
task changed between read and write the claim fails and nothing is
written, so two workers can never both hold the same task.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace(nil)
		if err != nil {
			return err
		}
		defer w.Close()

		assignee, _ := cmd.Flags().GetString("assignee")
		t, err := w.queue.Claim(cmd.Context(), args[0], assignee)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s claimed by %s\n", ui.RenderPass("✓"), ui.RenderAccent(shortID(t.ID)), t.Assignee)
		return nil
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Complete an in-progress task",
	Args:  cobra.ExactArgs(1),
	RunE: transitionRunE(func(w *workspace, cmd *cobra.Command, id string) (*task.Task, error) {
		pr, _ := cmd.Flags().GetString("pr")
		return w.queue.Complete(cmd.Context(), id, pr)
	}, "completed"),
}

var taskBlockCmd = &cobra.Command{
	Use:   "block <id>",
	Short: "Block an in-progress task with a reason",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace(nil)
		if err != nil {
			return err
		}
		defer w.Close()

		reason, _ := cmd.Flags().GetString("reason")
		t, err := w.queue.Block(cmd.Context(), args[0], reason)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s blocked: %s\n", ui.StatusGlyph("blocked"), ui.RenderAccent(shortID(t.ID)), t.BlockedReason)
		return nil
	},
}

var taskResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Put a blocked task back in progress",
	Args:  cobra.ExactArgs(1),
	RunE: transitionRunE(func(w *workspace, cmd *cobra.Command, id string) (*task.Task, error) {
		return w.queue.Resume(cmd.Context(), id)
	}, "in progress again"),
}

// transitionRunE builds a RunE for the single-argument status moves.
func transitionRunE(fn func(*workspace, *cobra.Command, string) (*task.Task, error), verb string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace(nil)
		if err != nil {
			return err
		}
		defer w.Close()

		t, err := fn(w, cmd, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s %s %s\n", ui.StatusGlyph(string(t.Status)), ui.RenderAccent(shortID(t.ID)), verb)
		return nil
	}
}

// renderTasks writes tasks as yaml or json.
func renderTasks(tasks []*task.Task, format string) error {
	switch format {
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(tasks)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tasks)
	default:
		return fmt.Errorf("unknown format %q (want yaml or json)", format)
	}
}

// shortID abbreviates a UUID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	taskCreateCmd.Flags().String("description", "", "Longer task description")
	taskCreateCmd.Flags().String("priority", "", "Priority: critical, high, medium, low")
	taskCreateCmd.Flags().StringSlice("label", nil, "Label (repeatable)")
	taskCreateCmd.Flags().String("due", "", "Due date in natural language (\"tomorrow\", \"next friday\")")

	taskListCmd.Flags().String("status", "", "Filter by status: pending, in_progress, completed, blocked")
	taskListCmd.Flags().String("format", "", "Output format: yaml or json")

	taskShowCmd.Flags().String("format", "yaml", "Output format: yaml or json")

	taskClaimCmd.Flags().String("assignee", "", "Who is claiming the task")
	_ = taskClaimCmd.MarkFlagRequired("assignee")

	taskCompleteCmd.Flags().String("pr", "", "Pull request reference to record on the task")

	taskBlockCmd.Flags().String("reason", "", "Why the task is blocked")
	_ = taskBlockCmd.MarkFlagRequired("reason")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskClaimCmd)
	taskCmd.AddCommand(taskCompleteCmd)
	taskCmd.AddCommand(taskBlockCmd)
	taskCmd.AddCommand(taskResumeCmd)
	rootCmd.AddCommand(taskCmd)
}
