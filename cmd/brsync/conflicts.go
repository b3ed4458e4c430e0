package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/blackroad/statesync/internal/resolve"
	"github.com/blackroad/statesync/internal/syncer"
	"github.com/blackroad/statesync/internal/ui"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve sync conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Scan all backends and list unresolved conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace(nil)
		if err != nil {
			return err
		}
		defer w.Close()

		reports, err := w.coord.DetectConflicts(cmd.Context())
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Println(ui.RenderPass("no conflicts"))
			return nil
		}

		for _, r := range reports {
			fmt.Printf("%s %s on %s: fields %v\n", ui.RenderFail("conflict"),
				ui.RenderAccent(r.Key), r.Backend, r.Fields())
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				printDivergence(r)
			}
		}
		return nil
	},
}

func printDivergence(r *syncer.ConflictReport) {
	for _, d := range r.Divergent {
		fmt.Printf("  %s:\n", d.Name)
		fmt.Printf("    base:   %s\n", renderValue(d.Base, d.AbsentBase))
		fmt.Printf("    local:  %s\n", renderValue(d.Local, d.AbsentLocal))
		fmt.Printf("    remote: %s\n", renderValue(d.Remote, d.AbsentRemote))
	}
}

func renderValue(v any, absent bool) string {
	if absent {
		return ui.RenderMuted("(absent)")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve pending conflicts interactively",
	Long: `Walk through every pending conflict and choose a resolution.

The chosen side is propagated to all backends and the conflict is cleared.
With --suggest, each conflict is first shown to the merge assistant (needs
ANTHROPIC_API_KEY) and its recommendation is preselected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace(nil)
		if err != nil {
			return err
		}
		defer w.Close()

		// A fresh scan picks up conflicts detected by earlier processes.
		if _, err := w.coord.DetectConflicts(cmd.Context()); err != nil {
			return err
		}
		pending := w.coord.PendingConflicts()
		if len(pending) == 0 {
			fmt.Println(ui.RenderPass("no conflicts to resolve"))
			return nil
		}

		var assistant *resolve.Assistant
		if suggest, _ := cmd.Flags().GetBool("suggest"); suggest {
			assistant = resolve.NewAssistant(w.cfg.Resolver.Model, log.New(os.Stderr, "[resolve] ", log.LstdFlags))
		}

		for _, report := range pending {
			fmt.Printf("\n%s on %s\n", ui.RenderAccent(report.Key), report.Backend)
			printDivergence(report)

			preselect := ""
			if assistant != nil {
				suggestion, err := assistant.Suggest(cmd.Context(), report)
				if err != nil {
					fmt.Println(ui.RenderWarn(fmt.Sprintf("no suggestion: %v", err)))
				} else {
					preselect = string(suggestion.Resolution)
					fmt.Printf("%s %s: %s\n", ui.RenderAccent("suggestion"),
						suggestion.Resolution, suggestion.Rationale)
				}
			}

			choice, err := pickResolution(preselect)
			if err != nil {
				return err
			}
			if choice == "skip" {
				continue
			}

			res, err := w.coord.Resolve(cmd.Context(), report.Key, report.Backend, syncer.Policy(choice))
			if err != nil {
				return err
			}
			if res.FullySynced() {
				fmt.Println(ui.RenderPass("resolved and propagated"))
			} else {
				fmt.Println(ui.RenderWarn(fmt.Sprintf("resolved; unavailable backends: %v", res.Unavailable)))
			}
		}
		return nil
	},
}

// pickResolution presents the resolution choices, preselecting the
// assistant's suggestion when there is one.
func pickResolution(preselect string) (string, error) {
	choice := preselect
	if choice == "" {
		choice = "skip"
	}
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Resolution").
			Options(
				huh.NewOption("keep local (pending write)", "prefer_local"),
				huh.NewOption("keep remote (backend state)", "prefer_remote"),
				huh.NewOption("skip for now", "skip"),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("resolution cancelled: %w", err)
	}
	return choice, nil
}

func init() {
	conflictsListCmd.Flags().BoolP("verbose", "v", false, "Show field-level divergence")
	conflictsResolveCmd.Flags().Bool("suggest", false, "Ask the merge assistant for a recommendation first")

	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
