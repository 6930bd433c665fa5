package cli

import (
	"fmt"

	"github.com/cexll/pmsync/internal/entity"
	"github.com/cexll/pmsync/internal/issuefmt"
	"github.com/cexll/pmsync/internal/prdparse"
	"github.com/spf13/cobra"
)

func (a *App) prdCommand() *cobra.Command {
	cmd := a.entityCommand(entity.PRD)
	cmd.AddCommand(a.parseCommand())
	return cmd
}

func (a *App) epicCommand() *cobra.Command {
	cmd := a.entityCommand(entity.Epic)
	cmd.AddCommand(a.recountCommand())
	return cmd
}

func (a *App) parseCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "parse <prd-id>",
		Short: "Generate an EPIC from the sections of a PRD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			epic, report, err := prdparse.GenerateEpic(a.store, args[0], prdparse.DefaultClassifier)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.Out, struct {
					Epic   entityJSON      `json:"epic"`
					Report prdparse.Report `json:"report"`
				}{toJSON(epic, false), report})
			}

			success(a.Out, "Created epic %s from %s: %s", epic.ID, args[0], epic.Title())
			found := map[prdparse.Category]bool{
				prdparse.Overview:     report.Overview,
				prdparse.Goals:        report.Goals,
				prdparse.UserStories:  report.UserStories,
				prdparse.Requirements: report.Requirements,
				prdparse.Timeline:     report.Timeline,
			}
			for _, c := range prdparse.Categories {
				mark := green("✓")
				if !found[c] {
					mark = yellow("-")
				}
				fmt.Fprintf(a.Out, "  %s %s\n", mark, c)
			}
			fmt.Fprintf(a.Out, "  user stories: %d\n", report.StoryCount)
			if missing := report.Missing(); len(missing) > 0 {
				warn(a.Out, "%d section(s) not found, placeholders used", len(missing))
			}
			for _, h := range report.Unclassified {
				warn(a.Out, "unrecognised section %q was not copied", h)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func (a *App) recountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recount <epic-id>",
		Short: "Recompute an EPIC's task counters from its task files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			epic, err := a.store.RecountEpic(args[0])
			if err != nil {
				return err
			}
			done, _ := epic.Fields.GetInt(entity.FieldTasksCompleted)
			total, _ := epic.Fields.GetInt(entity.FieldTasksTotal)
			success(a.Out, "%s: %s", epic.ID, issuefmt.Progress(done, total))
			return nil
		},
	}
}
