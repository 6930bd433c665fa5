package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cexll/pmsync/internal/entity"
	"github.com/cexll/pmsync/internal/frontmatter"
	"github.com/cexll/pmsync/internal/issuefmt"
	"github.com/cexll/pmsync/internal/store"
	"github.com/spf13/cobra"
)

// entityCommand builds the create/list/show/update group for kind.
func (a *App) entityCommand(kind *entity.Kind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   kind.Name,
		Short: fmt.Sprintf("Manage %s files", strings.ToUpper(kind.Plural)),
	}
	cmd.AddCommand(
		a.createCommand(kind),
		a.listCommand(kind),
		a.showCommand(kind),
		a.updateCommand(kind),
	)
	return cmd
}

// editFlags are shared by create and update.
type editFlags struct {
	status   string
	priority string
	set      []string
	deps     []string
	bodyFile string
}

func (f *editFlags) register(cmd *cobra.Command, kind *entity.Kind) {
	cmd.Flags().StringVar(&f.status, "status", "", fmt.Sprintf("status (%s)", strings.Join(kind.Statuses, ", ")))
	cmd.Flags().StringVar(&f.priority, "priority", "", fmt.Sprintf("priority (%s)", strings.Join(entity.Priorities, ", ")))
	cmd.Flags().StringArrayVar(&f.set, "set", nil, "set a frontmatter field (key=value, repeatable)")
	cmd.Flags().StringVar(&f.bodyFile, "body-file", "", "read the Markdown body from a file (- for stdin)")
	if kind == entity.Task {
		cmd.Flags().StringSliceVar(&f.deps, "depends-on", nil, "task IDs this task depends on")
	}
}

// fields converts the flags into a frontmatter patch.
func (f *editFlags) fields(cmd *cobra.Command) (*frontmatter.Fields, error) {
	out := frontmatter.NewFields()
	for _, kv := range f.set {
		key, val, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q (expected key=value)", kv)
		}
		if key == entity.FieldDependencies {
			out.SetList(key, splitList(val))
			continue
		}
		out.Set(key, strings.TrimSpace(val))
	}
	if f.status != "" {
		out.Set(entity.FieldStatus, f.status)
	}
	if f.priority != "" {
		p := strings.ToLower(strings.TrimSpace(f.priority))
		if entity.NormalizePriority(p) != p {
			return nil, fmt.Errorf("invalid priority %q (expected %s)", f.priority, strings.Join(entity.Priorities, ", "))
		}
		out.Set(entity.FieldPriority, p)
	}
	if cmd.Flags().Changed("depends-on") {
		out.SetList(entity.FieldDependencies, f.deps)
	}
	return out, nil
}

func (f *editFlags) body(cmd *cobra.Command) (*string, error) {
	if f.bodyFile == "" {
		return nil, nil
	}
	var (
		data []byte
		err  error
	)
	if f.bodyFile == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(f.bodyFile)
	}
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	s := string(data)
	if !strings.HasPrefix(s, "\n") {
		s = "\n" + s
	}
	return &s, nil
}

func splitList(val string) []string {
	val = strings.Trim(strings.TrimSpace(val), "[]")
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (a *App) createCommand(kind *entity.Kind) *cobra.Command {
	var (
		parent string
		flags  editFlags
	)
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: fmt.Sprintf("Create a new %s", strings.ToUpper(kind.Name)),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := flags.fields(cmd)
			if err != nil {
				return err
			}
			body, err := flags.body(cmd)
			if err != nil {
				return err
			}
			in := store.CreateInput{
				Title:  strings.Join(args, " "),
				Parent: parent,
				Fields: fields,
			}
			if body != nil {
				in.Body = *body
			}
			e, err := a.store.Create(kind, in)
			if err != nil {
				return err
			}
			success(a.Out, "Created %s %s: %s", kind.Name, e.ID, e.Title())
			fmt.Fprintf(a.Out, "  %s\n", gray(e.Path))
			return nil
		},
	}
	if kind.ParentKind != "" {
		cmd.Flags().StringVar(&parent, kind.ParentKind, "", fmt.Sprintf("parent %s ID", strings.ToUpper(kind.ParentKind)))
		if kind == entity.Task {
			_ = cmd.MarkFlagRequired(kind.ParentKind)
		}
	}
	flags.register(cmd, kind)
	return cmd
}

func (a *App) listCommand(kind *entity.Kind) *cobra.Command {
	var (
		status string
		parent string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   fmt.Sprintf("List %s, newest first", strings.ToUpper(kind.Plural)),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.Filter{Parent: parent}
			if status != "" {
				filter.Equals = map[string]string{entity.FieldStatus: status}
			}
			items, err := a.store.List(kind, filter)
			if err != nil {
				return err
			}
			if asJSON {
				out := make([]entityJSON, 0, len(items))
				for _, e := range items {
					out = append(out, toJSON(e, false))
				}
				return writeJSON(a.Out, out)
			}
			if len(items) == 0 {
				fmt.Fprintf(a.Out, "No %s found\n", kind.Plural)
				return nil
			}
			for _, e := range items {
				line := entityLine(e)
				if kind == entity.Epic {
					done, _ := e.Fields.GetInt(entity.FieldTasksCompleted)
					total, _ := e.Fields.GetInt(entity.FieldTasksTotal)
					line += " " + gray(issuefmt.Progress(done, total))
				}
				fmt.Fprintln(a.Out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show entities with this status")
	if kind.ParentKind != "" {
		cmd.Flags().StringVar(&parent, kind.ParentKind, "", fmt.Sprintf("only show children of this %s", strings.ToUpper(kind.ParentKind)))
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func (a *App) showCommand(kind *entity.Kind) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: fmt.Sprintf("Print a %s file", strings.ToUpper(kind.Name)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.store.Show(kind, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.Out, toJSON(e, true))
			}
			fmt.Fprint(a.Out, e.Content())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func (a *App) updateCommand(kind *entity.Kind) *cobra.Command {
	var (
		title     string
		checkDeps bool
		flags     editFlags
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: fmt.Sprintf("Update fields or body of a %s", strings.ToUpper(kind.Name)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := flags.fields(cmd)
			if err != nil {
				return err
			}
			if title != "" {
				fields.Set(entity.FieldTitle, title)
			}
			body, err := flags.body(cmd)
			if err != nil {
				return err
			}
			if fields.Len() == 0 && body == nil {
				return fmt.Errorf("nothing to update")
			}
			e, err := a.store.Update(kind, args[0], store.Patch{
				Fields:               fields,
				Body:                 body,
				ValidateDependencies: checkDeps,
			})
			if err != nil {
				if store.IsDependencyNotMet(err) {
					warn(a.Err, "%v", err)
				}
				return err
			}
			success(a.Out, "Updated %s %s (%s)", kind.Name, e.ID, statusColor(e.Status())(e.Status()))
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	if kind == entity.Task {
		cmd.Flags().BoolVar(&checkDeps, "check-deps", false, "refuse to complete the task while dependencies are open")
	}
	flags.register(cmd, kind)
	return cmd
}
