package ctl

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/metta/internal/server/models"
	"github.com/spf13/cobra"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return s
}

func (a *App) printEntries(list []*models.Entry, asJSON bool) error {
	if asJSON {
		return writeJSON(a.out, list)
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRATING\tVOTES\tBY\tQUESTION")
	for _, e := range list {
		fmt.Fprintf(tw, "%s\t%.2f\t%d\t%s\t%s\n", e.ID, e.Rating, len(e.Users), e.CreatedBy, oneLine(e.Question, 60))
	}
	return tw.Flush()
}

func (a *App) listCmd() *cobra.Command {
	var (
		after  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List one page of entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := a.entries.List(cmd.Context(), after)
			if err != nil {
				return fmt.Errorf("listing entries: %w", err)
			}
			return a.printEntries(page, asJSON)
		},
	}
	cmd.Flags().StringVar(&after, "after", "", "Start after this entry id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func (a *App) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Print an entry as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.entries.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("reading entry: %w", err)
			}
			return writeJSON(a.out, e)
		},
	}
}

func (a *App) addCmd() *cobra.Command {
	var (
		e      models.Entry
		author models.Identity
		source string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an entry, prompting for any field not given as a flag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if e.Question == "" {
				if e.Question, err = GetSimpleText(a.in, "Question", a.out); err != nil {
					return err
				}
			}
			if e.Answer == "" {
				if e.Answer, err = GetMultiline(a.in, "Answer", a.out); err != nil {
					return err
				}
			}
			if source != "" {
				e.GeneratedBy = &source
			}

			var identity *models.Identity
			if author.UserID != "" || author.DisplayName != "" {
				identity = &author
			}

			id, err := a.entries.Create(cmd.Context(), identity, &e)
			if err != nil {
				return fmt.Errorf("creating entry: %w", err)
			}
			fmt.Fprintln(a.out, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&e.Question, "question", "", "Question text")
	cmd.Flags().StringVar(&e.Answer, "answer", "", "Answer text")
	cmd.Flags().StringVar(&e.Context, "context", "", "Free-form context")
	cmd.Flags().StringVar(&source, "generated-by", "", "Id of the entry this one was generated from")
	cmd.Flags().StringVar(&author.DisplayName, "as", "", "Author display name")
	cmd.Flags().StringVar(&author.UserID, "uid", "", "Author user id")
	return cmd
}

func (a *App) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.entries.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("deleting entry: %w", err)
			}
			fmt.Fprintln(a.out, "deleted", args[0])
			return nil
		},
	}
}

func (a *App) queryCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "query [field] [op] [value]",
		Short: "Find entries with a single comparison, e.g. query rating '>=' 4",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := a.entries.Query(cmd.Context(), models.Filter{Field: args[0], Op: args[1], Value: args[2]})
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			return a.printEntries(found, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func (a *App) voteCmd() *cobra.Command {
	var (
		userID  string
		retract bool
	)
	cmd := &cobra.Command{
		Use:   "vote [id] [rating]",
		Short: "Set or retract a user's vote on an entry",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity := &models.Identity{UserID: userID}

			var (
				e   *models.Entry
				err error
			)
			switch {
			case retract:
				e, err = a.entries.RetractVote(cmd.Context(), identity, args[0])
			case len(args) == 2:
				var rating int
				if rating, err = strconv.Atoi(args[1]); err != nil {
					return fmt.Errorf("rating must be a whole number: %w", err)
				}
				e, err = a.entries.Vote(cmd.Context(), identity, args[0], rating)
			default:
				return fmt.Errorf("a rating is required unless --retract is set")
			}
			if err != nil {
				return fmt.Errorf("vote: %w", err)
			}
			fmt.Fprintf(a.out, "%s rating %.2f (%d votes)\n", e.ID, e.Rating, len(e.Users))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Voting user id")
	cmd.Flags().BoolVar(&retract, "retract", false, "Remove the user's vote")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
