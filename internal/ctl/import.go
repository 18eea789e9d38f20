package ctl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/metta/internal/server/models"
	"github.com/spf13/cobra"
)

// seedRecord is one line of a seed file. Both the seed task layout
// ({"instruction", "instances": [{"output"}]}) and the flat export layout
// ({"instruction", "output"}) are accepted.
type seedRecord struct {
	Instruction string `json:"instruction"`
	Output      string `json:"output"`
	Instances   []struct {
		Output string `json:"output"`
	} `json:"instances"`
}

func (r seedRecord) entry() (*models.Entry, error) {
	answer := r.Output
	if answer == "" && len(r.Instances) > 0 {
		answer = r.Instances[0].Output
	}
	e := &models.Entry{
		Question: strings.TrimSpace(r.Instruction),
		Answer:   strings.TrimSpace(answer),
	}
	if e.Question == "" || e.Answer == "" {
		return nil, errors.New("instruction and output are required")
	}
	return e, nil
}

// readSeed decodes every record of a JSON lines stream before anything is
// stored, so a bad line aborts the import without a partial load.
func readSeed(r io.Reader) ([]*models.Entry, error) {
	var list []*models.Entry
	dec := json.NewDecoder(r)
	for n := 1; ; n++ {
		var rec seedRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return list, nil
			}
			return nil, fmt.Errorf("record %d: %w", n, err)
		}
		e, err := rec.entry()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", n, err)
		}
		list = append(list, e)
	}
}

func (a *App) importCmd() *cobra.Command {
	var author models.Identity
	cmd := &cobra.Command{
		Use:   "import [file|-]",
		Short: "Bulk-load entries from a JSON lines seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src io.Reader = a.in
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}

			list, err := readSeed(src)
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			var identity *models.Identity
			if author.UserID != "" || author.DisplayName != "" {
				identity = &author
			}

			for _, e := range list {
				id, err := a.entries.Create(cmd.Context(), identity, e)
				if err != nil {
					return fmt.Errorf("creating entry: %w", err)
				}
				a.log.Debug(cmd.Context(), "entry imported", "entry_id", id)
			}
			fmt.Fprintf(a.out, "imported %d entries\n", len(list))
			return nil
		},
	}
	cmd.Flags().StringVar(&author.DisplayName, "as", "", "Author display name")
	cmd.Flags().StringVar(&author.UserID, "uid", "", "Author user id")
	return cmd
}
