package ctl

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/metta/internal/filex"
	"github.com/dmitrijs2005/metta/internal/server/export"
	"github.com/spf13/cobra"
)

func (a *App) exportCmd() *cobra.Command {
	var (
		format    string
		minRating float64
		publish   bool
	)
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the instruction dataset to a file, stdout (-) or object storage (--publish)",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "-"
			if len(args) == 1 {
				target = args[0]
			}
			if format == "" && target != "-" {
				format = strings.TrimPrefix(filepath.Ext(target), ".")
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			if publish {
				url, err := a.exports.Publish(cmd.Context(), f, minRating)
				if err != nil {
					return fmt.Errorf("publishing export: %w", err)
				}
				fmt.Fprintln(a.out, url)
				return nil
			}

			if target == "-" {
				_, err := a.exports.Write(cmd.Context(), a.out, f, minRating)
				return err
			}

			file, err := filex.Create(target)
			if err != nil {
				return err
			}
			n, err := a.exports.Write(cmd.Context(), file, f, minRating)
			if cerr := file.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("writing export: %w", err)
			}
			fmt.Fprintf(a.errOut, "wrote %d records to %s\n", n, target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "json, jsonl or yaml (default from file extension, else json)")
	cmd.Flags().Float64Var(&minRating, "min-rating", 0, "Only export entries rated at least this")
	cmd.Flags().BoolVar(&publish, "publish", false, "Upload to the configured bucket and print a download link")
	cmd.Flags().StringVar(&a.cfg.S3Bucket, "bucket", a.cfg.S3Bucket, "export bucket")
	cmd.Flags().StringVar(&a.cfg.S3BaseEndpoint, "s3-endpoint", a.cfg.S3BaseEndpoint, "S3-compatible endpoint")
	return cmd
}
