package ctl

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/metta/internal/common"
	"github.com/spf13/cobra"
)

func (a *App) userAddCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "useradd [email]",
		Short: "Create an account, prompting for its password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := GetPassword(a.out, "Enter password: ")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pw)

			confirm, err := GetPassword(a.out, "Repeat password: ")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(confirm)

			if !bytes.Equal(pw, confirm) {
				return errors.New("passwords do not match")
			}
			if len(pw) == 0 {
				return errors.New("password must not be empty")
			}

			u, err := a.users.SignUp(cmd.Context(), args[0], string(pw), name)
			if err != nil {
				return fmt.Errorf("creating user: %w", err)
			}
			fmt.Fprintln(a.out, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	return cmd
}
