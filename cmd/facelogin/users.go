package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List registered users and their enrollment state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		users, err := a.Store.List(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Samples: %s\n", a.Gallery.Root())
		fmt.Fprintf(out, "Model:   %s (loaded: %t)\n\n", a.Artifacts.Path(), a.Model.IsLoaded())

		if len(users) == 0 {
			fmt.Fprintln(out, "No users registered.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSERNAME\tFACE\tSAMPLES")
		for _, u := range users {
			samples, err := a.Gallery.Count(u.ID)
			if err != nil {
				return err
			}
			face := "no"
			if u.HasFace() {
				face = "yes"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", u.ID, u.Username, face, samples)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Fprintf(out, "\nTotal: %d user(s)\n", len(users))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usersCmd)
}
