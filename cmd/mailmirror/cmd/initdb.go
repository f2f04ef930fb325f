package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database",
	Long:  `Create the mirror database and apply the schema. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		fmt.Printf("Database initialized at %s\n", cfg.DatabasePath())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
