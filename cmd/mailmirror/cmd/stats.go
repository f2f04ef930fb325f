package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show mirror statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.GetStats()
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Println("Mirror statistics:")
		fmt.Printf("  Accounts:     %d\n", stats.AccountCount)
		fmt.Printf("  Messages:     %d\n", stats.MessageCount)
		fmt.Printf("  Memberships:  %d\n", stats.MembershipCount)
		fmt.Printf("  Parts:        %d\n", stats.PartCount)
		fmt.Printf("  Folders:      %d tracked\n", stats.CursorCount)
		fmt.Printf("  Database:     %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))

		dropped, err := s.TotalDroppedCommits()
		if err != nil {
			return fmt.Errorf("sum dropped commits: %w", err)
		}
		if dropped > 0 {
			fmt.Printf("  Dropped commits (all runs): %d\n", dropped)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
