package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/segdl/internal/repository"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the outcome of past downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := repository.NewBboltRepository(cfg.HistoryPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			records, err := repo.FindAll()
			if err != nil {
				return err
			}

			if len(records) == 0 {
				printInfo("no downloads recorded yet")
				return nil
			}

			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}

			fmt.Println(historyTable(records))

			for _, r := range records {
				for _, s := range r.FailedSegments {
					printWarning(fmt.Sprintf("%s segment %d [%d, %d) after %d tries: %s", r.ID, s.Index, s.Start, s.End, s.Tries, s.Error))
				}
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show (0 shows all)")

	return cmd
}
