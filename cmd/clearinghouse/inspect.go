package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"ClearingHouse/internal/amm"
	"ClearingHouse/internal/config"
	"ClearingHouse/internal/persistence"
	"ClearingHouse/internal/state"
)

type marketSummary struct {
	MarketIndex uint16       `json:"market_index"`
	MarkPrice   string       `json:"mark_price"`
	Market      state.Market `json:"market"`
}

func newInspectMarketsCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "inspect-markets",
		Short: "Decode a Markets table and print its initialized markets",
		Long: "Decodes the fixed-layout Markets table from --file, or from the latest\n" +
			"verified snapshot in CH_POSTGRES_DSN when no file is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := loadMarketsBlob(cmd.Context(), file)
			if err != nil {
				return err
			}
			markets, err := state.DecodeMarkets(blob)
			if err != nil {
				return err
			}

			out := make([]marketSummary, 0)
			for _, idx := range markets.Initialized() {
				m, err := markets.Get(idx)
				if err != nil {
					return err
				}
				mark, err := amm.MarkPrice(&m.AMM)
				if err != nil {
					return fmt.Errorf("market %d: %w", idx, err)
				}
				out = append(out, marketSummary{MarketIndex: idx, MarkPrice: mark.String(), Market: m})
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to a raw Markets table")
	return cmd
}

func loadMarketsBlob(ctx context.Context, file string) ([]byte, error) {
	if file != "" {
		return os.ReadFile(file)
	}
	db, err := sql.Open("postgres", config.Load().PostgresURL)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	snap, err := persistence.NewSnapshotStore(db).LoadLatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("no verified snapshot")
	}
	return snap.Markets, nil
}
