package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/marketflow/tvstream/search"
)

const (
	flagExchange = "exchange"
	flagLimit    = "limit"
)

func getSearchCmd() *cobra.Command {
	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Args:  cobra.ExactArgs(1),
		Short: "Searches tradable symbols matching the query",
		RunE: func(cmd *cobra.Command, args []string) error {
			logLvlStr, err := cmd.Flags().GetString(flagLogLevel)
			if err != nil {
				return err
			}

			logLvl, err := zerolog.ParseLevel(logLvlStr)
			if err != nil {
				return err
			}

			logFormatStr, err := cmd.Flags().GetString(flagLogFormat)
			if err != nil {
				return err
			}

			var logWriter io.Writer
			switch strings.ToLower(logFormatStr) {
			case logLevelJSON:
				logWriter = os.Stderr

			case logLevelText:
				logWriter = zerolog.ConsoleWriter{Out: os.Stderr}

			default:
				return fmt.Errorf("invalid logging format: %s", logFormatStr)
			}

			logger := zerolog.New(logWriter).Level(logLvl).With().Timestamp().Logger()

			exchange, err := cmd.Flags().GetString(flagExchange)
			if err != nil {
				return err
			}

			limit, err := cmd.Flags().GetInt(flagLimit)
			if err != nil {
				return err
			}

			rows, err := search.New(logger, "").Search(cmd.Context(), args[0], exchange)
			if err != nil {
				return err
			}
			if limit > 0 && len(rows) > limit {
				rows = rows[:limit]
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Symbol", "Exchange", "Type", "Currency", "Description"})
			for _, row := range rows {
				table.Append([]string{row.Symbol, row.Exchange, row.Type, row.Currency, row.Description})
			}
			table.Render()

			return nil
		},
	}

	searchCmd.Flags().String(flagExchange, "", "restrict matches to one exchange")
	searchCmd.Flags().Int(flagLimit, 20, "maximum number of rows to print")

	return searchCmd
}
