package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	yaml "go.yaml.in/yaml/v3"

	"grievd/internal/app"
	"grievd/internal/config"
	"grievd/internal/domain"
	"grievd/internal/storage"
	logx "grievd/pkg/logx"
)

func logsCmd(cfgPath *string) *cobra.Command {
	var (
		channel, status, query, related, format string
		limit                                   int
		stats                                   bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query the notification log",
		Long: `Query delivery attempts recorded in the configured store, newest first.

Examples:
  # Failed SMS attempts
  grievd logs --channel sms --status failed

  # Everything about one complaint as JSON
  grievd logs --related C-1042 -o json

  # Summary counts
  grievd logs --stats`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := storage.Filter{RecipientContains: query, RelatedID: related, Limit: limit}
			if channel != "" {
				ch, ok := domain.ParseChannel(channel)
				if !ok {
					return fmt.Errorf("unknown channel %q", channel)
				}
				f.Channel = ch
			}
			if status != "" {
				st, ok := domain.ParseAttemptStatus(status)
				if !ok {
					return fmt.Errorf("unknown status %q", status)
				}
				f.Status = st
			}

			cfg, err := config.NewConfigManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cfg, logx.Nop())
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if stats {
				st, err := store.Stats(ctx)
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), format, st)
			}
			rows, err := store.Query(ctx, f)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), format, rows)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&channel, "channel", "", "push, email, sms or call")
	fl.StringVar(&status, "status", "", "pending, sent or failed")
	fl.StringVarP(&query, "query", "q", "", "recipient or subject contains")
	fl.StringVar(&related, "related", "", "related entity id")
	fl.IntVarP(&limit, "limit", "n", 50, "maximum rows")
	fl.BoolVar(&stats, "stats", false, "print summary counts instead of rows")
	fl.StringVarP(&format, "output", "o", "table", "output format: table, json, yaml")
	return cmd
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// Round-trip through JSON so field names follow the json tags.
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := yaml.Unmarshal(b, &generic); err != nil {
			return err
		}
		return yaml.NewEncoder(w).Encode(generic)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()
	switch r := v.(type) {
	case []domain.Attempt:
		fmt.Fprintln(tw, "ID\tCREATED\tCHANNEL\tSTATUS\tRECIPIENT\tRELATED\tERROR")
		for _, a := range r {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				a.ID, a.CreatedAt.Local().Format(time.DateTime), a.Channel, a.Status,
				a.Recipient, a.RelatedID, oneLine(a.ErrorMessage, 60))
		}
	case storage.Stats:
		fmt.Fprintf(tw, "TOTAL\t%d\nPENDING\t%d\nSENT\t%d\nFAILED\t%d\n", r.Total, r.Pending, r.Sent, r.Failed)
		for _, ch := range domain.Channels {
			fmt.Fprintf(tw, "%s\t%d\n", strings.ToUpper(string(ch)), r.ByChannel[ch])
		}
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return nil
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
