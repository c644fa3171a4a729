package commands

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaborage/alioli/logger"
	"github.com/gaborage/alioli/queue"
)

type statusOutput struct {
	Count    int               `json:"count"`
	Requests []*requestSummary `json:"requests,omitempty"`
	Config   map[string]any    `json:"config,omitempty"`
}

type requestSummary struct {
	*queue.PendingRequest
	ValidUntilTime time.Time `json:"valid_until_time"`
	Expired        bool      `json:"expired"`
}

func newStatusCommand(g *globalOptions) *cobra.Command {
	var list, showConfig bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the number of queued requests as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			a, err := g.buildFrom(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.WithoutCancel(cmd.Context()))

			out := statusOutput{}
			if out.Count, err = a.Store().Count(cmd.Context()); err != nil {
				return err
			}
			if list {
				items, err := a.Store().List(cmd.Context())
				if err != nil {
					return err
				}
				out.Requests = summarize(items, time.Now())
			}
			if showConfig {
				out.Config = maskConfig(cfg.All())
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "Include every queued request, with sensitive headers masked")
	cmd.Flags().BoolVar(&showConfig, "show-config", false, "Include the effective configuration, with secrets masked")
	return cmd
}

func summarize(items []*queue.PendingRequest, now time.Time) []*requestSummary {
	masker := logger.NewSensitiveDataFilter(logger.DefaultFilterConfig())
	out := make([]*requestSummary, 0, len(items))
	for _, it := range items {
		c := it.Clone()
		c.Headers = masker.MaskHeaders(c.Headers)
		out = append(out, &requestSummary{
			PendingRequest: c,
			ValidUntilTime: time.UnixMilli(it.ValidUntil).UTC(),
			Expired:        it.ExpiredAt(now),
		})
	}
	return out
}

// maskConfig masks values whose key names a secret and passwords inside URLs.
func maskConfig(all map[string]any) map[string]any {
	return logger.NewSensitiveDataFilter(logger.DefaultFilterConfig()).FilterFields(all)
}
