package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaborage/alioli/capture"
	"github.com/gaborage/alioli/headers"
	"github.com/gaborage/alioli/transport"
)

type sendOptions struct {
	method   string
	headers  []string
	data     string
	dataFile string
	validFor time.Duration
}

func newSendCommand(g *globalOptions) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send URL",
		Short: "Send a deferrable request; on failure it stays queued for retry",
		Example: `  # POST a JSON payload that may be retried for two days
  alioli send https://api.example.com/orders -X POST \
    -H 'Content-Type: application/json' -d '{"id":42}' --valid-for 48h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opts.request(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := g.build(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.WithoutCancel(cmd.Context()))

			resp, sendErr := a.Client().Execute(cmd.Context(), req)
			queued, err := a.Store().Count(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if sendErr != nil {
				fmt.Fprintf(w, "error: %v\n", sendErr)
			} else {
				fmt.Fprintf(w, "status: %d\n", resp.StatusCode)
			}
			fmt.Fprintf(w, "queued: %d\n", queued)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.method, "request", "X", "", "HTTP method (default GET, or POST with a body)")
	cmd.Flags().StringArrayVarP(&opts.headers, "header", "H", nil, "Header as 'Name: value' (repeatable)")
	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "Request body")
	cmd.Flags().StringVar(&opts.dataFile, "data-file", "", "Read the request body from a file, or - for stdin")
	cmd.Flags().DurationVar(&opts.validFor, "valid-for", 0, "How long the request may be retried (default one week)")
	return cmd
}

func (o *sendOptions) request(url string, stdin io.Reader) (*transport.Request, error) {
	body, err := o.body(stdin)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(o.method)
	if method == "" {
		method = "GET"
		if body != nil {
			method = "POST"
		}
	}

	validity := ""
	if o.validFor > 0 {
		validity = strconv.FormatInt(o.validFor.Milliseconds(), 10)
	}
	hs := []headers.Header{{Key: capture.HeaderName, Value: validity}}
	for _, raw := range o.headers {
		key, value, ok := strings.Cut(raw, ":")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", raw)
		}
		hs = append(hs, headers.Header{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)})
	}

	return &transport.Request{Method: method, URL: url, Headers: hs, Body: body}, nil
}

func (o *sendOptions) body(stdin io.Reader) ([]byte, error) {
	switch {
	case o.data != "" && o.dataFile != "":
		return nil, fmt.Errorf("--data and --data-file are mutually exclusive")
	case o.data != "":
		return []byte(o.data), nil
	case o.dataFile == "-":
		return io.ReadAll(stdin)
	case o.dataFile != "":
		return os.ReadFile(o.dataFile)
	}
	return nil, nil
}
