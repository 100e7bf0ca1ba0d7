package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var (
		addr   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use: "status",

		Short: "Print the active watches of a running sentinel",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			u := url.URL{Scheme: "http", Host: addr, Path: "/status"}
			if asJSON {
				u.RawQuery = "format=json"
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("failed to query %s: %w", u.String(), err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status from %s: %s", u.String(), resp.Status)
			}

			if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "address of the running sentinel")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of XML")
	return cmd
}
