package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"diffusiond/pkg/types"
)

func newHealthCmd() *cobra.Command {
	var (
		addr    string
		asJSON  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:     "health",
		Short:   "Query a running server's /health endpoint",
		Example: "  diffusiond health --addr http://127.0.0.1:8000",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			hr, err := fetchHealth(ctx, http.DefaultClient, addr)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(hr); err != nil {
					return err
				}
			} else {
				renderHealth(cmd.OutOrStdout(), hr)
			}
			if hr.Status != "healthy" {
				return fmt.Errorf("server is %s", hr.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8000", "Server base URL")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON document")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}

// fetchHealth reads /health. A 503 still carries a health document.
func fetchHealth(ctx context.Context, client *http.Client, addr string) (types.HealthResponse, error) {
	var hr types.HealthResponse
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+"/health", nil)
	if err != nil {
		return hr, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return hr, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return hr, fmt.Errorf("GET /health: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return hr, fmt.Errorf("decode health: %w", err)
	}
	return hr, nil
}

func renderHealth(w io.Writer, hr types.HealthResponse) {
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	rows := [][]string{
		{"status", hr.Status},
		{"state", hr.State},
		{"model", hr.Model},
		{"device", hr.Device + " / " + hr.DType},
		{"adapter", orDash(hr.Adapter)},
		{"queue", fmt.Sprintf("%d / %d", hr.QueueSize, hr.QueueCapacity)},
		{"max batch", strconv.Itoa(hr.MaxBatchSize)},
		{"worker", orDash(hr.WorkerState)},
		{"uptime", (time.Duration(hr.UptimeSeconds) * time.Second).String()},
		{"requests", fmt.Sprintf("submitted=%d completed=%d failed=%d rejected=%d", hr.Submitted, hr.Completed, hr.Failed, hr.Rejected)},
	}
	if hr.Error != "" {
		rows = append(rows, []string{"error", hr.Error})
	}
	table.AppendBulk(rows)
	table.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
