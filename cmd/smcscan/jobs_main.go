package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/smcscan/smcscan/internal/application/scan"
	httpapi "github.com/smcscan/smcscan/internal/interfaces/http"
)

// apiClient talks to a running serve process over its control API.
type apiClient struct {
	base string
	hc   *http.Client
}

func newAPIClient(cmd *cobra.Command) *apiClient {
	base, _ := cmd.Flags().GetString("server")
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/api/v1"+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("control API unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr httpapi.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Message)
		}
		return fmt.Errorf("control API returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	client := newAPIClient(cmd)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var list httpapi.ScanListResponse
	if err := client.do(ctx, http.MethodGet, "/scans", &list); err != nil {
		return err
	}
	if list.Count == 0 {
		fmt.Println("No scan jobs retained.")
		return nil
	}

	t := newTable("SCAN JOBS")
	t.AppendHeader(table.Row{"ID", "STATUS", "MODE", "PROGRESS", "SIGNALS", "CREATED"})
	for _, s := range list.Scans {
		t.AppendRow(table.Row{
			s.ID[:8],
			string(s.Status),
			orDash(s.Params.Mode),
			fmt.Sprintf("%d/%d", s.Progress.Completed, s.Progress.Total),
			len(s.Signals),
			s.CreatedAt.Format("15:04:05"),
		})
	}
	t.Render()
	return nil
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	client := newAPIClient(cmd)
	asJSON, _ := cmd.Flags().GetBool("json")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var snap scan.Snapshot
	if err := client.do(ctx, http.MethodGet, "/scans/"+args[0], &snap); err != nil {
		return err
	}
	if asJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
		return printJSON(os.Stdout, snap)
	}
	renderScan(snap)
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	client := newAPIClient(cmd)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var snap scan.Snapshot
	if err := client.do(ctx, http.MethodDelete, "/scans/"+args[0], &snap); err != nil {
		return err
	}
	fmt.Printf("Job %s is %s.\n", snap.ID[:8], snap.Status)
	return nil
}
