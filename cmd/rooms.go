package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/biswa/tourcall-signal/internal/server"
)

func newRoomsCmd() *cobra.Command {
	var (
		serverURL string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List active rooms on a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			rooms, err := fetchRooms(ctx, serverURL)
			if err != nil {
				return err
			}
			renderRooms(cmd.OutOrStdout(), rooms)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:3001", "Base URL of the signaling server")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}

func fetchRooms(ctx context.Context, base string) ([]server.RoomSummary, error) {
	url := strings.TrimRight(base, "/") + "/api/rooms"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %s", url, resp.Status)
	}

	var rooms []server.RoomSummary
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return rooms, nil
}

func renderRooms(w io.Writer, rooms []server.RoomSummary) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, "No active rooms")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Room", "Participants", "Share state", "Creator", "Controller"})
	for _, r := range rooms {
		controller := r.ControllerID
		if controller == "" {
			controller = "-"
		}
		t.AppendRow(table.Row{r.ID, r.Participants, r.State, r.CreatorID, controller})
	}
	t.AppendFooter(table.Row{"Total", len(rooms)})
	t.Render()
}
