package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yoockh/crisishelp/internal/session"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the crisis service's current session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		st, err := fetchState(ctx, serverURL, os.Getenv("CRISIS_TOKEN"))
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "STATUS\t%s\n", statusStyle(string(st.Status)).Render(string(st.Status)))
		fmt.Fprintf(w, "SESSION\t%s\n", st.SessionID)
		fmt.Fprintf(w, "DURATION\t%s\n", (time.Duration(st.DurationSeconds) * time.Second).String())
		fmt.Fprintf(w, "CONNECTION\t%s\n", st.ConnectionQuality)
		fmt.Fprintf(w, "INCOGNITO\t%t\n", st.Incognito)
		fmt.Fprintf(w, "AUTO-CALL 911\t%t\n", st.AutoCallEmergency)
		fmt.Fprintf(w, "TRANSCRIPT\t%d entries\n", st.TranscriptEntries)
		if len(st.ToolsActive) > 0 {
			names := make([]string, len(st.ToolsActive))
			for i, t := range st.ToolsActive {
				names[i] = string(t)
			}
			fmt.Fprintf(w, "TOOLS\t%s\n", strings.Join(names, ", "))
		}
		return w.Flush()
	},
}

func fetchState(ctx context.Context, base, token string) (session.State, error) {
	var st session.State
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/session", nil)
	if err != nil {
		return st, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return st, fmt.Errorf("reach crisis service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("crisis service answered %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode session: %w", err)
	}
	return st, nil
}
