package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/tools"
)

func init() {
	rootCmd.AddCommand(resourcesCmd)
}

var resourcesCmd = &cobra.Command{
	Use:   "resources [key]",
	Short: "List crisis hotlines, or show one by key",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			r, ok := tools.LookupDirectory(args[0])
			if !ok {
				return fmt.Errorf("unknown resource %q", args[0])
			}
			fmt.Fprintln(out, styles.panel.Render(renderResource(r)))
			return nil
		}

		fmt.Fprintln(out, styles.panel.Render(renderDirectory(tools.Directory)))
		fmt.Fprintln(out, styles.title.Render("Always available, even offline"))
		for _, r := range tools.OfflineContacts {
			fmt.Fprintf(out, "  %s  %s\n", styles.phone.Render(tools.FormatPhoneNumber(r.Phone)), r.Name)
		}
		return nil
	},
}

func renderResource(r models.EmergencyResource) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		styles.name.Render(r.Name),
		styles.phone.Render(tools.FormatPhoneNumber(r.Phone)),
		styles.muted.Render(r.Description),
	)
}

func renderDirectory(entries []tools.DirectoryEntry) string {
	width := 0
	for _, e := range entries {
		if n := len(e.Key); n > width {
			width = n
		}
	}

	rows := []string{styles.title.Render("Crisis resources")}
	for _, e := range entries {
		key := styles.muted.Render(e.Key + strings.Repeat(" ", width-len(e.Key)))
		rows = append(rows, fmt.Sprintf("%s  %s  %s", key,
			styles.phone.Render(tools.FormatPhoneNumber(e.Phone)),
			styles.name.Render(e.Name)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}
