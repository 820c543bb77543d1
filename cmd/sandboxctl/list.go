package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

type sandboxDocument struct {
	ID      string `json:"id"`
	Owner   string `json:"owner"`
	Profile string `json:"profile"`
	Status  string `json:"status"`
}

type listResponse struct {
	Sandboxes []sandboxDocument `json:"sandboxes"`
	Cursor    string            `json:"cursor"`
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List sandboxes",
	RunE:  runList,
}

func init() {
	listCmd.Flags().Int("limit", 50, "max sandboxes to return")
	listCmd.Flags().String("status", "", "filter by status")
}

func runList(cmd *cobra.Command, args []string) error {
	c := clientFromCmd(cmd)
	limit, _ := cmd.Flags().GetInt("limit")
	status, _ := cmd.Flags().GetString("status")

	path := fmt.Sprintf("/sandboxes?limit=%d", limit)
	if status != "" {
		path += "&status=" + status
	}

	var resp listResponse
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}

	fmt.Printf("%-36s %-12s %-20s %s\n", "ID", "STATUS", "PROFILE", "OWNER")
	for _, sb := range resp.Sandboxes {
		fmt.Printf("%-36s %-12s %-20s %s\n", sb.ID, sb.Status, sb.Profile, sb.Owner)
	}
	return nil
}
