package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a sandbox",
	RunE:  runCreate,
}

func init() {
	createCmd.Flags().String("profile", "", "profile id (required)")
	createCmd.Flags().String("workspace", "", "workspace id")
	createCmd.Flags().Int("ttl", 0, "time-to-live in seconds (0 = infinite)")
	_ = createCmd.MarkFlagRequired("profile")
}

func runCreate(cmd *cobra.Command, args []string) error {
	c := clientFromCmd(cmd)
	profile, _ := cmd.Flags().GetString("profile")
	workspace, _ := cmd.Flags().GetString("workspace")
	ttl, _ := cmd.Flags().GetInt("ttl")

	req := map[string]any{"profile": profile, "workspace_id": workspace}
	if ttl > 0 {
		req["ttl"] = ttl
	}

	var sb sandboxDocument
	if err := c.do(http.MethodPost, "/sandboxes", req, &sb); err != nil {
		return err
	}
	fmt.Printf("Created sandbox %s (profile=%s, status=%s)\n", sb.ID, sb.Profile, sb.Status)
	return nil
}
