package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var warmPoolCmd = &cobra.Command{
	Use:   "warmpool",
	Short: "Inspect or trigger the warm pool",
}

var warmPoolStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the warmup queue depth",
	RunE:  runWarmPoolStatus,
}

var warmPoolCycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Force an immediate warm pool cycle",
	RunE:  runWarmPoolCycle,
}

func init() {
	warmPoolCmd.AddCommand(warmPoolStatusCmd, warmPoolCycleCmd)
}

func runWarmPoolStatus(cmd *cobra.Command, args []string) error {
	c := clientFromCmd(cmd)
	var status struct {
		WarmupQueueDepth int `json:"warmup_queue_depth"`
	}
	if err := c.do(http.MethodGet, "/admin/warmpool/status", nil, &status); err != nil {
		return err
	}
	fmt.Printf("warmup queue depth: %d\n", status.WarmupQueueDepth)
	return nil
}

func runWarmPoolCycle(cmd *cobra.Command, args []string) error {
	c := clientFromCmd(cmd)
	if err := c.do(http.MethodPost, "/admin/warmpool/cycle", nil, nil); err != nil {
		return err
	}
	fmt.Println("warm pool cycle triggered")
	return nil
}
