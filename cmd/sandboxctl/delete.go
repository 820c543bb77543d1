package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <sandbox-id>",
	Short: "Delete a sandbox",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	c := clientFromCmd(cmd)
	if err := c.do(http.MethodDelete, "/sandboxes/"+args[0], nil, nil); err != nil {
		return err
	}
	fmt.Printf("Deleted sandbox %s\n", args[0])
	return nil
}
