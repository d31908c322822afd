package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewFlowCmd создаёт группу команд для управления flows.
func NewFlowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage flows",
	}

	cmd.AddCommand(
		newFlowListCmd(clientFn, outputFn),
		newFlowCreateCmd(clientFn, outputFn),
		newFlowShowCmd(clientFn, outputFn),
		newFlowUpdateCmd(clientFn, outputFn),
		newFlowEnabledCmd(clientFn, outputFn, true),
		newFlowEnabledCmd(clientFn, outputFn, false),
	)

	return cmd
}

var flowHeaders = []string{"ID", "WORKSPACE", "NAME", "VERSION", "ENABLED", "UPDATED"}

func flowRow(f *FlowResponse) []string {
	return []string{f.ID, f.WorkspaceID, f.Name, strconv.Itoa(f.Version), strconv.FormatBool(f.Enabled), f.UpdatedAt}
}

// readGraph читает граф flow из JSON файла вида {"nodes": [...], "edges": [...]}.
func readGraph(path string) (Graph, error) {
	var g Graph

	data, err := os.ReadFile(path)
	if err != nil {
		return g, fmt.Errorf("failed to read graph file: %w", err)
	}
	if err := json.Unmarshal(data, &g); err != nil {
		return g, fmt.Errorf("graph file is not valid JSON: %w", err)
	}
	if len(g.Nodes) == 0 {
		return g, fmt.Errorf("graph file has no nodes")
	}
	return g, nil
}

func newFlowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var workspaceID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flows, err := client.ListFlows(workspaceID)
			if err != nil {
				return err
			}

			rows := make([][]string, len(flows))
			for i := range flows {
				rows[i] = flowRow(&flows[i])
			}

			out.Print(flowHeaders, rows, flows)
			return nil
		},
	}

	cmd.Flags().StringVar(&workspaceID, "workspace-id", "", "Filter by workspace ID")

	return cmd
}

func newFlowCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		workspaceID string
		name        string
		graphFile   string
		enabled     bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new flow from a graph file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			graph, err := readGraph(graphFile)
			if err != nil {
				return err
			}

			flow, err := client.CreateFlow(CreateFlowRequest{
				WorkspaceID: workspaceID,
				Name:        name,
				Enabled:     enabled,
				Graph:       graph,
			})
			if err != nil {
				return err
			}

			out.Notef("Flow created: %s", flow.ID)
			out.Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}

	cmd.Flags().StringVar(&workspaceID, "workspace-id", "", "Workspace ID (required)")
	cmd.Flags().StringVar(&name, "name", "", "Flow name (required)")
	cmd.Flags().StringVar(&graphFile, "graph-file", "", "Path to graph JSON file (required)")
	cmd.Flags().BoolVar(&enabled, "enabled", false, "Enable the flow right away")
	cmd.MarkFlagRequired("workspace-id")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("graph-file")

	return cmd
}

func newFlowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show flow details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flow, err := client.GetFlow(args[0])
			if err != nil {
				return err
			}

			out.Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}
}

func newFlowUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		name      string
		graphFile string
	)

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Save a new version of a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			graph, err := readGraph(graphFile)
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("name") {
				current, err := client.GetFlow(args[0])
				if err != nil {
					return err
				}
				name = current.Name
			}

			flow, err := client.UpdateFlow(args[0], UpdateFlowRequest{Name: name, Graph: graph})
			if err != nil {
				return err
			}

			out.Notef("Flow updated to version %d", flow.Version)
			out.Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New flow name (keeps current if omitted)")
	cmd.Flags().StringVar(&graphFile, "graph-file", "", "Path to graph JSON file (required)")
	cmd.MarkFlagRequired("graph-file")

	return cmd
}

func newFlowEnabledCmd(clientFn func() *Client, outputFn func() *Output, enabled bool) *cobra.Command {
	use, short, done := "enable ID", "Enable a flow", "Flow enabled"
	if !enabled {
		use, short, done = "disable ID", "Disable a flow", "Flow disabled"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flow, err := client.SetFlowEnabled(args[0], enabled)
			if err != nil {
				return err
			}

			out.Notef("%s: %s", done, flow.ID)
			return nil
		},
	}
}
