package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunNodesCmd(clientFn, outputFn),
	)

	return cmd
}

var runHeaders = []string{"ID", "FLOW_ID", "VERSION", "TRIGGER", "STATUS", "STARTED"}

func runRow(r *RunResponse) []string {
	return []string{r.ID, r.FlowID, strconv.Itoa(r.FlowVersion), r.TriggerNodeID, r.Status, r.StartedAt}
}

var nodeHeaders = []string{"NODE", "STATUS", "ATTEMPT", "SCHEDULED", "ERROR"}

func nodeRows(nodes []RunNodeResponse) [][]string {
	rows := make([][]string, len(nodes))
	for i, n := range nodes {
		errText := n.LastError
		if n.ErrorKind != "" {
			errText = n.ErrorKind + ": " + errText
		}
		rows[i] = []string{n.NodeID, n.Status, strconv.Itoa(n.Attempt), n.ScheduledAt, errText}
	}
	return rows
}

// parseContext собирает trigger context из пар KEY=VALUE и JSON объекта.
// Пары перекрывают ключи из JSON.
func parseContext(pairs []string, raw string) (map[string]any, error) {
	ctx := make(map[string]any)

	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &ctx); err != nil {
			return nil, fmt.Errorf("invalid --context-json: %w", err)
		}
	}

	for _, kv := range pairs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid context format %q, expected KEY=VALUE", kv)
		}
		ctx[parts[0]] = parts[1]
	}

	return ctx, nil
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i := range runs {
				rows[i] = runRow(&runs[i])
			}

			out.Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.FlowID, "flow-id", "", "Filter by flow ID")
	cmd.Flags().StringVar(&opts.WorkspaceID, "workspace-id", "", "Filter by workspace ID")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (active, completed, partially_failed, failed, canceled)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		trigger string
		pairs   []string
		rawCtx  string
	)

	cmd := &cobra.Command{
		Use:   "start FLOW_ID",
		Short: "Fire a trigger of a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			triggerCtx, err := parseContext(pairs, rawCtx)
			if err != nil {
				return err
			}

			run, err := client.StartRun(args[0], StartRunRequest{
				TriggerNodeID: trigger,
				Context:       triggerCtx,
			})
			if err != nil {
				return err
			}

			out.Notef("Run started: %s", run.ID)
			out.Print(runHeaders, [][]string{runRow(run)}, run)
			return nil
		},
	}

	cmd.Flags().StringVar(&trigger, "trigger", "", "Trigger node ID (required)")
	cmd.Flags().StringSliceVar(&pairs, "ctx", nil, "Trigger context as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&rawCtx, "context-json", "", "Trigger context as a JSON object")
	cmd.MarkFlagRequired("trigger")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run status and its nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			view, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			if out.IsJSON() {
				out.JSON(view)
				return nil
			}

			s := view.Summary
			out.Table(
				[]string{"ID", "STATUS", "PENDING", "SUCCEEDED", "FAILED", "BRANCHES_DONE", "ERROR"},
				[][]string{{
					view.Run.ID, view.DisplayStatus,
					strconv.Itoa(s.Pending + s.Claimed), strconv.Itoa(s.Succeeded), strconv.Itoa(s.Failed),
					strconv.Itoa(s.BranchesCompleted), view.Run.Error,
				}},
			)
			out.Table(nodeHeaders, nodeRows(view.Nodes))
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel an active run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CancelRun(args[0])
			if err != nil {
				return err
			}

			out.Notef("Run canceled: %s", run.ID)
			return nil
		},
	}
}

func newRunNodesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes RUN_ID",
		Short: "List node executions of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			nodes, err := client.ListRunNodes(args[0])
			if err != nil {
				return err
			}

			out.Print(nodeHeaders, nodeRows(nodes), nodes)
			return nil
		},
	}
}
