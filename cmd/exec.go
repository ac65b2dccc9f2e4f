package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/relaycommander/rc-agent/internal/orchestrator"
	"github.com/relaycommander/rc-agent/internal/protocol"
	"github.com/relaycommander/rc-agent/internal/tasks"
)

var execTaskID string

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- command [args...]",
	Short: "Execute a command and report results",
	Long: `Execute a command, capture its output, then hand the result to the running
agent via its local socket. The agent reports it on its next cycle.

Example:
  rc-agent exec --task-id abc123 -- /path/to/script.sh arg1 arg2`,
	Args: cobra.MinimumNArgs(1),
	Run:  runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().StringVarP(&execTaskID, "task-id", "j", "", "Task ID for this execution")
	execCmd.Flags().StringVar(&execSocketPath, "socket", "", "Agent socket path")
	execCmd.MarkFlagRequired("task-id")
}

func runExec(cmd *cobra.Command, args []string) {
	setNoNewPrivs()

	result, code := execute(args, cfg.Tasks.MaxOutputBytes)
	if err := sendResult(result); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to send result to agent: %v\n", err)
	}

	// Exit with the same code as the wrapped command
	os.Exit(code)
}

// execute runs args with bounded output capture and converts the outcome
// into a result under execTaskID.
func execute(args []string, maxOutput int) (protocol.TaskResult, int) {
	p, err := tasks.Start(exec.Command(args[0], args[1:]...), maxOutput)
	if err != nil {
		return orchestrator.Harvest(execTaskID, 1, "", fmt.Sprintf("Execution error: %v", err)), 1
	}
	code := p.Wait()
	stdout, stderr := p.Output()
	return orchestrator.Harvest(execTaskID, code, stdout, stderr), code
}

func sendResult(result protocol.TaskResult) error {
	conn, err := net.Dial("unix", resultSocketPath())
	if err != nil {
		return errors.Wrap(err, "failed to connect to agent socket")
	}
	defer conn.Close()

	if err := verifySocketPeer(conn); err != nil {
		return errors.Wrap(err, "security check failed")
	}

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := json.NewEncoder(conn).Encode(result); err != nil {
		return errors.Wrap(err, "failed to send result")
	}
	return nil
}
