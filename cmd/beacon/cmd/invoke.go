// Package cmd 提供 beacon 命令行工具的所有子命令实现。
// 本文件实现 invoke 命令，用于通过 HTTP 触发函数。
//
// 指定 --count 时会连续调用多次并输出汇总，适合观察模拟依赖的成功率。
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oriys/beacon/internal/hostclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var invokeCmd = &cobra.Command{
	Use:   "invoke [path]",
	Short: "Invoke the function",
	Long: `Invoke the HTTP-triggered function and print its response.

Examples:
  beacon invoke
  beacon invoke /api/hello --method POST
  beacon invoke --id my-op-1
  beacon invoke --count 20`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInvoke,
}

var (
	invokeMethod string
	invokeID     string
	invokeCount  int
)

func init() {
	rootCmd.AddCommand(invokeCmd)

	invokeCmd.Flags().StringVarP(&invokeMethod, "method", "X", http.MethodGet, "HTTP method (GET or POST)")
	invokeCmd.Flags().StringVar(&invokeID, "id", "", "Invocation ID sent as X-Invocation-Id")
	invokeCmd.Flags().IntVarP(&invokeCount, "count", "n", 1, "Number of invocations")
}

// invokeSummary 是多次调用的汇总。
type invokeSummary struct {
	Total     int     `json:"total"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	AvgMs     float64 `json:"avg_ms"`
}

func runInvoke(cmd *cobra.Command, args []string) error {
	path := "/"
	if len(args) == 1 {
		path = args[0]
	}
	method := strings.ToUpper(invokeMethod)
	if method != http.MethodGet && method != http.MethodPost {
		return fmt.Errorf("unsupported method %q: must be GET or POST", invokeMethod)
	}
	if invokeCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	client := newClient()
	out := cmd.OutOrStdout()
	asJSON := viper.GetString("output") == "json"

	var summary invokeSummary
	var total time.Duration
	for i := 0; i < invokeCount; i++ {
		id := invokeID
		if id != "" && invokeCount > 1 {
			id = fmt.Sprintf("%s-%d", invokeID, i+1)
		}

		res, err := client.Invoke(commandContext(cmd), method, path, id)
		if err != nil {
			return fmt.Errorf("failed to invoke function: %w", err)
		}
		summary.Total++
		total += res.Duration
		if res.OK() {
			summary.Succeeded++
		} else {
			summary.Failed++
		}

		if invokeCount == 1 {
			if err := printResult(out, res, asJSON); err != nil {
				return err
			}
			if !res.OK() {
				return fmt.Errorf("function failed with status %d", res.StatusCode)
			}
			return nil
		}
		if !asJSON {
			printResultLine(out, res)
		}
	}

	summary.AvgMs = float64(total.Microseconds()) / 1000 / float64(summary.Total)
	if asJSON {
		return json.NewEncoder(out).Encode(summary)
	}
	fmt.Fprintf(out, "\nTotal: %d  Succeeded: %d  Failed: %d  Avg: %.1fms\n",
		summary.Total, summary.Succeeded, summary.Failed, summary.AvgMs)
	return nil
}

func printResult(out io.Writer, res *hostclient.InvokeResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"status":        res.StatusCode,
			"invocation_id": res.InvocationID,
			"message":       res.Message,
			"timestamp":     res.Timestamp,
			"error":         res.Error,
			"duration_ms":   res.Duration.Milliseconds(),
		})
	}

	fmt.Fprintf(out, "Status:        %d\n", res.StatusCode)
	fmt.Fprintf(out, "Invocation ID: %s\n", res.InvocationID)
	fmt.Fprintf(out, "Duration:      %dms\n", res.Duration.Milliseconds())
	if res.OK() {
		fmt.Fprintf(out, "Message:       %s\n", res.Message)
		fmt.Fprintf(out, "Timestamp:     %s\n", res.Timestamp)
	} else {
		fmt.Fprintf(out, "Error:         %s\n", res.Error)
	}
	return nil
}

func printResultLine(out io.Writer, res *hostclient.InvokeResult) {
	mark := "ok"
	detail := res.Message
	if !res.OK() {
		mark = "FAIL"
		detail = res.Error
	}
	fmt.Fprintf(out, "%-4s %d %s %dms %s\n", mark, res.StatusCode, res.InvocationID, res.Duration.Milliseconds(), detail)
}
