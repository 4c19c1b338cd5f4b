// chitta is the thin CLI client. Every tool in the RPC taxonomy becomes
// a subcommand whose flag table is derived from the same parameter specs
// the daemon validates against, so --help and server-side validation can
// never disagree.
//
// Exit codes: 0 success, 1 error (rendered to stderr). --json switches
// the output to the structured result only.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/genomewalker/chitta/pkg/client"
	"github.com/genomewalker/chitta/pkg/daemon"
	"github.com/genomewalker/chitta/pkg/rpc"
)

var (
	socketPath string
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chitta",
		Short: "CLI for the chitta memory daemon",
		Long:  `Invoke memory tools on a running chittad over its local socket.`,
	}
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", defaultSocket(), "daemon socket path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit the structured result only")

	for _, tool := range rpc.Taxonomy() {
		rootCmd.AddCommand(buildToolCommand(tool))
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultSocket() string {
	if env := os.Getenv("SOCKET_PATH"); env != "" {
		return env
	}
	return daemon.DefaultSocketPath()
}

// buildToolCommand turns one taxonomy entry into a cobra command with a
// flag per parameter.
func buildToolCommand(tool rpc.Tool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   tool.Name,
		Short: tool.Help,
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := collectArgs(cmd, tool)
			if err != nil {
				return err
			}
			return invoke(tool.Name, toolArgs)
		},
	}
	for _, p := range tool.Params {
		switch p.Type {
		case "float":
			def, _ := p.Default.(float64)
			cmd.Flags().Float64(p.Name, def, p.Help)
		case "int":
			def := 0
			switch v := p.Default.(type) {
			case int:
				def = v
			case float64:
				def = int(v)
			}
			cmd.Flags().Int(p.Name, def, p.Help)
		case "bool":
			def, _ := p.Default.(bool)
			cmd.Flags().Bool(p.Name, def, p.Help)
		case "[]string":
			cmd.Flags().StringSlice(p.Name, nil, p.Help)
		default:
			def, _ := p.Default.(string)
			cmd.Flags().String(p.Name, def, p.Help)
		}
		if p.Required {
			cmd.MarkFlagRequired(p.Name)
		}
	}
	return cmd
}

// collectArgs reads only the flags the user actually set, so server-side
// defaults stay authoritative.
func collectArgs(cmd *cobra.Command, tool rpc.Tool) (map[string]any, error) {
	args := make(map[string]any)
	var firstErr error
	for _, p := range tool.Params {
		if !cmd.Flags().Changed(p.Name) {
			continue
		}
		switch p.Type {
		case "float":
			v, err := cmd.Flags().GetFloat64(p.Name)
			if err == nil {
				args[p.Name] = v
			} else if firstErr == nil {
				firstErr = err
			}
		case "int":
			v, err := cmd.Flags().GetInt(p.Name)
			if err == nil {
				args[p.Name] = v
			} else if firstErr == nil {
				firstErr = err
			}
		case "bool":
			v, err := cmd.Flags().GetBool(p.Name)
			if err == nil {
				args[p.Name] = v
			} else if firstErr == nil {
				firstErr = err
			}
		case "[]string":
			v, err := cmd.Flags().GetStringSlice(p.Name)
			if err == nil {
				args[p.Name] = v
			} else if firstErr == nil {
				firstErr = err
			}
		default:
			v, err := cmd.Flags().GetString(p.Name)
			if err == nil {
				args[p.Name] = v
			} else if firstErr == nil {
				firstErr = err
			}
		}
	}
	return args, firstErr
}

// invoke connects, negotiates the protocol, and dispatches one tool.
func invoke(name string, args map[string]any) error {
	c, err := client.Dial(socketPath)
	if err != nil {
		return fmt.Errorf("cannot reach chittad at %s (is it running?): %w", socketPath, err)
	}
	defer c.Close()

	if _, err := c.Initialize(); err != nil {
		return err
	}
	if err := c.VersionCheck(rpc.ProtocolMajor, rpc.ProtocolMinor); err != nil {
		if errors.Is(err, client.ErrIncompatibleDaemon) {
			// An incompatible daemon is asked to exit; its successor is
			// started by whatever supervises chittad.
			_ = c.Shutdown()
			_ = client.WaitForSocketGone(socketPath, 5*time.Second)
			return fmt.Errorf("daemon protocol incompatible; it was shut down, restart chittad and retry")
		}
		return err
	}

	// With --json, stats uses the daemon's unframed fast path; without it,
	// stats goes through tools/call like every other tool.
	switch name {
	case "stats":
		if !jsonOutput {
			result, err := c.CallTool("stats", args)
			if err != nil {
				return err
			}
			fmt.Println(strings.Join(result.Content, "\n"))
			return nil
		}
		line, err := c.Stats()
		if err != nil {
			return err
		}
		fmt.Println(line)
		return nil
	}

	result, err := c.CallTool(name, args)
	if err != nil {
		return err
	}
	if jsonOutput {
		raw, err := json.Marshal(result.Structured)
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(strings.Join(result.Content, "\n"))
	return nil
}
