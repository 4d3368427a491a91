package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/statekeeper/internal/bridge"
)

var hookInboundFile string

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Host-chat runtime hooks (context injection, inbound screen, command)",
}

var hookContextCmd = &cobra.Command{
	Use:   "context",
	Short: "Print the canonical-state block injected ahead of a reply",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := buildBridge()
		if err != nil {
			return err
		}
		block, err := b.PrependContext()
		if err != nil {
			return err
		}
		fmt.Println(block)
		return nil
	},
}

var hookInboundCmd = &cobra.Command{
	Use:   "inbound",
	Short: "Screen one inbound chat message (JSON on stdin or --file)",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := buildBridge()
		if err != nil {
			return err
		}

		var data []byte
		if hookInboundFile != "" && hookInboundFile != "-" {
			data, err = os.ReadFile(hookInboundFile)
		} else {
			data, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
		var msg bridge.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("failed to parse message: %w", err)
		}

		result, err := b.HandleInbound(cmd.Context(), &msg)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var hookCommandCmd = &cobra.Command{
	Use:   "command [args...]",
	Short: "Handle a /state-confirm invocation and print the reply",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := buildBridge()
		if err != nil {
			return err
		}
		reply, err := b.Command(cmd.Context(), args)
		if err != nil {
			return err
		}
		return printJSON(reply)
	},
}

func buildBridge() (*bridge.Bridge, error) {
	eng, err := newEngine()
	if err != nil {
		return nil, err
	}
	return bridge.New(eng.store, eng.pipeline, eng.lifecycle, eng.classifier, bridge.Options{
		EntityID:       eng.cfg.EntityID,
		Channels:       eng.cfg.IngestChannels,
		AllowedSenders: eng.cfg.IngestAllowedSenders,
		MinChars:       eng.cfg.IngestMinChars,
		MaxPending:     eng.cfg.IngestMaxPending,
		SourceType:     eng.cfg.IngestSourceType,
	}, eng.logger), nil
}

func init() {
	hookCmd.AddCommand(hookContextCmd)
	hookCmd.AddCommand(hookInboundCmd)
	hookCmd.AddCommand(hookCommandCmd)

	hookInboundCmd.Flags().StringVarP(&hookInboundFile, "file", "f", "", "Message JSON file (default stdin)")
}
