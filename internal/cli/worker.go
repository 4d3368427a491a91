package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/statekeeper/internal/worker"
)

var (
	workerTarget      string
	workerThreadID    string
	workerSessionsDir string
	workerSidecar     string
	workerSendCmd     string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the confirmation-loop worker",
}

var workerTickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one bounded worker pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := buildWorker()
		if err != nil {
			return err
		}
		report, err := w.Tick(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var workerLoopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Run worker passes on the review interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		w, err := buildWorker()
		if err != nil {
			return err
		}
		return w.Run(cmd.Context(), eng.cfg.ReviewInterval)
	},
}

func buildWorker() (*worker.Worker, error) {
	eng, err := newEngine()
	if err != nil {
		return nil, err
	}

	var messenger worker.Messenger = &worker.LogMessenger{Logger: eng.logger}
	if workerSendCmd != "" {
		messenger = worker.NewCommandMessenger(strings.Fields(workerSendCmd), eng.runner)
	}

	target := workerTarget
	if target == "" {
		target = eng.cfg.TelegramTarget
	}
	threadID := workerThreadID
	if threadID == "" {
		threadID = eng.cfg.TelegramThreadID
	}

	return worker.New(eng.store, eng.lifecycle, messenger, worker.Options{
		Target:      target,
		ThreadID:    threadID,
		EntityID:    eng.cfg.EntityID,
		SessionsDir: workerSessionsDir,
		SidecarPath: workerSidecar,
	}, eng.logger), nil
}

func init() {
	workerCmd.AddCommand(workerTickCmd)
	workerCmd.AddCommand(workerLoopCmd)

	workerCmd.PersistentFlags().StringVar(&workerTarget, "target", "", "Chat target (default: STATE_TELEGRAM_TARGET or the side-car)")
	workerCmd.PersistentFlags().StringVar(&workerThreadID, "thread", "", "Chat thread id")
	workerCmd.PersistentFlags().StringVar(&workerSessionsDir, "sessions-dir", "", "Directory of host-chat session files")
	workerCmd.PersistentFlags().StringVar(&workerSidecar, "sidecar", "", "YAML side-car naming the target")
	workerCmd.PersistentFlags().StringVar(&workerSendCmd, "send-cmd", "", "External send command (dry-run logging when unset)")
}
