package cli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/statekeeper/internal/intent"
	"github.com/iambrandonn/statekeeper/internal/schema"
	"github.com/iambrandonn/statekeeper/internal/state"
)

// check is one doctor finding
type check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Hint   string `json:"hint,omitempty"`
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose configuration and state-root problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		var checks []check

		if _, err := schema.NewValidator(); err != nil {
			checks = append(checks, check{Name: "schemas", Detail: err.Error(),
				Hint: "rebuild the binary; schemas are embedded at compile time"})
		} else {
			checks = append(checks, check{Name: "schemas", OK: true})
		}

		if _, err := os.Stat(eng.store.DocumentPath()); err != nil {
			checks = append(checks, check{Name: "store", Detail: "state document missing",
				Hint: "run 'statekeeper init' to bootstrap " + eng.store.DocumentPath()})
		} else {
			checks = append(checks, check{Name: "store", OK: true})
		}

		if eng.cfg.EntityID == "" {
			checks = append(checks, check{Name: "entity", Detail: "no entity id configured",
				Hint: "set STATE_ENTITY_ID or pass --entity"})
		} else if !state.ValidEntityID(eng.cfg.EntityID) {
			checks = append(checks, check{Name: "entity",
				Detail: fmt.Sprintf("%q does not match (user|family|team):<slug>", eng.cfg.EntityID),
				Hint:   "use an id like user:brandon"})
		} else {
			checks = append(checks, check{Name: "entity", OK: true})
		}

		if eng.cfg.TelegramTarget == "" {
			checks = append(checks, check{Name: "worker_target", Detail: "no chat target configured",
				Hint: "set STATE_TELEGRAM_TARGET or provide a --sidecar to 'worker'"})
		} else {
			checks = append(checks, check{Name: "worker_target", OK: true})
		}

		if eng.cfg.IntentExtractorMode == intent.ModeCommand {
			if len(eng.cfg.IntentExtractorCmd) == 0 {
				checks = append(checks, check{Name: "intent_classifier",
					Detail: "command mode with no STATE_INTENT_EXTRACTOR_CMD",
					Hint:   "set the command or switch STATE_INTENT_EXTRACTOR_MODE=rules"})
			} else if _, err := exec.LookPath(eng.cfg.IntentExtractorCmd[0]); err != nil {
				checks = append(checks, check{Name: "intent_classifier",
					Detail: fmt.Sprintf("classifier binary %q not found", eng.cfg.IntentExtractorCmd[0]),
					Hint:   "install it or switch STATE_INTENT_EXTRACTOR_MODE=rules"})
			} else {
				checks = append(checks, check{Name: "intent_classifier", OK: true})
			}
		} else {
			checks = append(checks, check{Name: "intent_classifier", OK: true, Detail: "rule-based"})
		}

		fold, err := eng.deadLine.Fold()
		if err != nil {
			checks = append(checks, check{Name: "dlq", Detail: err.Error()})
		} else if fold.MalformedLines > 0 {
			checks = append(checks, check{Name: "dlq",
				Detail: fmt.Sprintf("%d malformed line(s) in %s", fold.MalformedLines, eng.deadLine.Path()),
				Hint:   "inspect the log; malformed lines are skipped but indicate a partial write"})
		} else {
			checks = append(checks, check{Name: "dlq", OK: true})
		}

		failed := 0
		for _, c := range checks {
			if !c.OK {
				failed++
			}
		}
		if err := printJSON(map[string]any{"checks": checks, "failed": failed}); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	},
}
