package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/statekeeper/internal/projection"
)

var (
	projectArtifact string
	projectCheck    bool
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Rewrite the machine-managed zones of the Markdown artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		artifact := projectArtifact
		if artifact == "" {
			artifact = filepath.Join(eng.cfg.RootDir, "state.md")
		}

		projector := projection.New(eng.store, artifact, eng.logger)
		result, err := projector.Project(projectCheck)
		if err != nil {
			return err
		}
		if err := printJSON(result); err != nil {
			return err
		}
		if projectCheck && len(result.Drift) > 0 {
			return fmt.Errorf("projection drift in %d section(s)", len(result.Drift))
		}
		return nil
	},
}

func init() {
	projectCmd.Flags().StringVar(&projectArtifact, "artifact", "", "Markdown artifact path (default <root>/state.md)")
	projectCmd.Flags().BoolVar(&projectCheck, "check", false, "Report drift without writing")
}
