package cli

import (
	"fmt"

	"marketplace/internal/service"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one payment reconciliation sweep and exit",
	RunE:  runReconcile,
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	infra, err := openInfra(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer infra.Close()

	closed, err := service.NewReconciler(infra.storage, infra.alerter, cfg.Reconcile.StaleAfter).Sweep(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "closed %d stale payment attempts\n", closed)
	return nil
}
