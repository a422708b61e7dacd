package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arkilian/nsys2chrome/internal/export"
	"github.com/arkilian/nsys2chrome/internal/extract"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "tables <export.sqlite>",
		Short: "List the tables of an export and the categories they provide",
		Args:  cobra.ExactArgs(1),
		RunE:  runTables,
	})
	RootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nsys2chrome version %s (commit: %s)\n", version, commit)
		},
	})
}

func runTables(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}
	ex, err := export.Open(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer ex.Close()

	w := cmd.OutOrStdout()
	if v := ex.SchemaVersion(); v != "" {
		fmt.Fprintf(w, "Schema version: %s\n", v)
	}
	fmt.Fprintln(w, "Categories:")
	for _, x := range extract.All() {
		status := "missing"
		if ex.HasTable(x.Table()) {
			status = "available"
		}
		fmt.Fprintf(w, "  %-10s %-28s %s\n", x.Category(), x.Table(), status)
	}
	fmt.Fprintln(w, "Tables:")
	for _, name := range ex.Tables() {
		fmt.Fprintf(w, "  %s\n", name)
	}
	return nil
}
