package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpkit/mcpkit/internal/audit"
	"github.com/mcpkit/mcpkit/internal/storage"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Archive and verify the tamper-evident audit log",
	Long: `Audit provides subcommands for moving the live JSONL audit log into
immutable, append-only storage and for verifying the resulting hash chain.`,
}

var (
	auditLogPath  string
	auditStoreDir string
)

var auditArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive the current audit log into an immutable storage batch",
	Long: `Archive reads every event currently in the live audit log and writes
them as one read-only batch into the configured storage backend, preserving
the tamper-evident hash chain.`,
	RunE: runAuditArchive,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the hash chain across all archived audit batches",
	Long: `Verify walks every batch in the storage backend in chronological
order and checks that each batch's checksum and every event's hash chain
link are intact.`,
	RunE: runAuditVerify,
}

func init() {
	auditCmd.PersistentFlags().StringVar(&auditLogPath, "log-path", "/var/log/mcpkit/audit.jsonl", "path to the live audit log")
	auditCmd.PersistentFlags().StringVar(&auditStoreDir, "storage-dir", "", "directory for archived audit batches (default: /var/lib/mcpkit/audit)")

	auditCmd.AddCommand(auditArchiveCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

func localBackendFromFlags() (*storage.LocalBackend, error) {
	return storage.NewLocalBackend(storage.LocalConfig{BaseDir: auditStoreDir})
}

func runAuditArchive(cmd *cobra.Command, args []string) error {
	events, err := audit.ReadEvents(auditLogPath)
	if err != nil {
		return fmt.Errorf("reading audit log: %w", err)
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no events to archive")
		return nil
	}

	entries := make([][]byte, 0, len(events))
	var chainHead string
	for i := range events {
		raw, err := json.Marshal(events[i])
		if err != nil {
			return fmt.Errorf("marshaling event %d: %w", i, err)
		}
		entries = append(entries, raw)

		hash, err := audit.HashEvent(&events[i])
		if err != nil {
			return fmt.Errorf("hashing event %d: %w", i, err)
		}
		chainHead = hash
	}

	backend, err := localBackendFromFlags()
	if err != nil {
		return fmt.Errorf("opening storage backend: %w", err)
	}

	batch := storage.Batch{
		Entries:   entries,
		CreatedAt: time.Now().UTC(),
		ChainHead: chainHead,
	}
	key, err := backend.Append(cmd.Context(), batch)
	if err != nil {
		return fmt.Errorf("archiving batch: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "archived %d events as batch %s\n", len(entries), key)
	return nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	backend, err := localBackendFromFlags()
	if err != nil {
		return fmt.Errorf("opening storage backend: %w", err)
	}

	result, err := storage.Verify(cmd.Context(), backend)
	if err != nil {
		return fmt.Errorf("verifying audit log: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "batches:  %d (%d intact, %d corrupt)\n", result.TotalBatches, result.IntactBatches, result.CorruptBatches)
	fmt.Fprintf(cmd.OutOrStdout(), "events:   %d\n", result.TotalEvents)
	if result.ChainIntact {
		fmt.Fprintln(cmd.OutOrStdout(), "chain:    intact")
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "chain:    BROKEN at event %d\n", result.ChainBrokenAt)
	if result.FirstError != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "detail:   %s\n", result.FirstError)
	}
	return fmt.Errorf("audit log hash chain is broken")
}
