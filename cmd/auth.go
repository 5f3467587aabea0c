package cmd

import (
	"context"
	"fmt"

	"github.com/mcpkit/mcpkit/internal/credentials"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage tool credentials",
	Long: `Auth provides subcommands for storing and managing the named
credentials that tool manifests declare as requirements. Credentials are
stored in the OS keychain when available, or in an encrypted file as a
fallback.`,
}

var authAddCmd = &cobra.Command{
	Use:   "add <name> <kind> <value>",
	Short: "Store a credential",
	Long: `Store a credential under a name matching a tool manifest's
credential requirement.

Supported kinds:
  oauth2         OAuth2 access token
  api_key        API key
  basic_auth     Username/password pair (value is "username:password")
  bearer_token   Bearer token
  custom         Opaque value, interpreted by the tool`,
	Args: cobra.ExactArgs(3),
	RunE: runAuthAdd,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials",
	Long:  `List shows every credential name known to the provider.`,
	RunE:  runAuthList,
}

var authRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a stored credential",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthRemove,
}

func init() {
	authCmd.AddCommand(authAddCmd)
	authCmd.AddCommand(authListCmd)
	authCmd.AddCommand(authRemoveCmd)
	rootCmd.AddCommand(authCmd)
}

func newProvider() (credentials.Provider, error) {
	return credentials.NewKeychainProvider()
}

func runAuthAdd(cmd *cobra.Command, args []string) error {
	name, kind, value := args[0], args[1], args[2]

	if !credentials.ValidCredentialKind(kind) {
		return fmt.Errorf("unknown credential kind %q (valid: oauth2, api_key, basic_auth, bearer_token, custom)", kind)
	}

	provider, err := newProvider()
	if err != nil {
		return fmt.Errorf("initializing credential provider: %w", err)
	}

	ctx := context.Background()
	cred := &credentials.Credential{
		Name:   name,
		Kind:   credentials.CredentialKind(kind),
		Value:  value,
		Source: provider.Name(),
	}

	if err := provider.Store(ctx, cred); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}

	fmt.Printf("Stored %s (%s) in %s.\n", name, kind, provider.Name())
	return nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	provider, err := newProvider()
	if err != nil {
		return fmt.Errorf("initializing credential provider: %w", err)
	}

	ctx := context.Background()
	names, err := provider.List(ctx)
	if err != nil {
		return fmt.Errorf("listing credentials: %w", err)
	}

	if len(names) == 0 {
		fmt.Println("No credentials stored.")
		return nil
	}

	fmt.Println("Stored credentials:")
	for _, name := range names {
		cred, getErr := provider.Get(ctx, name)
		if getErr != nil {
			fmt.Printf("  %-20s [error: %v]\n", name, getErr)
			continue
		}
		status := "ok"
		if cred.IsExpired() {
			status = "EXPIRED"
		}
		fmt.Printf("  %-20s kind=%-12s source=%-10s %s\n", name, cred.Kind, cred.Source, status)
	}
	return nil
}

func runAuthRemove(cmd *cobra.Command, args []string) error {
	name := args[0]

	provider, err := newProvider()
	if err != nil {
		return fmt.Errorf("initializing credential provider: %w", err)
	}

	ctx := context.Background()
	if err := provider.Delete(ctx, name); err != nil {
		return fmt.Errorf("removing credential: %w", err)
	}

	fmt.Printf("Removed %s from %s.\n", name, provider.Name())
	return nil
}
