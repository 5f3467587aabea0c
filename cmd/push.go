package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/mcpkit/mcpkit/internal/bundle"
	"github.com/spf13/cobra"
)

// buildTime stamps bundle metadata and OCI config history entries with the
// moment the command ran.
func buildTime() time.Time { return time.Now() }

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Push, pull, and inspect OCI tool bundles",
	Long: `Bundle provides subcommands for distributing WASM tool bundles
over an OCI registry and inspecting the local bundle cache.`,
}

var bundlePushCmd = &cobra.Command{
	Use:   "push <wasm-file> <config-yaml> <oci-uri>",
	Short: "Push a WASM module and its config to a registry",
	Args:  cobra.ExactArgs(3),
	RunE:  runBundlePush,
}

var bundlePullCmd = &cobra.Command{
	Use:   "pull <oci-uri>",
	Short: "Pull a bundle, using the local cache when possible",
	Args:  cobra.ExactArgs(1),
	RunE:  runBundlePull,
}

var bundleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached bundles",
	RunE:  runBundleList,
}

var bundleVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify every cached bundle's digests without touching the registry",
	RunE:  runBundleVerify,
}

func init() {
	bundlePushCmd.Flags().String("username", "", "registry username, or \"${VAR}\" to read from the environment")
	bundlePushCmd.Flags().String("password", "", "registry password, or \"${VAR}\" to read from the environment")
	bundlePullCmd.Flags().String("username", "", "registry username, or \"${VAR}\" to read from the environment")
	bundlePullCmd.Flags().String("password", "", "registry password, or \"${VAR}\" to read from the environment")

	bundleCmd.AddCommand(bundlePushCmd)
	bundleCmd.AddCommand(bundlePullCmd)
	bundleCmd.AddCommand(bundleListCmd)
	bundleCmd.AddCommand(bundleVerifyCmd)
	rootCmd.AddCommand(bundleCmd)
}

func bundleCacheFromConfig() (*bundle.Cache, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	return bundle.NewCache(bundle.DefaultDir(home))
}

func registryAuthFromFlags(cmd *cobra.Command) *bundle.RegistryAuth {
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	if username == "" && password == "" {
		return nil
	}
	return &bundle.RegistryAuth{Username: username, Password: password}
}

func runBundlePush(cmd *cobra.Command, args []string) error {
	wasmPath, configPath, uri := args[0], args[1], args[2]

	wasm, err := os.ReadFile(wasmPath)
	if err != nil {
		return fmt.Errorf("reading wasm module: %w", err)
	}
	configYAML, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	cache, err := bundleCacheFromConfig()
	if err != nil {
		return err
	}
	client := bundle.NewClient(cache)

	digest, err := client.Push(cmd.Context(), wasm, configYAML, uri, registryAuthFromFlags(cmd), buildTime())
	if err != nil {
		return fmt.Errorf("pushing bundle: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pushed %s\nmanifest digest: %s\n", uri, digest)
	return nil
}

func runBundlePull(cmd *cobra.Command, args []string) error {
	uri := args[0]

	cache, err := bundleCacheFromConfig()
	if err != nil {
		return err
	}
	client := bundle.NewClient(cache)

	b, err := client.Pull(cmd.Context(), uri, registryAuthFromFlags(cmd), buildTime())
	if err != nil {
		return fmt.Errorf("pulling bundle: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pulled %s\n", uri)
	fmt.Fprintf(cmd.OutOrStdout(), "  wasm digest:   %s\n", b.Metadata.WasmDigest)
	fmt.Fprintf(cmd.OutOrStdout(), "  config digest: %s\n", b.Metadata.ConfigDigest)
	return nil
}

func runBundleList(cmd *cobra.Command, args []string) error {
	cache, err := bundleCacheFromConfig()
	if err != nil {
		return err
	}

	uris := cache.List()
	if len(uris) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No bundles cached.")
		return nil
	}

	stats, err := cache.Stats()
	if err != nil {
		return fmt.Errorf("reading cache stats: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Cached bundles (%s, %s):\n", stats.CacheDir, bundle.FormatSize(stats.TotalSize))
	for _, uri := range uris {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", uri)
	}
	return nil
}

func runBundleVerify(cmd *cobra.Command, args []string) error {
	cache, err := bundleCacheFromConfig()
	if err != nil {
		return err
	}

	corrupted := cache.Verify()
	if len(corrupted) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "All cached bundles verified.")
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Corrupted or missing bundles:")
	for _, uri := range corrupted {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", uri)
	}
	return fmt.Errorf("%d cached bundle(s) failed verification", len(corrupted))
}
