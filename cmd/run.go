package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mcpkit/mcpkit/internal/audit"
	"github.com/mcpkit/mcpkit/internal/bundle"
	"github.com/mcpkit/mcpkit/internal/credentials"
	"github.com/mcpkit/mcpkit/internal/executor"
	"github.com/mcpkit/mcpkit/internal/policy"
	"github.com/mcpkit/mcpkit/internal/sandbox"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <tool-name>",
	Short: "Execute a single tool call through the policy-enforced sandbox",
	Long: `Run loads a tool manifest registry and a compiled policy, then
executes one tool call end to end: policy check, credential injection,
WASM sandbox execution, and result decoding.

Arguments are read as a JSON object from --args or stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunTool,
}

func init() {
	runCmd.Flags().String("manifests", "./manifests", "directory of tool manifests")
	runCmd.Flags().String("policy", "", "path to the compiled policy document")
	runCmd.Flags().String("rego-dir", "", "directory of .rego files evaluated for policy.extensions domains beyond the \"tools\" shorthand")
	runCmd.Flags().String("args", "", "JSON object of tool arguments (defaults to reading stdin)")
	runCmd.Flags().String("sandbox-id", "local", "sandbox identifier recorded on audit events")
	runCmd.Flags().String("user", "", "user identifier recorded on audit events")
	runCmd.Flags().String("metrics-out", "", "write Prometheus text-format execution metrics to this path after the call (\"-\" for stdout)")
	rootCmd.AddCommand(runCmd)
}

func runRunTool(cmd *cobra.Command, args []string) error {
	toolName := args[0]

	manifestsDir, _ := cmd.Flags().GetString("manifests")
	policyPath, _ := cmd.Flags().GetString("policy")
	regoDir, _ := cmd.Flags().GetString("rego-dir")
	argsFlag, _ := cmd.Flags().GetString("args")
	sandboxID, _ := cmd.Flags().GetString("sandbox-id")
	user, _ := cmd.Flags().GetString("user")
	metricsOut, _ := cmd.Flags().GetString("metrics-out")

	registry, err := executor.NewRegistryFromDir(manifestsDir)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	var checker executor.PolicyChecker
	if policyPath != "" {
		p, loadErr := policy.LoadPolicy(policyPath)
		if loadErr != nil {
			return fmt.Errorf("loading policy: %w", loadErr)
		}
		compiled, compileErr := policy.Compile(p)
		if compileErr != nil {
			return fmt.Errorf("compiling policy: %w", compileErr)
		}

		ext, extErr := policy.NewOPAExtension(p, regoDir)
		if extErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: OPA extension disabled: %v\n", extErr)
		} else {
			compiled.Extension = ext
		}

		checker = compiled
	}

	ctx := cmd.Context()
	runtime, err := sandbox.New(ctx)
	if err != nil {
		return fmt.Errorf("starting sandbox runtime: %w", err)
	}
	defer runtime.Close(ctx)

	if metricsOut != "" {
		defer writeMetrics(cmd, runtime.Metrics, metricsOut)
	}

	provider := credentials.NewMemoryProvider()
	ex := executor.New(checker, registry, runtime, provider, sandboxID, user)

	if Cfg != nil && Cfg.Audit.Enabled {
		logger, auditErr := audit.NewFileLogger(audit.FileLoggerConfig{Path: Cfg.Audit.LogPath})
		if auditErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: audit logging disabled: %v\n", auditErr)
		} else {
			defer logger.Close()
			ex.Audit = logger
		}
	}

	cache, cacheErr := bundleCacheFromConfig()
	if cacheErr == nil {
		client := bundle.NewClient(cache)
		ex.WasmSource = bundle.DispatchSource{
			Local: executor.LocalFileSource{}.Load,
			OCI:   bundle.OCISource{Client: client}.Load,
		}
	}

	callArgs, err := readCallArgs(argsFlag)
	if err != nil {
		return err
	}

	result, err := ex.Execute(ctx, toolName, callArgs)
	if err != nil {
		return fmt.Errorf("executing %s: %w", toolName, err)
	}

	if result.IsError {
		fmt.Fprintf(cmd.ErrOrStderr(), "tool error: %s\n", result.Error)
		return fmt.Errorf("tool %s reported an error", toolName)
	}

	out, err := json.MarshalIndent(result.Content, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func writeMetrics(cmd *cobra.Command, m *sandbox.Metrics, path string) {
	w := cmd.ErrOrStderr()
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: opening metrics output %s: %v\n", path, err)
			return
		}
		defer f.Close()
		w = f
	}
	if err := m.WriteText(w); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: writing metrics: %v\n", err)
	}
}

func readCallArgs(flag string) (map[string]any, error) {
	var raw []byte
	var err error
	if flag != "" {
		raw = []byte(flag)
	} else {
		raw, err = readAllStdinIfPresent()
		if err != nil {
			return nil, fmt.Errorf("reading args from stdin: %w", err)
		}
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("parsing --args as JSON: %w", err)
	}
	return args, nil
}

func readAllStdinIfPresent() ([]byte, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return nil, err
	}
	if (info.Mode() & os.ModeCharDevice) != 0 {
		// Interactive terminal, no piped input; treat as empty args.
		return nil, nil
	}
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, readErr := os.Stdin.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if readErr != nil {
			break
		}
	}
	return buf, nil
}
