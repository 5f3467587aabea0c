package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// parseCPULimit parses a CPU ceiling expressed as whole cores ("2") or
// millicores ("500m") and returns millicores.
func parseCPULimit(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty cpu limit")
	}
	if strings.HasSuffix(s, "m") {
		n, err := strconv.ParseUint(strings.TrimSuffix(s, "m"), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid cpu limit %q: %w", s, err)
		}
		return n, nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cpu limit %q: %w", s, err)
	}
	return uint64(n * 1000), nil
}

// parseMemoryLimit parses a memory ceiling expressed with a binary-unit
// suffix (Ki, Mi, Gi) and returns bytes. Unlike the reference implementation,
// a bare integer (no suffix) is accepted and treated as a byte count, since
// spec.md's grammar lists "N" as a valid memory form alongside the suffixed
// variants.
func parseMemoryLimit(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty memory limit")
	}
	mult := uint64(1)
	switch {
	case strings.HasSuffix(s, "Ki"):
		mult = 1024
		s = strings.TrimSuffix(s, "Ki")
	case strings.HasSuffix(s, "Mi"):
		mult = 1024 * 1024
		s = strings.TrimSuffix(s, "Mi")
	case strings.HasSuffix(s, "Gi"):
		mult = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "Gi")
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q: %w", s, err)
	}
	return n * mult, nil
}

// parseTimeLimit parses an execution-time ceiling with suffix ms, s, m, or h
// and returns milliseconds. spec.md's grammar explicitly lists "h" alongside
// ms/s/m, extending the reference implementation which only accepts the
// first three (see SPEC_FULL.md §4.1 / DESIGN.md for the resolved Open Question).
func parseTimeLimit(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty time limit")
	}
	switch {
	case strings.HasSuffix(s, "ms"):
		n, err := strconv.ParseUint(strings.TrimSuffix(s, "ms"), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid time limit %q: %w", s, err)
		}
		return n, nil
	case strings.HasSuffix(s, "h"):
		n, err := strconv.ParseUint(strings.TrimSuffix(s, "h"), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid time limit %q: %w", s, err)
		}
		return n * 3600_000, nil
	case strings.HasSuffix(s, "m"):
		n, err := strconv.ParseUint(strings.TrimSuffix(s, "m"), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid time limit %q: %w", s, err)
		}
		return n * 60_000, nil
	case strings.HasSuffix(s, "s"):
		n, err := strconv.ParseUint(strings.TrimSuffix(s, "s"), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid time limit %q: %w", s, err)
		}
		return n * 1000, nil
	default:
		return 0, fmt.Errorf("invalid time limit %q: missing unit suffix", s)
	}
}
