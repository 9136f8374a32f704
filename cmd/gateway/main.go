// Package main is the entry point for the edge gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	addr        string
	showVersion bool

	issueToken  bool
	subject     string
	email       string
	role        string
	permissions string
	tokenTTL    time.Duration
}

func main() {
	flags, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "edgegw: %v\n", err)
		os.Exit(1)
	}
}

func run(flags cliFlags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	if flags.issueToken {
		if err := resolveSecrets(ctx, cfg, zap.NewNop(), nil); err != nil {
			return err
		}
		return issueToken(os.Stdout, cfg, tokenRequest{
			Subject:     flags.subject,
			Email:       flags.email,
			Role:        flags.role,
			Permissions: splitList(flags.permissions),
			TTL:         flags.tokenTTL,
		})
	}

	app, err := newApplication(ctx, cfg, flags.configPath)
	if err != nil {
		return err
	}
	return app.run(ctx)
}

// parseFlags parses command line flags. Flags default to the matching
// GATEWAY_* environment variables.
func parseFlags(fs *flag.FlagSet, args []string) (cliFlags, error) {
	var f cliFlags
	fs.StringVar(&f.configPath, "config", getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides logging.level")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", ""),
		"Log format (json, console); overrides logging.format")
	fs.StringVar(&f.addr, "addr", getEnvOrDefault("GATEWAY_ADDR", ""),
		"Listen address host:port; overrides server.address and server.port")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")

	fs.BoolVar(&f.issueToken, "issue-token", false, "Print a signed token for local testing and exit")
	fs.StringVar(&f.subject, "subject", "dev-user", "Token subject (user id)")
	fs.StringVar(&f.email, "email", "", "Token email claim")
	fs.StringVar(&f.role, "role", "", "Token role claim")
	fs.StringVar(&f.permissions, "permissions", "", "Comma separated token permissions")
	fs.DurationVar(&f.tokenTTL, "token-ttl", time.Hour, "Token lifetime")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return f, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "edgegw version %s\n", version)
	_, _ = fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	_, _ = fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
