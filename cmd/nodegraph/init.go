package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"
)

// runInit writes settings.yaml from flags and asks a running server to
// reload it.
func runInit(args []string) {
	defaults := defaultConfig()

	fs := flag.NewFlagSet("init", flag.ExitOnError)
	listenAddr := fs.String("listen-addr", defaults.ListenAddr, "TCP listen address")
	dbPath := fs.String("db-path", defaults.DBPath, `database path, or "memory"`)
	logLevel := fs.String("log-level", defaults.LogLevel, "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", defaults.LogFormat, "log format: text, json")
	token := fs.String("token", "", "bearer token required by the HTTP API")
	entities := fs.String("entities", "", "comma-separated entity names for database_query nodes")
	noScheduler := fs.Bool("no-scheduler", false, "disable scheduled graph runs")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	dir := nodegraphDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fatalf("cannot create %s: %v", dir, err)
	}

	cfg := defaults
	cfg.ListenAddr = *listenAddr
	cfg.DBPath = *dbPath
	cfg.LogLevel = *logLevel
	cfg.LogFormat = *logFormat
	cfg.Token = *token
	cfg.Entities = splitList(*entities)
	cfg.Scheduler.Enabled = !*noScheduler

	data, err := yaml.Marshal(cfg)
	if err != nil {
		fatalf("encode config: %v", err)
	}
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		fatalf("cannot write %s: %v", path, err)
	}
	fmt.Printf("Config written to %s\n", path)

	signalRunningServer()
}

// signalRunningServer sends SIGHUP to a running nodegraph server (via pidfile).
// Returns true if the server was signaled.
func signalRunningServer() bool {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Check if process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return false
	}
	fmt.Printf("Signaled running server (PID %d) to reload configuration\n", pid)
	return true
}
