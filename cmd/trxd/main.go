package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/sgrams/trxd/pkg/config"
	"github.com/sgrams/trxd/pkg/logging"
)

var (
	configPath  = flag.String("config", "trxd.toml", "Configuration file path")
	pidFilePath = flag.String("pidfile", "", "PID file path (default: /var/run/trxd.pid or ./trxd.pid)")
	version     = flag.Bool("version", false, "Show version information")
)

const (
	Version = "0.1.0-dev"
	Build   = "development"
)

// PID file management functions
func getDefaultPidFile() string {
	systemPidFile := "/var/run/trxd.pid"
	if dir := filepath.Dir(systemPidFile); isWritableDir(dir) {
		return systemPidFile
	}
	return "./trxd.pid"
}

func isWritableDir(dir string) bool {
	if stat, err := os.Stat(dir); err == nil && stat.IsDir() {
		testFile := filepath.Join(dir, ".trxd_write_test")
		if f, err := os.Create(testFile); err == nil {
			f.Close()
			os.Remove(testFile)
			return true
		}
	}
	return false
}

func createPidFile(pidFile string) error {
	if err := checkExistingPid(pidFile); err != nil {
		return err
	}
	if dir := filepath.Dir(pidFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create PID file directory: %v", err)
		}
	}
	content := fmt.Sprintf("%d\n", os.Getpid())
	if err := os.WriteFile(pidFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %v", err)
	}
	return nil
}

func checkExistingPid(pidFile string) error {
	data, err := os.ReadFile(pidFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		os.Remove(pidFile)
		return nil
	}
	if isProcessRunning(pid) {
		return fmt.Errorf("trxd is already running with PID %d", pid)
	}
	os.Remove(pidFile)
	return nil
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 doesn't actually send a signal, just checks if process exists
	return process.Signal(syscall.Signal(0)) == nil
}

func removePidFile(pidFile string) {
	if pidFile != "" {
		if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
			log.Printf("Warning: failed to remove PID file %s: %v", pidFile, err)
		}
	}
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("trxd version %s (%s)\n", Version, Build)
		os.Exit(0)
	}

	actualPidFile := *pidFilePath
	if actualPidFile == "" {
		actualPidFile = getDefaultPidFile()
	}
	if err := createPidFile(actualPidFile); err != nil {
		log.Fatalf("Failed to create PID file: %v", err)
	}
	defer removePidFile(actualPidFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logging.Init(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    cfg.Logging.Console,
		Structured: cfg.Logging.Structured,
	}); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseGlobalLogger()

	logging.Info("main", fmt.Sprintf("trxd version %s starting...", Version))
	logging.Info("main", fmt.Sprintf("PID: %d, PID file: %s", os.Getpid(), actualPidFile))
	logging.Info("main", fmt.Sprintf("Station: %s (%s)", cfg.General.Callsign, cfg.General.Locator))
	logging.Info("main", fmt.Sprintf("Rig: %s (%s)", cfg.Rig.Model, cfg.Rig.RigID))

	daemon, err := NewDaemon(cfg)
	if err != nil {
		logging.Error("main", fmt.Sprintf("Failed to create daemon: %v", err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := daemon.Start(); err != nil {
		logging.Error("main", fmt.Sprintf("Failed to start daemon: %v", err))
		os.Exit(1)
	}
	logging.Info("main", "trxd started successfully")

	<-sigChan
	logging.Info("main", "Shutting down...")
	if err := daemon.Stop(); err != nil {
		logging.Error("main", fmt.Sprintf("Error during shutdown: %v", err))
	}
	logging.Info("main", "trxd stopped")
}
