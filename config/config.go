// Package config reads the settings of a kernel run from the environment and
// from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables understood by Load.
const (
	EnvRAMPages    = "KERNVM_RAM_PAGES"
	EnvKernelPages = "KERNVM_KERNEL_PAGES"
	EnvNumCores    = "KERNVM_CORES"
	EnvTLBEntries  = "KERNVM_TLB_ENTRIES"
	EnvSwapFile    = "KERNVM_SWAP_FILE"
	EnvSwapPages   = "KERNVM_SWAP_PAGES"
	EnvRecord      = "KERNVM_RECORD"
	EnvRecordPath  = "KERNVM_RECORD_PATH"
	EnvMonitor     = "KERNVM_MONITOR"
	EnvMonitorPort = "KERNVM_MONITOR_PORT"
	EnvVerbose     = "KERNVM_VERBOSE"
)

// Config describes the machine and the observers of a kernel run.
type Config struct {
	RAMPages    int
	KernelPages int
	NumCores    int
	TLBEntries  int
	SwapFile    string
	SwapPages   int
	Record      bool
	RecordPath  string
	Monitor     bool
	MonitorPort int
	Verbose     bool
}

// Default returns the settings of a small teaching machine.
func Default() Config {
	return Config{
		RAMPages:    128,
		KernelPages: 16,
		NumCores:    4,
		TLBEntries:  64,
		SwapFile:    "lhd0raw.img",
		SwapPages:   1024,
	}
}

// Load starts from Default, applies the given .env files, and then the
// process environment. Without files, ./.env is used if it exists.
func Load(files ...string) (Config, error) {
	values, err := godotenv.Read(files...)
	if err != nil {
		if len(files) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("reading env file: %w", err)
		}

		values = map[string]string{}
	}

	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, "KERNVM_") {
			values[k] = v
		}
	}

	c := Default()
	p := parser{values: values}

	p.int(EnvRAMPages, &c.RAMPages)
	p.int(EnvKernelPages, &c.KernelPages)
	p.int(EnvNumCores, &c.NumCores)
	p.int(EnvTLBEntries, &c.TLBEntries)
	p.str(EnvSwapFile, &c.SwapFile)
	p.int(EnvSwapPages, &c.SwapPages)
	p.bool(EnvRecord, &c.Record)
	p.str(EnvRecordPath, &c.RecordPath)
	p.bool(EnvMonitor, &c.Monitor)
	p.int(EnvMonitorPort, &c.MonitorPort)
	p.bool(EnvVerbose, &c.Verbose)

	if p.err != nil {
		return Config{}, p.err
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

// Validate checks that the machine can boot.
func (c Config) Validate() error {
	switch {
	case c.NumCores < 1:
		return fmt.Errorf("%s must be positive, got %d", EnvNumCores, c.NumCores)
	case c.TLBEntries < 1:
		return fmt.Errorf("%s must be positive, got %d",
			EnvTLBEntries, c.TLBEntries)
	case c.KernelPages < 1:
		return fmt.Errorf("%s must be positive, got %d",
			EnvKernelPages, c.KernelPages)
	case c.RAMPages <= c.KernelPages+1:
		return fmt.Errorf("%s (%d) leaves no user memory after %d kernel pages",
			EnvRAMPages, c.RAMPages, c.KernelPages)
	case c.SwapPages < 0:
		return fmt.Errorf("%s must not be negative, got %d",
			EnvSwapPages, c.SwapPages)
	}

	return nil
}

type parser struct {
	values map[string]string
	err    error
}

func (p *parser) lookup(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}

	v, ok := p.values[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}

	return strings.TrimSpace(v), true
}

func (p *parser) int(key string, dst *int) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", key, err)
		return
	}

	*dst = n
}

func (p *parser) bool(key string, dst *bool) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", key, err)
		return
	}

	*dst = b
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.lookup(key); ok {
		*dst = v
	}
}
