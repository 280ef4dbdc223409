// Package doctor runs preflight checks over a mirrorhost configuration:
// can the worker be launched, and can the host own its state.
package doctor

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/mirrorhost/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration against the host environment.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.checkWorkerCommand(r)
	d.checkWorkerDB(r)
	d.checkWorkerConfig(r)
	d.checkStateDir(r)
	d.checkAPIListen(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) checkWorkerCommand(r *Result) {
	cmd := d.cfg.Worker.Command
	if strings.ContainsRune(cmd, os.PathSeparator) {
		path := cmd
		if !filepath.IsAbs(path) && d.cfg.Worker.Dir != "" {
			path = filepath.Join(d.cfg.Worker.Dir, path)
		}
		if _, err := os.Stat(path); err != nil {
			d.addError(r, "worker", "worker.command",
				fmt.Sprintf("worker executable not found: %s", path))
		}
		return
	}
	if _, err := exec.LookPath(cmd); err != nil {
		d.addError(r, "worker", "worker.command",
			fmt.Sprintf("worker command %q not found in PATH", cmd))
	}
}

func (d *Doctor) checkWorkerDB(r *Result) {
	path := d.cfg.Worker.DBPath
	if !filepath.IsAbs(path) && d.cfg.Worker.Dir != "" {
		path = filepath.Join(d.cfg.Worker.Dir, path)
	}
	if _, err := os.Stat(path); err != nil {
		// The worker creates the database on first import; most other
		// commands will fail until then.
		d.addWarning(r, "worker", "worker.db_path",
			fmt.Sprintf("mirror database does not exist yet: %s", path))
	}
}

func (d *Doctor) checkWorkerConfig(r *Result) {
	path := d.cfg.Worker.ConfigPath
	if path == "" {
		return
	}
	if !filepath.IsAbs(path) && d.cfg.Worker.Dir != "" {
		path = filepath.Join(d.cfg.Worker.Dir, path)
	}
	if _, err := os.Stat(path); err != nil {
		d.addWarning(r, "worker", "worker.config_path",
			fmt.Sprintf("worker config not found: %s (queries will fail)", path))
	}
}

func (d *Doctor) checkStateDir(r *Result) {
	dir := d.cfg.Service.StateDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.addError(r, "service", "service.state_dir",
			fmt.Sprintf("cannot create state dir %s: %v", dir, err))
		return
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		d.addError(r, "service", "service.state_dir",
			fmt.Sprintf("state dir not writable: %v", err))
		return
	}
	_ = os.Remove(probe)
}

func (d *Doctor) checkAPIListen(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(d.cfg.API.Listen); err != nil {
		d.addError(r, "api", "api.listen",
			fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
	}
}
