package pyharbor

import (
	"fmt"
	"os"
)

// InstallKind distinguishes plain interpreter installations (venv/pip
// tooling) from conda-style installations (conda/mamba tooling).
type InstallKind string

const (
	// InstallKindPlain is a regular CPython installation managed with pip.
	InstallKindPlain InstallKind = "plain"

	// InstallKindConda is a conda or mamba managed installation.
	InstallKindConda InstallKind = "conda"
)

// InterpreterInstallation is a discovered interpreter binary: root path,
// executable, version, bit-width, kind and package root. Discovery itself is
// an external collaborator's concern; pyharbor only consumes these records
// and never probes binaries beyond existence and executability.
//
// Installations are immutable once probed. Sessions and environments refer to
// them by ID but never mutate them.
type InterpreterInstallation struct {
	ID          string      `json:"id"`
	RootDir     string      `json:"root_dir"`
	ExePath     string      `json:"exe_path"`
	Version     Version     `json:"version"`
	Bits        int         `json:"bits"`
	Kind        InstallKind `json:"kind"`
	PackageRoot string      `json:"package_root"`
}

// Validate checks that the interpreter binary exists and is executable.
// Every provisioning call validates its installation first and fails fast
// with ErrInvalidInstallation before any creation command is attempted.
func (inst *InterpreterInstallation) Validate() error {
	if inst == nil || inst.ExePath == "" {
		return fmt.Errorf("%w: no interpreter path", ErrInvalidInstallation)
	}
	info, err := os.Stat(inst.ExePath)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidInstallation, inst.ExePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidInstallation, inst.ExePath)
	}
	if !canExecute(inst.ExePath) {
		return fmt.Errorf("%w: %s is not executable", ErrInvalidInstallation, inst.ExePath)
	}
	return nil
}
