//go:build mage

// Package main holds the mage targets for larder.
//
//	mage build        compile bin/larder
//	mage test         unit and end-to-end tests
//	mage testUnit     everything except tests/integration
//	mage e2e          build, then drive the binary from tests/integration
//	mage contract     the storage contract suite on every local backend
//	mage postgres     the contract suite against $LARDER_POSTGRES_DSN
//	mage cover        unit tests with a coverage profile in bin/
//	mage lint         golangci-lint
//	mage clean        remove bin/
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binDir      = "bin"
	cmdPkg      = "./cmd/larder"
	e2ePkgs     = "./tests/..."
	coverFile   = "cover.out"
	postgresEnv = "LARDER_POSTGRES_DSN"
)

// backendPkgs run the shared storage contract.
var backendPkgs = []string{"./internal/memory/...", "./internal/sqlite/...", "./internal/sqlstore/..."}

// Build compiles bin/larder.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}
	return sh.RunV("go", "build", "-o", filepath.Join(binDir, "larder"), cmdPkg)
}

// Test runs unit tests, then the end-to-end suite.
func Test() {
	mg.SerialDeps(TestUnit, E2E)
}

// TestUnit runs every package outside tests/.
func TestUnit() error {
	pkgs, err := unitPackages()
	if err != nil {
		return err
	}
	return sh.RunV("go", append([]string{"test"}, pkgs...)...)
}

// E2E builds larder and runs the tests that drive the binary.
func E2E() error {
	mg.Deps(Build)
	return sh.RunV("go", "test", "-count=1", e2ePkgs)
}

// Contract runs the storage contract on the memory and sqlite backends.
func Contract() error {
	args := append([]string{"test", "-count=1", "-run", "Contract"}, backendPkgs...)
	return sh.RunV("go", args...)
}

// Postgres runs the postgres backend tests. They skip without a
// database, so the target refuses to run without one.
func Postgres() error {
	if os.Getenv(postgresEnv) == "" {
		return fmt.Errorf("%s is not set", postgresEnv)
	}
	return sh.RunV("go", "test", "-count=1", "./internal/postgres/...")
}

// Cover writes a coverage profile for the unit packages and prints the
// per-function summary.
func Cover() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}
	pkgs, err := unitPackages()
	if err != nil {
		return err
	}
	profile := filepath.Join(binDir, coverFile)
	args := append([]string{"test", "-coverprofile=" + profile}, pkgs...)
	if err := sh.RunV("go", args...); err != nil {
		return err
	}
	return sh.RunV("go", "tool", "cover", "-func="+profile)
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV("golangci-lint", "run", "./...")
}

// Clean removes bin/.
func Clean() error {
	return os.RemoveAll(binDir)
}

func unitPackages() ([]string, error) {
	out, err := sh.Output("go", "list", "./...")
	if err != nil {
		return nil, err
	}
	var pkgs []string
	for _, pkg := range strings.Fields(out) {
		if !strings.Contains(pkg, "/tests/") {
			pkgs = append(pkgs, pkg)
		}
	}
	return pkgs, nil
}
