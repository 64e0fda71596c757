// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/xionghul/distcc/hosts"
	"github.com/xionghul/distcc/tempfile"
	"github.com/xionghul/distcc/wire"
)

// profileFlag is the compiler option that makes a job consume a
// profile-guided-optimization artifact.
const profileFlag = "-fprofile-use"

// profileExtension is the artifact suffix.
const profileExtension = ".gcda"

// copyChunkSize bounds the staging copy's buffer.
const copyChunkSize = 32 * 1024

// profileRelay is the ephemeral state of one job's profile relay.
type profileRelay struct {
	flagPresent  bool
	explicitPath string
	artifactPath string
	stagedPath   string
	staged       bool
}

// detectProfileUse scans an argument vector for the profile-use flag
// and captures its explicit path argument when present.
func detectProfileUse(args []string) (found bool, explicitPath string) {
	for _, arg := range args {
		if !strings.HasPrefix(arg, profileFlag) {
			continue
		}
		found = true
		if rest, hasPath := strings.CutPrefix(arg, profileFlag+"="); hasPath {
			explicitPath = rest
		}
	}
	return found, explicitPath
}

// profileArtifactPath computes where a previously generated profile
// artifact for this job would live. With an explicit profile
// directory, artifacts from every build directory share it, so the
// name is the mangled output path — prefixed by the mangled working
// directory for relative outputs — keeping distinct directories from
// colliding. Without one, the artifact sits next to the output file.
func profileArtifactPath(explicitPath, workingDirectory, outputName string) string {
	stem := strings.TrimSuffix(outputName, filepath.Ext(outputName))
	if explicitPath != "" {
		name := ""
		if !filepath.IsAbs(outputName) {
			name = ManglePath(workingDirectory) + "#"
		}
		name += ManglePath(stem)
		return filepath.Join(explicitPath, name) + profileExtension
	}
	if filepath.IsAbs(outputName) {
		return stem + profileExtension
	}
	return filepath.Join(workingDirectory, stem) + profileExtension
}

// relayProfile emits the profile side-channel for one client-side
// preprocessed job: exactly one GCDA token — 1 followed by the staged
// artifact's bytes, or 0 — so the peer's receive loop never blocks on
// a component that was silently skipped. Staging problems degrade to
// the absent token; only wire writes can fail the relay.
func (d *Dispatcher) relayProfile(w io.Writer, job *Job, host *hosts.Definition) error {
	relay := d.prepareProfile(job)

	if !relay.staged {
		return wire.WriteToken(w, wire.TagProfile, 0)
	}
	if err := wire.WriteToken(w, wire.TagProfile, 1); err != nil {
		return err
	}
	if _, err := wire.SendFile(w, wire.TagInput, relay.stagedPath, host.Compression); err != nil {
		return fmt.Errorf("sending staged profile: %w", err)
	}
	return nil
}

// prepareProfile resolves and stages the profile artifact. It never
// fails the job: every problem leaves relay.staged false, and a
// partially written staging file is always deleted before returning.
func (d *Dispatcher) prepareProfile(job *Job) *profileRelay {
	relay := &profileRelay{}
	if job.DistLTO || job.OutputName == "" {
		return relay
	}
	relay.flagPresent, relay.explicitPath = detectProfileUse(job.Args)
	if !relay.flagPresent {
		return relay
	}

	// The staging directory is where the preprocessed unit already
	// lives. Its unusability is fatal for the relay stage only.
	stagingDirectory := filepath.Dir(job.PreprocessedName)
	if err := unix.Access(stagingDirectory, unix.W_OK|unix.X_OK); err != nil {
		d.logger().Error("staging directory unusable, skipping profile relay",
			"directory", stagingDirectory, "error", err)
		return relay
	}

	workingDirectory, err := os.Getwd()
	if err != nil {
		d.logger().Error("resolving working directory, skipping profile relay", "error", err)
		return relay
	}
	relay.artifactPath = profileArtifactPath(relay.explicitPath, workingDirectory, job.OutputName)
	d.logger().Debug("profile artifact candidate", "path", relay.artifactPath)

	stagedBase := strings.TrimSuffix(job.PreprocessedName, filepath.Ext(job.PreprocessedName)) + profileExtension
	stagedPath, ok := d.stageProfile(relay.artifactPath, stagedBase)
	if !ok {
		return relay
	}
	relay.stagedPath = stagedPath
	relay.staged = true
	return relay
}

// stageProfile atomically copies the artifact into a private,
// exclusively created file and registers it for guaranteed deletion.
// Returns ok=false — with any partial copy removed — when the artifact
// does not exist or the copy cannot complete.
func (d *Dispatcher) stageProfile(artifactPath, stagedBase string) (string, bool) {
	source, err := os.Open(artifactPath)
	if err != nil {
		// The artifact not existing yet is the normal first-build case.
		d.logger().Debug("profile artifact not readable", "path", artifactPath, "error", err)
		return "", false
	}
	defer source.Close()

	staged, stagedPath, err := tempfile.CreateExclusive(stagedBase)
	if err != nil {
		d.logger().Error("creating profile staging file", "base", stagedBase, "error", err)
		return "", false
	}

	_, copyErr := io.CopyBuffer(staged, source, make([]byte, copyChunkSize))
	closeErr := staged.Close()
	if copyErr != nil || closeErr != nil {
		// Partial copies are deleted here, unconditionally, rather
		// than waiting for registry cleanup that might not know about
		// this path yet.
		os.Remove(stagedPath)
		d.logger().Warn("staging profile artifact failed",
			"source", artifactPath, "copyError", copyErr, "closeError", closeErr)
		return "", false
	}

	d.registry().Register(stagedPath)
	return stagedPath, true
}
