// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"github.com/xionghul/distcc/lib/process"
	"github.com/xionghul/distcc/state"
)

// waitForPreprocessor blocks until the background preprocessor exits
// and classifies its status. Returns the status, and done=true when
// the preprocessor genuinely rejected the input — in that case the job
// is finished: retrying on another host would reproduce the same
// failure, so the dispatcher reports completion with the status
// attached instead of a dispatch error.
//
// A nil Preprocessor (server-side preprocessing, or an input that
// needed no preprocessing) returns a successful status immediately.
func (d *Dispatcher) waitForPreprocessor(job *Job) (status process.ExitStatus, done bool, err error) {
	if job.Preprocessor == nil {
		return process.ExitStatus{}, false, nil
	}

	d.noter().Note(state.PhaseCPP, job.InputName, "")
	status, err = process.Collect("cpp", job.Preprocessor)
	if err != nil {
		return process.ExitStatus{}, false, err
	}
	if !status.Success() && d.critic().GenuineFailure(status, "cpp", job.InputName) {
		return status, true, nil
	}
	return status, false, nil
}
