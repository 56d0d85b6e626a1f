// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"fmt"
	"os"
)

// runScriptTemplate wraps the worker invocation with the exit-code
// convention shared by the local and batch backends: 0 cleans up after
// itself, 1 propagates as failure, 3 propagates as a resume request.
// Grounded on the original local/batch run-script templates, which differ
// only in the commands they wrap and whether job-spec cleanup applies.
// exitCodeFile, when non-empty, records $rc so a backend with no direct
// process handle (the batch backend, polling a scheduler) can recover it.
const runScriptTemplate = `#!/bin/bash
# Submission %d

%s
rc=$?
%s
if [[ $rc == 0 ]]; then
    rm -f %s
%s
elif [[ $rc == 3 ]]; then
    exit 3
else
    exit 1
fi
`

// WriteRunScript materializes the shell wrapper a backend invokes to run a
// job: it execs command, then branches on the exit code. extraCleanup (may
// be empty) is an additional "rm -f" line removing backend-specific
// artifacts (e.g. the batch backend's job spec file) on success. exitCodeFile
// (may be empty) additionally records the raw exit code for backends that
// cannot observe the subprocess directly.
func WriteRunScript(path string, id int, command, extraCleanup, exitCodeFile string) error {
	cleanup := ""
	if extraCleanup != "" {
		cleanup = fmt.Sprintf("    rm -f %s", extraCleanup)
	}
	record := ""
	if exitCodeFile != "" {
		record = fmt.Sprintf("echo $rc > %s", exitCodeFile)
	}
	content := fmt.Sprintf(runScriptTemplate, id, command, record, path, cleanup)
	return os.WriteFile(path, []byte(content), 0o755)
}
