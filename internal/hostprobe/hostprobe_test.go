// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package hostprobe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCPUCountIsPositive(t *testing.T) {
	assert.Greater(t, CPUCount(), 0)
}
