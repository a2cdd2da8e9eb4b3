/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package aputil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLogSetLevel(t *testing.T) {
	defer logLevel.SetLevel(levelFlag)

	require.NoError(t, LogSetLevel("", "debug"))
	require.Equal(t, zapcore.DebugLevel, logLevel.Level())

	require.NoError(t, LogSetLevel("log_level", "warn"))
	require.Equal(t, zapcore.WarnLevel, logLevel.Level())

	require.Error(t, LogSetLevel("", "noisy"))
	require.Equal(t, zapcore.WarnLevel, logLevel.Level())
}
