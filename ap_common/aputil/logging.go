/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package aputil

import (
	"flag"
	"log"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	levelFlag = zapcore.InfoLevel

	// logLevel is shared by every logger NewLogger hands out, so a level
	// change takes effect on loggers already in use.
	logLevel = zap.NewAtomicLevelAt(levelFlag)
)

func zapTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006/01/02 15:04:05"))
}

// NewLogger returns a 'sugared' zap logger.  Each logged line will include a
// timestamp, the log level, and 2 levels of caller name before the message.
// e.g.:
//	2018/11/02 10:23:27     INFO    ap.dns4d/dns4d.go:821   Adding ...
func NewLogger() *zap.SugaredLogger {
	logLevel.SetLevel(levelFlag)
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = logLevel
	zapConfig.DisableStacktrace = true
	zapConfig.EncoderConfig.EncodeTime = zapTimeEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		log.Panicf("can't zap: %s", err)
	}
	_ = zap.RedirectStdLog(logger)

	return logger.Sugar()
}

// LogSetLevel adjusts the level at which log messages are emitted.  The name
// argument is unused; it lets this be hooked directly to a config callback.
func LogSetLevel(name, level string) error {
	var l zapcore.Level

	if err := l.Set(level); err != nil {
		return err
	}
	logLevel.SetLevel(l)
	return nil
}

func init() {
	flag.Var(&levelFlag, "log-level",
		"Log level [debug,info,warn,error,panic,fatal]")
}
