// Package klog is the component-tagged logging convention used throughout
// the kernel substrate, in the spirit of rclone's fs.Logf/fs.Debugf/fs.Errorf
// family: every call site names the object/component it's logging about.
package klog

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

var std = logrus.StandardLogger()

func init() {
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLevel adjusts the minimum level that reaches the output.
func SetLevel(level logrus.Level) {
	std.SetLevel(level)
}

// Debugf logs at debug level, tagged with the component/object that
// produced the message.
func Debugf(component any, format string, args ...any) {
	std.Debugf("%v: %s", component, fmt.Sprintf(format, args...))
}

// Logf logs at info level.
func Logf(component any, format string, args ...any) {
	std.Infof("%v: %s", component, fmt.Sprintf(format, args...))
}

// Errorf logs at error level.
func Errorf(component any, format string, args ...any) {
	std.Errorf("%v: %s", component, fmt.Sprintf(format, args...))
}

// Warnf logs at warn level. Used for the "unimplemented filesystem call"
// sentinel warning, among others.
func Warnf(component any, format string, args ...any) {
	std.Warnf("%v: %s", component, fmt.Sprintf(format, args...))
}
