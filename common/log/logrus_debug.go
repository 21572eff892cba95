//go:build debug

package log

import (
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var basePath string

func init() {
	basePath, _ = filepath.Abs(".")
}

func init() {
	logrus.SetLevel(logrus.TraceLevel)
	logrus.StandardLogger().SetReportCaller(true)
	formatter, isText := logrus.StandardLogger().Formatter.(*logrus.TextFormatter)
	if !isText {
		return
	}
	formatter.CallerPrettyfier = func(frame *runtime.Frame) (function string, file string) {
		file = frame.File + ":" + strconv.Itoa(frame.Line)
		if strings.HasPrefix(file, basePath) {
			file = file[len(basePath)+1:]
		}
		file = " " + file
		return
	}
}
