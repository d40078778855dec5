package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var frame = false
var ehFrameHdr = false
var objFile = false
var terminal = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if loggerFactory != nil {
		return loggerFactory(level, fields, logOut)
	}
	logger := logrus.New()
	logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Out = logOut
	}
	logger.Level = level
	return &logrusLogger{logger.WithFields(logrus.Fields(fields))}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	level := logrus.ErrorLevel
	if flag {
		level = logrus.DebugLevel
	}
	return makeLogger(level, fields)
}

// Any returns true if any logging is enabled.
func Any() bool {
	return frame || ehFrameHdr || objFile || terminal
}

// Frame returns true if the call frame decoder should log entries it
// skips and other recoverable problems.
func Frame() bool {
	return frame
}

// FrameLogger returns a logger for the call frame decoder.
func FrameLogger() Logger {
	return makeFlaggableLogger(frame, Fields{"layer": "frame"})
}

// EhFrameHdr returns true if .eh_frame_hdr lookups should be logged.
func EhFrameHdr() bool {
	return ehFrameHdr
}

// EhFrameHdrLogger returns a logger for .eh_frame_hdr lookups.
func EhFrameHdrLogger() Logger {
	return makeFlaggableLogger(ehFrameHdr, Fields{"layer": "ehframehdr"})
}

// ObjFile returns true if executable loading should be logged.
func ObjFile() bool {
	return objFile
}

// ObjFileLogger returns a logger for executable loading.
func ObjFileLogger() Logger {
	return makeFlaggableLogger(objFile, Fields{"layer": "objfile"})
}

// Terminal returns true if the interactive terminal should log the
// commands it runs.
func Terminal() bool {
	return terminal
}

// TerminalLogger returns a logger for the interactive terminal.
func TerminalLogger() Logger {
	return makeFlaggableLogger(terminal, Fields{"layer": "terminal"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr. logDest
// is either a file descriptor number or a file path to write the logs
// to.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "log-output")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log output file %s: %v", logDest, err)
			}
			logOut = fh
		}
	}
	if !logFlag {
		if logOut == nil {
			logrus.SetOutput(ioutil.Discard)
		}
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "frame"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "frame":
			frame = true
		case "ehframehdr":
			ehFrameHdr = true
		case "objfile":
			objFile = true
		case "terminal":
			terminal = true
		default:
			return fmt.Errorf("unknown log output %q", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

var textFormatterInstance = &logrus.TextFormatter{
	FullTimestamp:    true,
	TimestampFormat:  "2006-01-02T15:04:05Z07:00",
	DisableColors:    true,
	DisableSorting:   false,
	QuoteEmptyFields: true,
}
