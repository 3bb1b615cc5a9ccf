package logging

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// StepField marks an entry as a pipeline step. Steps are printed as
// top-level bullets, everything else is nested below the last step.
const StepField = "step"

// BulletFormatter prints entries as hierarchical bullets:
//
//	$ go-appsigner resign --input=MyApp.ipa --certificate=Dev
//	  * Processing MyApp.app
//	    * signed  file=Payload/MyApp.app/Frameworks/Foo.framework
//	    ! embedded provisioning profile "Dev" expired on 2024-01-01
//	  x signature verification failed
//
// Fields other than StepField are appended as sorted key=value pairs.
type BulletFormatter struct{}

func (f *BulletFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var buf bytes.Buffer

	step, isStep := entry.Data[StepField]
	switch {
	case isStep:
		fmt.Fprintf(&buf, "  * %v", step)
		buf.WriteString(formatFields(entry.Data, StepField))
	case entry.Level <= logrus.ErrorLevel:
		fmt.Fprintf(&buf, "  x %s", entry.Message)
		buf.WriteString(formatFields(entry.Data))
	case entry.Level == logrus.WarnLevel:
		fmt.Fprintf(&buf, "    ! %s", entry.Message)
		buf.WriteString(formatFields(entry.Data))
	case entry.Level == logrus.InfoLevel:
		fmt.Fprintf(&buf, "    * %s", entry.Message)
		buf.WriteString(formatFields(entry.Data))
	default:
		fmt.Fprintf(&buf, "      %s", entry.Message)
		buf.WriteString(formatFields(entry.Data))
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// formatFields returns "  k=v k=v" for the fields not in skip, or "" when
// nothing remains
func formatFields(fields logrus.Fields, skip ...string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		skipped := false
		for _, s := range skip {
			if k == s {
				skipped = true
				break
			}
		}
		if !skipped {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return "  " + strings.Join(parts, " ")
}

// New returns a logger writing bullets to w, or timestamped text entries at
// debug level when debug is set
func New(w io.Writer, debug bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)

	if debug {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&BulletFormatter{})
	}

	return logger
}
