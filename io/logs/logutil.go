// Package logs wires persistent file logging into the process wide logger
// and provides helpers for sanitizing values before they are logged.
package logs

import (
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/eidaws/eidaws/io/file"
)

func addLogWriter(w io.Writer) {
	mw := io.MultiWriter(logrus.StandardLogger().Out, w)
	logrus.SetOutput(mw)
}

// ConfigurePersistentLogging tees all subsequent log output into the given
// file, creating parent directories as needed. Stdout keeps receiving the
// same lines.
func ConfigurePersistentLogging(logFileName string) error {
	logrus.WithField("logFileName", logFileName).Info("Logs will be made persistent")
	if err := file.MkdirAll(filepath.Dir(logFileName)); err != nil {
		return err
	}
	f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, file.ReadWritePermissions) // #nosec G304
	if err != nil {
		return err
	}

	addLogWriter(f)

	logrus.Info("File logging initialized")
	return nil
}

// MaskCredentialsLogging hides the sensitive parts of a URL before it is
// logged. Userinfo, path, query and fragment each collapse to "***", leaving
// scheme and host readable. Values that do not parse as a URL are returned
// unchanged.
func MaskCredentialsLogging(currURL string) string {
	masked := currURL
	u, err := url.Parse(currURL)
	if err != nil {
		return currURL
	}
	if u.User != nil {
		masked = strings.Replace(masked, u.User.String(), "***", 1)
	}
	if len(u.RequestURI()) > 1 { // a bare "/" carries nothing worth hiding
		masked = strings.Replace(masked, u.RequestURI(), "/***", 1)
	}
	if len(u.Fragment) > 0 {
		masked = strings.Replace(masked, u.RawFragment, "***", 1)
	}
	return masked
}
