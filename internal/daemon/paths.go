package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the per-user state directory.
const HomeEnv = "SINGLESCHEDULE_HOME"

// Paths is the layout of the state directory.
type Paths struct {
	Dir    string
	Lock   string
	PID    string
	Log    string
	LogDir string
}

func PathsIn(dir string) Paths {
	return Paths{
		Dir:    dir,
		Lock:   filepath.Join(dir, "daemon.lock"),
		PID:    filepath.Join(dir, "daemon.pid"),
		Log:    filepath.Join(dir, "daemon.log"),
		LogDir: filepath.Join(dir, "logs"),
	}
}

// HomeDir resolves the state directory: override, then $SINGLESCHEDULE_HOME,
// then <user config dir>/singleschedule.
func HomeDir(override string) (string, error) {
	if d := strings.TrimSpace(override); d != "" {
		return filepath.Abs(d)
	}
	if d := strings.TrimSpace(os.Getenv(HomeEnv)); d != "" {
		return filepath.Abs(d)
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errors.New("cannot determine config directory; set " + HomeEnv)
	}
	return filepath.Join(base, "singleschedule"), nil
}
