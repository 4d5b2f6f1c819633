package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/sensorstream/internal/errors"
)

// Path returns the PID file location for the named process
func Path(name string) string {
	return filepath.Join(os.TempDir(), name+".pid")
}

// Write records the current process ID in the PID file for name. It fails
// with ErrAlreadyRunning if the file names a live process. Files naming a
// dead process or holding garbage are overwritten.
func Write(name string) error {
	errFactory := errors.New()
	path := Path(name)

	if data, err := os.ReadFile(path); err == nil {
		if running(strings.TrimSpace(string(data))) {
			return errFactory.WithData(errors.ErrAlreadyRunning, path)
		}
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove deletes the PID file for name
func Remove(name string) error {
	if err := os.Remove(Path(name)); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

func running(raw string) bool {
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
