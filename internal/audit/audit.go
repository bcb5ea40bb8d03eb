// Package audit appends per-user CSV audit entries for repricing runs.
//
// Entries go to <dir>/<user>/Audit_Log.csv. When the file grows past the
// configured size it is rotated to Audit_Log.csv.1, shifting older backups up
// to the configured count. Audit failures are logged and never returned.
package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

// FileName is the audit file kept in each user's directory
const FileName = "Audit_Log.csv"

// Header is the first row of every audit file
var Header = []string{"Timestamp", "User", "Script", "Message", "Status"}

// TimestampLayout formats entry timestamps
const TimestampLayout = "2006-01-02 15:04:05"

// Status labels an audit entry
type Status string

const (
	StatusInfo    Status = "INFO"
	StatusStart   Status = "START"
	StatusEnd     Status = "END"
	StatusFile    Status = "FILE_ACCESS"
	StatusWarning Status = "WARNING"
	StatusError   Status = "ERROR"
)

// Config holds audit log settings
type Config struct {
	Dir      string
	User     string
	MaxBytes int64
	Backups  int
}

// DefaultConfig returns audit settings under the user's config directory
func DefaultConfig() *Config {
	dir := "audit"
	if base, err := os.UserConfigDir(); err == nil {
		dir = filepath.Join(base, "repricer", "audit")
	}
	return &Config{
		Dir:      dir,
		User:     CurrentUser(),
		MaxBytes: 5 * 1024 * 1024,
		Backups:  3,
	}
}

// Validate validates the audit configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Dir) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "audit-dir", c.Dir, nil)
	}
	if strings.TrimSpace(c.User) == "" || strings.ContainsAny(c.User, `/\`) {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "audit-user", c.User,
			fmt.Errorf("user name must be non-empty and contain no path separators"))
	}
	if c.MaxBytes <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "audit-max-bytes", c.MaxBytes,
			fmt.Errorf("max bytes must be positive"))
	}
	if c.Backups < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "audit-backups", c.Backups,
			fmt.Errorf("backups must not be negative"))
	}
	return nil
}

// CurrentUser returns the login name, falling back to USERNAME, USER and
// finally UnknownUser
func CurrentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		name := u.Username
		// Windows reports DOMAIN\user
		if i := strings.LastIndexAny(name, `\/`); i >= 0 {
			name = name[i+1:]
		}
		if name != "" {
			return name
		}
	}
	for _, key := range []string{"USERNAME", "USER"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return "UnknownUser"
}

// Entry is one audit row
type Entry struct {
	Timestamp time.Time
	User      string
	Script    string
	Message   string
	Status    Status
}

// Log appends entries to a user's audit file. A nil *Log discards entries.
type Log struct {
	config *Config
	path   string
	logger logger.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// New creates an audit log; the directory is created on first write
func New(config *Config, log logger.Logger) (*Log, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Log{
		config: config,
		path:   filepath.Join(config.Dir, config.User, FileName),
		logger: logger.OrDefault(log).WithComponent("audit"),
		now:    time.Now,
	}, nil
}

// Path returns the active audit file
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Record appends an entry. Failures are logged, never returned.
func (l *Log) Record(script, message string, status Status) {
	if l == nil {
		return
	}

	entry := Entry{
		Timestamp: l.now(),
		User:      l.config.User,
		Script:    script,
		Message:   message,
		Status:    status,
	}
	if err := l.append(entry); err != nil {
		l.logger.WithError(err).WithFields(logger.Fields{
			"path":   l.path,
			"script": script,
			"status": status,
		}).Warn("Failed to write audit entry")
	}
}

// Recordf formats the message before recording it
func (l *Log) Recordf(script string, status Status, format string, args ...interface{}) {
	l.Record(script, fmt.Sprintf(format, args...), status)
}

func (l *Log) append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return errors.FileError(errors.CodeDirectoryError, filepath.Dir(l.path), err)
	}
	if err := l.rotateIfNeeded(); err != nil {
		return err
	}

	_, statErr := os.Stat(l.path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.FileError(errors.CodeWriteFailed, l.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(Header); err != nil {
			return errors.FileError(errors.CodeWriteFailed, l.path, err)
		}
	}
	row := []string{
		entry.Timestamp.Format(TimestampLayout),
		entry.User,
		entry.Script,
		entry.Message,
		string(entry.Status),
	}
	if err := w.Write(row); err != nil {
		return errors.FileError(errors.CodeWriteFailed, l.path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.FileError(errors.CodeWriteFailed, l.path, err)
	}
	return nil
}

// rotateIfNeeded shifts Audit_Log.csv.N-1 to .N down to the live file to .1
func (l *Log) rotateIfNeeded() error {
	info, err := os.Stat(l.path)
	if err != nil || info.Size() <= l.config.MaxBytes {
		return nil
	}

	if l.config.Backups == 0 {
		if err := os.Remove(l.path); err != nil {
			return errors.FileError(errors.CodeWriteFailed, l.path, err)
		}
		return nil
	}

	for i := l.config.Backups - 1; i >= 1; i-- {
		prev := backupPath(l.path, i)
		if _, err := os.Stat(prev); err == nil {
			if err := os.Rename(prev, backupPath(l.path, i+1)); err != nil {
				return errors.FileError(errors.CodeWriteFailed, prev, err)
			}
		}
	}
	if err := os.Rename(l.path, backupPath(l.path, 1)); err != nil {
		return errors.FileError(errors.CodeWriteFailed, l.path, err)
	}

	l.logger.WithFields(logger.Fields{
		"path":    l.path,
		"size":    info.Size(),
		"backups": l.config.Backups,
	}).Debug("Rotated audit log")
	return nil
}

func backupPath(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}

// ReadEntries reads an audit file back, skipping the header
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileNotFound, path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, 0, "", "", err)
	}

	var entries []Entry
	for i, row := range rows {
		if i == 0 || len(row) < len(Header) {
			continue
		}
		ts, err := time.ParseInLocation(TimestampLayout, row[0], time.Local)
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidData, path, i+1, "Timestamp", row[0], err)
		}
		entries = append(entries, Entry{
			Timestamp: ts,
			User:      row[1],
			Script:    row[2],
			Message:   row[3],
			Status:    Status(row[4]),
		})
	}
	return entries, nil
}
