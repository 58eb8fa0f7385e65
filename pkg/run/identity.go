// Package run decides, once per process, whether stale artifacts from a
// previous invocation must be cleared before the first test group starts.
package run

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/mobile-harness/pkg/artifact"
)

// Identity names one process lifetime. It is generated once at startup.
type Identity struct {
	StartTime int64 // unix milliseconds
	RunID     string
}

// NewIdentity returns a fresh identity for the current process.
func NewIdentity() Identity {
	return Identity{StartTime: time.Now().UnixMilli(), RunID: uuid.NewString()}
}

// String returns the legacy "<start>:<id>" form.
func (i Identity) String() string {
	return fmt.Sprintf("%d:%s", i.StartTime, i.RunID)
}

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool {
	return i.StartTime == 0 && i.RunID == ""
}

// ErrMarkerAbsent is returned by ReadMarker when no marker file exists.
var ErrMarkerAbsent = errors.New("run marker absent")

// marker is the on-disk record of the last process that performed cleanup.
type marker struct {
	ProcessStartTime int64  `json:"processStartTime"`
	ProcessIdentity  string `json:"processIdentity"`
}

// ReadMarker reads the identity recorded at path. Both the JSON form and
// the older "<start>:<id>" text form are accepted.
func ReadMarker(path string) (Identity, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- marker path from workspace config
	if err != nil {
		if os.IsNotExist(err) {
			return Identity{}, ErrMarkerAbsent
		}
		return Identity{}, err
	}
	return parseMarker(data)
}

func parseMarker(data []byte) (Identity, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return Identity{}, errors.New("run marker is empty")
	}

	if strings.HasPrefix(text, "{") {
		var m marker
		if err := json.Unmarshal([]byte(text), &m); err != nil {
			return Identity{}, fmt.Errorf("decode run marker: %w", err)
		}
		if m.ProcessIdentity == "" {
			return Identity{}, errors.New("run marker has no process identity")
		}
		return Identity{StartTime: m.ProcessStartTime, RunID: m.ProcessIdentity}, nil
	}

	start, id, ok := strings.Cut(text, ":")
	if !ok || id == "" {
		return Identity{}, fmt.Errorf("malformed run marker %q", text)
	}
	ms, err := strconv.ParseInt(start, 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("malformed run marker start time: %w", err)
	}
	return Identity{StartTime: ms, RunID: id}, nil
}

// WriteMarker atomically records id at path.
func WriteMarker(path string, id Identity) error {
	data, err := json.Marshal(marker{ProcessStartTime: id.StartTime, ProcessIdentity: id.RunID})
	if err != nil {
		return err
	}
	return artifact.WriteFileAtomic(path, append(data, '\n'))
}
