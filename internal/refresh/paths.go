package refresh

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	catalogDir  = "stop"
	catalogFile = "busStop.json"
	etaDir      = "eta"
	tempMarker  = "_Tmp-"
)

// ErrInvalidStopID is returned for stop ids outside [A-Za-z0-9_-]+
var ErrInvalidStopID = errors.New("invalid stop id")

var stopIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Paths lays out the canonical files under one data directory
type Paths struct {
	DataDir string
}

// CatalogPath is <data>/stop/busStop.json
func (p Paths) CatalogPath() string {
	return filepath.Join(p.DataDir, catalogDir, catalogFile)
}

// ETADir holds one file per stop
func (p Paths) ETADir() string {
	return filepath.Join(p.DataDir, etaDir)
}

// ETAPath is <data>/eta/ETA_<stopId>.json. Ids that could escape the
// directory are rejected.
func (p Paths) ETAPath(stopID string) (string, error) {
	if !stopIDPattern.MatchString(stopID) {
		return "", fmt.Errorf("%w %q", ErrInvalidStopID, stopID)
	}
	return filepath.Join(p.ETADir(), "ETA_"+stopID+".json"), nil
}

// TempPath returns a fresh temporary sibling of canonical, so every attempt
// downloads into its own file
func TempPath(canonical string) string {
	ext := filepath.Ext(canonical)
	base := strings.TrimSuffix(canonical, ext)
	return base + tempMarker + uuid.New().String()[:8] + ext
}

func isTempFile(name string) bool {
	return strings.Contains(filepath.Base(name), tempMarker)
}
