package cache

import (
	"errors"
	"fmt"

	"github.com/saxonscout/scoutcache/internal/cache/storage"
	"github.com/sirupsen/logrus"
)

// FaultKind classifies a persistent tier failure.
type FaultKind string

const (
	FaultStorageFull     FaultKind = "storage_full"
	FaultSerialization   FaultKind = "serialization"
	FaultDeserialization FaultKind = "deserialization"
	FaultStorage         FaultKind = "storage"
)

// Fault is a persistent tier failure. Faults are recovered inside the tier:
// they are logged and reported to an observer, and the affected entry is
// treated as a miss.
type Fault struct {
	Kind FaultKind
	Key  string
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("cache %s fault for %q: %v", f.Kind, f.Key, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// FaultHandler observes recovered faults.
type FaultHandler func(*Fault)

func writeFault(key string, err error) *Fault {
	if errors.Is(err, storage.ErrStorageFull) {
		return &Fault{Kind: FaultStorageFull, Key: key, Err: err}
	}
	return &Fault{Kind: FaultStorage, Key: key, Err: err}
}

func logFault(f *Fault) {
	logrus.WithFields(logrus.Fields{
		"key":   f.Key,
		"fault": string(f.Kind),
	}).Warnf("Persistent cache: %v", f.Err)
}
