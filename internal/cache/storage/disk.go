package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/sirupsen/logrus"
)

const diskExt = ".item"

// Disk stores one file per key under a directory. File names are the
// SHA-256 of the key; the key itself is kept inside the file so Keys can
// enumerate without a separate index.
type Disk struct {
	dir string
}

var _ Storage = &Disk{}

type diskRecord struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// NewDisk creates a disk store rooted at dir. Call Init before use.
func NewDisk(dir string) *Disk {
	return &Disk{dir: dir}
}

// Init ensures the storage directory exists
func (d *Disk) Init() error {
	return os.MkdirAll(d.dir, 0755)
}

// Dir returns the storage directory.
func (d *Disk) Dir() string {
	return d.dir
}

func (d *Disk) GetItem(key string) ([]byte, bool, error) {
	rec, err := d.readRecord(d.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec.Value, true, nil
}

func (d *Disk) SetItem(key string, value []byte) error {
	data, err := json.Marshal(diskRecord{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	// write then rename so readers never see a torn file
	path := d.path(key)
	f, err := os.CreateTemp(d.dir, "item-*.tmp")
	if err != nil {
		return wrapDiskErr(err)
	}
	tmp := f.Name()
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return wrapDiskErr(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return wrapDiskErr(err)
	}

	logrus.Debugf("Stored %s in %s", key, path)
	return nil
}

func (d *Disk) RemoveItem(key string) error {
	err := os.Remove(d.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (d *Disk) Keys(prefix string) ([]string, error) {
	files, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading storage directory: %w", err)
	}

	keys := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != diskExt {
			continue
		}
		rec, err := d.readRecord(filepath.Join(d.dir, f.Name()))
		if err != nil {
			// not ours or half-written; leave it alone
			logrus.Debugf("Skipping unreadable storage file %s: %v", f.Name(), err)
			continue
		}
		keys = append(keys, rec.Key)
	}

	sort.Strings(keys)
	return filterPrefix(keys, prefix), nil
}

func (d *Disk) Close() error {
	return nil
}

func (d *Disk) path(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(d.dir, hex.EncodeToString(hash[:])+diskExt)
}

func (d *Disk) readRecord(path string) (diskRecord, error) {
	var rec diskRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decoding record %s: %w", path, err)
	}
	return rec, nil
}

func wrapDiskErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", ErrStorageFull, err)
	}
	return err
}
