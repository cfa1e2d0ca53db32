// Package usbid resolves vendor and product names from a usb.ids database.
package usbid

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultPaths lists the standard locations of the usb.ids database
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

type (
	Database struct {
		l        *zap.Logger
		fs       afero.Fs
		paths    []string
		vendors  map[string]string // vid -> vendor name
		products map[string]string // vid:pid -> product name
		loaded   bool
		found    bool
		mu       sync.RWMutex
	}
	Option func(*Database)
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func New(l *zap.Logger, opts ...Option) *Database {
	inst := &Database{
		l:        l.Named("usbid"),
		fs:       afero.NewOsFs(),
		paths:    DefaultPaths,
		vendors:  map[string]string{},
		products: map[string]string{},
	}

	for _, opt := range opts {
		opt(inst)
	}

	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithFs(v afero.Fs) Option {
	return func(o *Database) {
		o.fs = v
	}
}

func WithPaths(v ...string) Option {
	return func(o *Database) {
		o.paths = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// Load parses the first database found on the search paths. It only does
// work once and reports whether a database file was found.
func (db *Database) Load() bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.loaded {
		return db.found
	}
	db.loaded = true

	for _, path := range db.paths {
		file, err := db.fs.Open(path)
		if err != nil {
			continue
		}
		err = db.parse(file)
		_ = file.Close()
		if err != nil {
			db.l.Warn("failed to parse usb.ids", zap.String("path", path), zap.Error(err))
			continue
		}
		db.l.Debug("loaded usb.ids",
			zap.String("path", path),
			zap.Int("vendors", len(db.vendors)),
			zap.Int("products", len(db.products)),
		)
		db.found = true
		return true
	}

	db.l.Info("no usb.ids database found", zap.Strings("paths", db.paths))
	return false
}

// Read parses a database from r, in addition to anything already loaded
func (db *Database) Read(r io.Reader) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.loaded = true
	db.found = true
	return db.parse(r)
}

// Vendor returns the vendor name for a normalized vid or ""
func (db *Database) Vendor(vid string) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid]
}

// Product returns the product name for a normalized vid/pid pair or ""
func (db *Database) Product(vid, pid string) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.products[vid+":"+pid]
}

func (db *Database) VendorCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.vendors)
}

func (db *Database) ProductCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.products)
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

// parse reads vendor lines "vvvv  name" and product lines "\tpppp  name".
// Everything from the class section ("C xx  name") on is ignored.
func (db *Database) parse(r io.Reader) error {
	var (
		scanner    = bufio.NewScanner(r)
		currentVID string
	)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if strings.HasPrefix(line, "C ") {
			break
		}
		if line[0] == '\t' {
			if currentVID == "" || strings.HasPrefix(line, "\t\t") {
				continue
			}
			if pid, name, ok := splitEntry(line[1:]); ok {
				db.products[currentVID+":"+pid] = name
			}
			continue
		}
		vid, name, ok := splitEntry(line)
		if !ok {
			currentVID = ""
			continue
		}
		currentVID = vid
		db.vendors[vid] = name
	}
	return scanner.Err()
}

// splitEntry splits "xxxx  name" into the normalized id and the name
func splitEntry(line string) (id, name string, ok bool) {
	if len(line) < 6 || line[4] != ' ' {
		return "", "", false
	}
	v, err := strconv.ParseUint(line[:4], 16, 16)
	if err != nil {
		return "", "", false
	}
	return strconv.FormatUint(v, 16), strings.TrimSpace(line[5:]), true
}
