// Package sysfs discovers USB functions and VID:PID pairs through Linux sysfs.
//
// A function is a class device (a tty, hidraw, video or sound node ...) whose
// "device" link leads to a USB device. The helper scans the class roots, reads
// DEVNAME from each entry's uevent, follows the link and ascends the sysfs
// tree until a uevent carries PRODUCT=vid/pid/bcd.
package sysfs

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/foomo/sysfshelper/device"
	"github.com/foomo/sysfshelper/pkg/fstools"
	"github.com/foomo/sysfshelper/pkg/usbid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	// DefaultUSBRoot sysfs root of all USB devices
	DefaultUSBRoot = "/sys/bus/usb/devices"
	// DefaultDevRoot where device nodes live
	DefaultDevRoot = "/dev"
	// MaxDevNumber maximum number of parent directories visited by USBIDsFor
	MaxDevNumber = 100
)

// DefaultClassRoots common classes whose uevent carries DEVNAME
var DefaultClassRoots = []string{
	"/sys/class/tty",
	"/sys/class/hidraw",
	"/sys/class/video4linux",
	"/sys/class/sound",
	"/sys/class/block",
	"/sys/class/usblp",
	"/sys/class/drm",
}

// ErrNotFound is returned by Find if no USB function backs the device node
var ErrNotFound = errors.New("usb function not found")

type (
	Helper struct {
		l          *zap.Logger
		fs         afero.Fs
		usbRoot    string
		devRoot    string
		classRoots []string
		ids        *usbid.Database
	}
	Option func(*Helper)
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func New(l *zap.Logger, opts ...Option) *Helper {
	inst := &Helper{
		l:          l.Named("sysfs"),
		fs:         afero.NewOsFs(),
		usbRoot:    DefaultUSBRoot,
		devRoot:    DefaultDevRoot,
		classRoots: DefaultClassRoots,
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
	return func(o *Helper) {
		o.fs = v
	}
}

func WithUSBRoot(v string) Option {
	return func(o *Helper) {
		o.usbRoot = v
	}
}

func WithDevRoot(v string) Option {
	return func(o *Helper) {
		o.devRoot = strings.TrimSuffix(v, "/")
	}
}

func WithClassRoots(v ...string) Option {
	return func(o *Helper) {
		if len(v) > 0 {
			o.classRoots = v
		}
	}
}

func WithIDDatabase(v *usbid.Database) Option {
	return func(o *Helper) {
		o.ids = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Getter
// ------------------------------------------------------------------------------------------------

func (h *Helper) USBRoot() string {
	return h.usbRoot
}

func (h *Helper) ClassRoots() []string {
	return h.classRoots
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// ListFunctions lists all USB functions found below the class roots, sorted
// by dev path and deduplicated by (dev path, VID, PID).
func (h *Helper) ListFunctions(ctx context.Context) ([]*device.Function, error) {
	var out []*device.Function
	for _, classRoot := range h.classRoots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !fstools.IsDir(h.fs, classRoot) {
			continue
		}
		for _, entryPath := range fstools.ListDir(h.fs, classRoot) {
			devName, ok := h.devName(entryPath)
			if !ok {
				continue
			}
			if f, ok := h.resolve(classRoot, entryPath, devName); ok {
				out = append(out, f)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DevPath != b.DevPath {
			return a.DevPath < b.DevPath
		}
		if a.VID != b.VID {
			return a.VID < b.VID
		}
		if a.PID != b.PID {
			return a.PID < b.PID
		}
		return a.ClassName < b.ClassName
	})

	// the same node may show up through different class roots
	uniq := out[:0]
	for i, f := range out {
		if i > 0 {
			prev := uniq[len(uniq)-1]
			if prev.DevPath == f.DevPath && prev.VID == f.VID && prev.PID == f.PID {
				continue
			}
		}
		uniq = append(uniq, f)
	}

	h.l.Debug("listed functions", zap.Int("count", len(uniq)))
	return uniq, nil
}

// FindByID returns all functions matching the given ids. Both ids are
// normalized, so "0x067B", "067b" and "67b" are equal.
func (h *Helper) FindByID(ctx context.Context, vidRaw, pidRaw string) ([]*device.Function, error) {
	vid, pid := NormalizeID(vidRaw), NormalizeID(pidRaw)
	functions, err := h.ListFunctions(ctx)
	if err != nil {
		return nil, err
	}
	var out []*device.Function
	for _, f := range functions {
		if f.Matches(vid, pid) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Find resolves a device node like "/dev/ttyUSB0", "ttyUSB0" or
// "snd/controlC0" to its USB function.
func (h *Helper) Find(ctx context.Context, devNode string) (*device.Function, error) {
	devNode = h.TrimDevRoot(devNode)
	for _, classRoot := range h.classRoots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !fstools.IsDir(h.fs, classRoot) {
			continue
		}
		for _, entryPath := range fstools.ListDirPattern(h.fs, classRoot, "*") {
			devName, ok := h.devName(entryPath)
			if !ok || devName != devNode {
				continue
			}
			if f, ok := h.resolve(classRoot, entryPath, devName); ok {
				return f, nil
			}
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "device node %q", devNode)
}

// ListIDs returns all unique (VID, PID) pairs below the USB root, sorted
func (h *Helper) ListIDs(ctx context.Context) ([]device.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !fstools.IsDirTarget(h.fs, h.usbRoot) {
		return []device.ID{}, nil
	}

	uniq := map[device.ID]struct{}{}
	for _, entryPath := range fstools.ListDir(h.fs, h.usbRoot) {
		// entries below /sys/bus/usb/devices are links into /sys/devices
		if !fstools.IsDirTarget(h.fs, entryPath) {
			continue
		}
		content, err := fstools.ReadFile(h.fs, fstools.JoinPath(entryPath, ueventFile))
		if err != nil {
			continue
		}
		if vid, pid, ok := ParseIDsFromUevent(string(content)); ok && vid != "" && pid != "" {
			uniq[device.ID{VID: vid, PID: pid}] = struct{}{}
		}
	}

	out := make([]device.ID, 0, len(uniq))
	for id := range uniq {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Less(out[j])
	})
	return out, nil
}

// USBIDsFor ascends from start to the nearest ancestor whose uevent carries
// a PRODUCT line and returns its ids.
func (h *Helper) USBIDsFor(start string) (device.ID, bool) {
	cur, err := fstools.CanonicalPath(h.fs, start)
	if err != nil {
		return device.ID{}, false
	}
	for i := 0; i < MaxDevNumber && cur != ""; i++ {
		uevent := fstools.JoinPath(cur, ueventFile)
		if fstools.PathExists(h.fs, uevent) {
			if content, err := fstools.ReadFile(h.fs, uevent); err == nil {
				if vid, pid, ok := ParseIDsFromUevent(string(content)); ok && vid != "" && pid != "" {
					return device.ID{VID: vid, PID: pid}, true
				}
			}
		}
		slash := strings.LastIndexByte(cur, '/')
		if slash < 0 {
			break
		}
		cur = cur[:slash]
	}
	return device.ID{}, false
}

// Scan takes a snapshot of all functions and ids
func (h *Helper) Scan(ctx context.Context) (*device.Snapshot, error) {
	functions, err := h.ListFunctions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list functions")
	}
	ids, err := h.ListIDs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list ids")
	}

	snapshot := device.NewSnapshot()
	snapshot.ScannedAt = time.Now()
	if host, err := os.Hostname(); err == nil {
		snapshot.Host = host
	}
	if functions != nil {
		snapshot.Functions = functions
	}
	snapshot.IDs = ids
	return snapshot, nil
}

// TrimDevRoot strips the dev root from a device node path
func (h *Helper) TrimDevRoot(devNode string) string {
	return TrimDevRoot(h.devRoot, devNode)
}

// TrimDevRoot strips devRoot from devNode, "/dev/snd/controlC0" becomes "snd/controlC0"
func TrimDevRoot(devRoot, devNode string) string {
	return strings.TrimPrefix(devNode, devRoot+"/")
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

// devName reads DEVNAME from the uevent of a class entry
func (h *Helper) devName(entryPath string) (string, bool) {
	uevent := fstools.JoinPath(entryPath, ueventFile)
	if !fstools.PathExists(h.fs, uevent) {
		return "", false
	}
	content, err := fstools.ReadFile(h.fs, uevent)
	if err != nil {
		h.l.Debug("failed to read uevent", zap.String("path", uevent), zap.Error(err))
		return "", false
	}
	devName := ParseUevent(string(content))[keyDevName]
	return devName, devName != ""
}

// resolve follows the device link of a class entry up to its USB ancestor
func (h *Helper) resolve(classRoot, entryPath, devName string) (*device.Function, bool) {
	link := fstools.JoinPath(entryPath, deviceLink)
	if !fstools.PathExists(h.fs, link) {
		return nil, false
	}
	node, err := fstools.CanonicalPath(h.fs, link)
	if err != nil || node == "" {
		h.l.Debug("failed to resolve device link", zap.String("path", link), zap.Error(err))
		return nil, false
	}
	id, ok := h.USBIDsFor(node)
	if !ok {
		return nil, false
	}

	f := &device.Function{
		VID:       id.VID,
		PID:       id.PID,
		USBNode:   node,
		ClassName: className(classRoot),
		DevName:   devName,
		DevPath:   fstools.JoinPath(h.devRoot, devName),
	}
	if h.ids != nil {
		h.ids.Load()
		f.Vendor = h.ids.Vendor(f.VID)
		f.Product = h.ids.Product(f.VID, f.PID)
	}
	return f, true
}

// className takes the tail of a class root like "/sys/class/tty"
func className(classRoot string) string {
	if slash := strings.LastIndexByte(classRoot, '/'); slash >= 0 {
		return classRoot[slash+1:]
	}
	return classRoot
}
