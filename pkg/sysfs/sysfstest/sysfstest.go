// Package sysfstest builds fake sysfs trees for tests.
package sysfstest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/foomo/sysfshelper/pkg/sysfs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// Tree a fake sysfs below Root. All links are relative, like the kernel's,
// so the tree can also be mounted at "/" through afero.NewBasePathFs.
type Tree struct {
	tb   testing.TB
	Root string
}

// NewTree creates an empty tree in a temporary directory
func NewTree(tb testing.TB) *Tree {
	tb.Helper()
	root, err := filepath.EvalSymlinks(tb.TempDir())
	require.NoError(tb, err)
	return &Tree{tb: tb, Root: root}
}

// NewDefaultTree creates a tree with a few well known devices:
//
//	1-1  067b:2303  tty/ttyACM0, hidraw/hidraw0 (both on interface 1-1:1.0)
//	1-2  046d:0825  sound/controlC0 (DEVNAME=snd/controlC0), video4linux/video0
//	usb1 1d6b:0002  root hub without functions
//	tty/ttyS0       no device link
//	block/sda       device link to a non USB pci device
func NewDefaultTree(tb testing.TB) *Tree {
	tb.Helper()
	t := NewTree(tb)

	t.WriteFile("sys/devices/pci0000:00/uevent", "DRIVER=pcieport\n")
	t.USBDevice("pci0000:00/usb1", "usb1", "DEVTYPE=usb_device\nDRIVER=usb\nPRODUCT=1d6b/2/510\n")
	t.USBDevice("pci0000:00/usb1/1-1", "1-1", "DEVTYPE=usb_device\nDRIVER=usb\nPRODUCT=067b/2303/0100\n")
	t.MkdirAll("sys/devices/pci0000:00/usb1/1-1/1-1:1.0")
	t.USBDevice("pci0000:00/usb1/1-2", "1-2", "DEVTYPE=usb_device\nPRODUCT=46d/825/10\n")
	t.MkdirAll("sys/devices/pci0000:00/usb1/1-2/1-2:1.0")
	t.MkdirAll("sys/devices/pci0000:00/usb1/1-2/1-2:1.2")
	t.MkdirAll("sys/devices/pci0000:00/0000:00:17.0/ata1")

	t.ClassDevice("tty", "ttyACM0", "MAJOR=166\nMINOR=0\nDEVNAME=ttyACM0\n", "pci0000:00/usb1/1-1/1-1:1.0")
	t.ClassDevice("hidraw", "hidraw0", "DEVNAME=hidraw0\n", "pci0000:00/usb1/1-1/1-1:1.0")
	t.ClassDevice("sound", "controlC0", "DEVNAME=snd/controlC0\n", "pci0000:00/usb1/1-2/1-2:1.2")
	t.ClassDevice("video4linux", "video0", "DEVNAME=video0\n", "pci0000:00/usb1/1-2/1-2:1.0")
	t.ClassDevice("block", "sda", "DEVNAME=sda\nDEVTYPE=disk\n", "pci0000:00/0000:00:17.0/ata1")
	t.ClassDevice("tty", "ttyS0", "DEVNAME=ttyS0\n", "")
	return t
}

// Path returns the absolute path of a tree relative path
func (t *Tree) Path(rel string) string {
	return filepath.Join(t.Root, rel)
}

// USBRoot the fake /sys/bus/usb/devices
func (t *Tree) USBRoot() string {
	return t.Path("sys/bus/usb/devices")
}

// ClassRoots the fake class roots, in the default order
func (t *Tree) ClassRoots() []string {
	ret := make([]string, 0, len(sysfs.DefaultClassRoots))
	for _, root := range sysfs.DefaultClassRoots {
		ret = append(ret, t.Path(root))
	}
	return ret
}

// Options returns helper options pointing at the tree through the os fs
func (t *Tree) Options() []sysfs.Option {
	return []sysfs.Option{
		sysfs.WithFs(afero.NewOsFs()),
		sysfs.WithUSBRoot(t.USBRoot()),
		sysfs.WithClassRoots(t.ClassRoots()...),
	}
}

// Fs returns a filesystem with the tree mounted at "/"
func (t *Tree) Fs() afero.Fs {
	return afero.NewBasePathFs(afero.NewOsFs(), t.Root)
}

// USBDevice creates sys/devices/<devPath> with the given uevent and links it
// from sys/bus/usb/devices/<name>
func (t *Tree) USBDevice(devPath, name, uevent string) {
	t.tb.Helper()
	t.WriteFile(filepath.Join("sys/devices", devPath, "uevent"), uevent)
	t.Symlink(filepath.Join("sys/bus/usb/devices", name), filepath.Join("sys/devices", devPath))
}

// ClassDevice creates sys/devices/virtual/<class>/<name> with the given
// uevent, links it from sys/class/<class>/<name> and, if target is not
// empty, adds a device link to sys/devices/<target>
func (t *Tree) ClassDevice(class, name, uevent, target string) {
	t.tb.Helper()
	dir := filepath.Join("sys/devices/virtual", class, name)
	if target != "" {
		dir = filepath.Join("sys/devices", target, class, name)
	}
	t.WriteFile(filepath.Join(dir, "uevent"), uevent)
	t.Symlink(filepath.Join("sys/class", class, name), dir)
	if target != "" {
		t.Symlink(filepath.Join(dir, "device"), filepath.Join("sys/devices", target))
	}
}

func (t *Tree) MkdirAll(rel string) {
	t.tb.Helper()
	require.NoError(t.tb, os.MkdirAll(t.Path(rel), 0o755))
}

func (t *Tree) WriteFile(rel, content string) {
	t.tb.Helper()
	t.MkdirAll(filepath.Dir(rel))
	require.NoError(t.tb, os.WriteFile(t.Path(rel), []byte(content), 0o600))
}

// Symlink creates rel as a relative link to the tree relative target
func (t *Tree) Symlink(rel, target string) {
	t.tb.Helper()
	t.MkdirAll(filepath.Dir(rel))
	linkTarget, err := filepath.Rel(filepath.Dir(t.Path(rel)), t.Path(target))
	require.NoError(t.tb, err)
	require.NoError(t.tb, os.Symlink(linkTarget, t.Path(rel)))
}
