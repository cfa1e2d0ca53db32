package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/foomo/sysfshelper/pkg/repo"
	"github.com/foomo/sysfshelper/pkg/sysfs"
	"github.com/foomo/sysfshelper/pkg/usbid"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// newHelper builds a sysfs helper from the persistent root flags
func newHelper(l *zap.Logger, rv *viper.Viper) *sysfs.Helper {
	opts := []sysfs.Option{
		sysfs.WithUSBRoot(usbRootFlag(rv)),
		sysfs.WithDevRoot(devRootFlag(rv)),
		sysfs.WithClassRoots(classRootsFlag(rv)...),
	}
	if paths := usbIDsFlag(rv); len(paths) > 0 {
		opts = append(opts, sysfs.WithIDDatabase(usbid.New(l, usbid.WithPaths(paths...))))
	}
	return sysfs.New(l, opts...)
}

// newRepo wires helper, storage and history into a repo
func newRepo(ctx context.Context, l *zap.Logger, v, rv *viper.Viper) (*repo.Repo, *repo.History, error) {
	storage, err := createStorage(ctx, v, l)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create storage: %w", err)
	}

	history, err := repo.NewHistory(l.Named("inst.history"),
		repo.HistoryWithStorage(storage),
		repo.HistoryWithHistoryDir(historyDirFlag(v)),
		repo.HistoryWithHistoryLimit(historyLimitFlag(v)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create history: %w", err)
	}

	r := repo.New(l.Named("inst.repo"),
		newHelper(l.Named("inst.sysfs"), rv),
		history,
		repo.WithPollInterval(pollIntervalFlag(v)),
		repo.WithPoll(pollFlag(v)),
		repo.WithDevRoot(devRootFlag(rv)),
	)
	return r, history, nil
}

// supportedBlobSchemes lists the URL schemes supported by blob storage
var supportedBlobSchemes = []string{"gs://", "file://", "mem://"}

// createStorage creates a storage backend based on the configuration
func createStorage(ctx context.Context, v *viper.Viper, l *zap.Logger) (repo.Storage, error) {
	storageType := storageTypeFlag(v)
	blobBucket := storageBlobBucketFlag(v)
	blobPrefix := storageBlobPrefixFlag(v)

	if storageType != "blob" && (blobBucket != "" || blobPrefix != "") {
		l.Warn("blob storage flags are set but storage-type is not 'blob'; blob config will be ignored",
			zap.String("storage-type", storageType),
			zap.String("blob-bucket", blobBucket),
			zap.String("blob-prefix", blobPrefix),
		)
	}

	l.Info("creating storage", zap.String("type", storageType))

	switch storageType {
	case "blob":
		if blobBucket == "" {
			return nil, fmt.Errorf("blob bucket URL is required when storage-type is 'blob' (supported schemes: %s)", strings.Join(supportedBlobSchemes, ", "))
		}
		if !isValidBlobScheme(blobBucket) {
			return nil, fmt.Errorf("unsupported blob storage URL scheme in %q; supported schemes: %s", blobBucket, strings.Join(supportedBlobSchemes, ", "))
		}
		l.Info("using blob storage",
			zap.String("bucket", blobBucket),
			zap.String("prefix", blobPrefix),
			zap.String("provider", detectBlobProvider(blobBucket)),
		)
		return repo.NewBlobStorage(ctx, blobBucket, blobPrefix)
	case "filesystem", "":
		dir := historyDirFlag(v)
		l.Info("using filesystem storage", zap.String("dir", dir))
		return repo.NewFilesystemStorage(dir)
	default:
		return nil, fmt.Errorf("unknown storage type: %s (supported: filesystem, blob)", storageType)
	}
}

func isValidBlobScheme(bucketURL string) bool {
	for _, scheme := range supportedBlobSchemes {
		if strings.HasPrefix(bucketURL, scheme) {
			return true
		}
	}
	return false
}

// detectBlobProvider returns a human-readable provider name from the URL scheme
func detectBlobProvider(bucketURL string) string {
	switch {
	case strings.HasPrefix(bucketURL, "gs://"):
		return "Google Cloud Storage"
	case strings.HasPrefix(bucketURL, "file://"):
		return "Local directory"
	case strings.HasPrefix(bucketURL, "mem://"):
		return "In-memory"
	default:
		return "unknown"
	}
}
