package cmd

import (
	"time"

	"github.com/foomo/sysfshelper/pkg/sysfs"
	"github.com/foomo/sysfshelper/pkg/usbid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ------------------------------------------------------------------------------------------------
// ~ Logging
// ------------------------------------------------------------------------------------------------

func logLevelFlag(v *viper.Viper) string {
	return v.GetString("log.level")
}

func addLogLevelFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("log-level", "info", "log level")
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindEnv("log.level", "LOG_LEVEL")
}

func logFormatFlag(v *viper.Viper) string {
	return v.GetString("log.format")
}

func addLogFormatFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("log-format", "json", "log format")
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = v.BindEnv("log.format", "LOG_FORMAT")
}

// ------------------------------------------------------------------------------------------------
// ~ Sysfs
// ------------------------------------------------------------------------------------------------

func usbRootFlag(v *viper.Viper) string {
	return v.GetString("sysfs.usb_root")
}

func addUSBRootFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("usb-root", sysfs.DefaultUSBRoot, "sysfs directory of all usb devices")
	_ = v.BindPFlag("sysfs.usb_root", flags.Lookup("usb-root"))
	_ = v.BindEnv("sysfs.usb_root", "SYSFSHELPER_USB_ROOT")
}

func classRootsFlag(v *viper.Viper) []string {
	return v.GetStringSlice("sysfs.class_roots")
}

func addClassRootsFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.StringSlice("class-root", sysfs.DefaultClassRoots, "sysfs class directories to scan for device nodes (repeatable)")
	_ = v.BindPFlag("sysfs.class_roots", flags.Lookup("class-root"))
	_ = v.BindEnv("sysfs.class_roots", "SYSFSHELPER_CLASS_ROOTS")
}

func devRootFlag(v *viper.Viper) string {
	return v.GetString("sysfs.dev_root")
}

func addDevRootFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("dev-root", sysfs.DefaultDevRoot, "directory of the device nodes")
	_ = v.BindPFlag("sysfs.dev_root", flags.Lookup("dev-root"))
	_ = v.BindEnv("sysfs.dev_root", "SYSFSHELPER_DEV_ROOT")
}

func usbIDsFlag(v *viper.Viper) []string {
	return v.GetStringSlice("sysfs.usb_ids")
}

func addUSBIDsFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.StringSlice("usb-ids", usbid.DefaultPaths, "usb.ids databases for vendor and product names, first readable wins")
	_ = v.BindPFlag("sysfs.usb_ids", flags.Lookup("usb-ids"))
	_ = v.BindEnv("sysfs.usb_ids", "SYSFSHELPER_USB_IDS")
}

// ------------------------------------------------------------------------------------------------
// ~ Server
// ------------------------------------------------------------------------------------------------

func addressFlag(v *viper.Viper) string {
	return v.GetString("address")
}

func addAddressFlag(flags *pflag.FlagSet, v *viper.Viper, value string) {
	flags.String("address", value, "Address to bind to (host:port)")
	_ = v.BindPFlag("address", flags.Lookup("address"))
	_ = v.BindEnv("address", "SYSFSHELPER_ADDRESS")
}

func socketAddressFlag(v *viper.Viper) string {
	return v.GetString("socket.address")
}

func addSocketAddressFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("socket-address", "", "Additionally serve the socket protocol on this address (host:port)")
	_ = v.BindPFlag("socket.address", flags.Lookup("socket-address"))
	_ = v.BindEnv("socket.address", "SYSFSHELPER_SOCKET_ADDRESS")
}

func basePathFlag(v *viper.Viper) string {
	return v.GetString("base_path")
}

func addBasePathFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("base-path", "/sysfshelper", "Base path to export the json rpc on")
	_ = v.BindPFlag("base_path", flags.Lookup("base-path"))
	_ = v.BindEnv("base_path", "SYSFSHELPER_BASE_PATH")
}

func restPathFlag(v *viper.Viper) string {
	return v.GetString("rest_path")
}

func addRESTPathFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("rest-path", "/api", "Base path to export the rest api on, empty disables it")
	_ = v.BindPFlag("rest_path", flags.Lookup("rest-path"))
	_ = v.BindEnv("rest_path", "SYSFSHELPER_REST_PATH")
}

func gzipLevelFlag(v *viper.Viper) int {
	return v.GetInt("gzip.level")
}

func addGzipLevelFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Int("gzip-level", 6, "Gzip compression level of http replies")
	_ = v.BindPFlag("gzip.level", flags.Lookup("gzip-level"))
	_ = v.BindEnv("gzip.level", "SYSFSHELPER_GZIP_LEVEL")
}

func pollFlag(v *viper.Viper) bool {
	return v.GetBool("poll.enabled")
}

func addPollFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("poll", true, "If true, sysfs will be rescanned periodically")
	_ = v.BindPFlag("poll.enabled", flags.Lookup("poll"))
	_ = v.BindEnv("poll.enabled", "SYSFSHELPER_POLL")
}

func pollIntervalFlag(v *viper.Viper) time.Duration {
	return v.GetDuration("poll.interval")
}

func addPollIntervalFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Duration("poll-interval", 10*time.Second, "Specifies the poll interval")
	_ = v.BindPFlag("poll.interval", flags.Lookup("poll-interval"))
	_ = v.BindEnv("poll.interval", "SYSFSHELPER_POLL_INTERVAL")
}

// ------------------------------------------------------------------------------------------------
// ~ History
// ------------------------------------------------------------------------------------------------

func historyDirFlag(v *viper.Viper) string {
	return v.GetString("history.dir")
}

func addHistoryDirFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("history-dir", "/var/lib/sysfshelper", "Where to put my data")
	_ = v.BindPFlag("history.dir", flags.Lookup("history-dir"))
	_ = v.BindEnv("history.dir", "SYSFSHELPER_HISTORY_DIR")
}

func historyLimitFlag(v *viper.Viper) int {
	return v.GetInt("history.limit")
}

func addHistoryLimitFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Int("history-limit", 2, "Number of history records to keep")
	_ = v.BindPFlag("history.limit", flags.Lookup("history-limit"))
	_ = v.BindEnv("history.limit", "SYSFSHELPER_HISTORY_LIMIT")
}

func storageTypeFlag(v *viper.Viper) string {
	return v.GetString("storage.type")
}

func addStorageTypeFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("storage-type", "filesystem", "History storage backend (filesystem, blob)")
	_ = v.BindPFlag("storage.type", flags.Lookup("storage-type"))
	_ = v.BindEnv("storage.type", "SYSFSHELPER_STORAGE_TYPE")
}

func storageBlobBucketFlag(v *viper.Viper) string {
	return v.GetString("storage.blob.bucket")
}

func addStorageBlobBucketFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("storage-blob-bucket", "", "Bucket url of the blob storage (gs://, file://, mem://)")
	_ = v.BindPFlag("storage.blob.bucket", flags.Lookup("storage-blob-bucket"))
	_ = v.BindEnv("storage.blob.bucket", "SYSFSHELPER_STORAGE_BLOB_BUCKET")
}

func storageBlobPrefixFlag(v *viper.Viper) string {
	return v.GetString("storage.blob.prefix")
}

func addStorageBlobPrefixFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("storage-blob-prefix", "", "Key prefix in the blob bucket, e.g. the host name")
	_ = v.BindPFlag("storage.blob.prefix", flags.Lookup("storage-blob-prefix"))
	_ = v.BindEnv("storage.blob.prefix", "SYSFSHELPER_STORAGE_BLOB_PREFIX")
}

// ------------------------------------------------------------------------------------------------
// ~ Service
// ------------------------------------------------------------------------------------------------

func gracefulPeriodFlag(v *viper.Viper) time.Duration {
	return v.GetDuration("graceful_period")
}

func addGracefulPeriodFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Duration("graceful-period", 0, "Graceful shutdown period")
	_ = v.BindPFlag("graceful_period", flags.Lookup("graceful-period"))
	_ = v.BindEnv("graceful_period", "SYSFSHELPER_GRACEFUL_PERIOD")
}

func serviceHealthzEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("service.healthz.enabled")
}

func addServiceHealthzEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("service-healthz-enabled", false, "Enable healthz service")
	_ = v.BindPFlag("service.healthz.enabled", flags.Lookup("service-healthz-enabled"))
}

func servicePrometheusEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("service.prometheus.enabled")
}

func addServicePrometheusEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("service-prometheus-enabled", false, "Enable prometheus service")
	_ = v.BindPFlag("service.prometheus.enabled", flags.Lookup("service-prometheus-enabled"))
}

func servicePProfEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("service.pprof.enabled")
}

func addServicePProfEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("service-pprof-enabled", false, "Enable pprof service")
	_ = v.BindPFlag("service.pprof.enabled", flags.Lookup("service-pprof-enabled"))
}

func otelEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("otel.enabled")
}

func addOtelEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("otel-enabled", false, "Enable otel service")
	_ = v.BindPFlag("otel.enabled", flags.Lookup("otel-enabled"))
	_ = v.BindEnv("otel.enabled", "OTEL_ENABLED")
}

// ------------------------------------------------------------------------------------------------
// ~ Client
// ------------------------------------------------------------------------------------------------

func serverFlag(v *viper.Viper) string {
	return v.GetString("server")
}

func addServerFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("server", "", "Query a running server instead of sysfs (http url or socket host:port)")
	_ = v.BindPFlag("server", flags.Lookup("server"))
	_ = v.BindEnv("server", "SYSFSHELPER_SERVER")
}

func outputFlag(v *viper.Viper) string {
	return v.GetString("output")
}

func addOutputFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.StringP("output", "o", "table", "Output format (table, json)")
	_ = v.BindPFlag("output", flags.Lookup("output"))
}
