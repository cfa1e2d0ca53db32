package cmd

import (
	"testing"

	"github.com/foomo/sysfshelper/pkg/repo"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCreateStorage(t *testing.T) {
	l := zaptest.NewLogger(t)

	tests := []struct {
		name    string
		config  map[string]interface{}
		wantErr bool
		check   func(t *testing.T, s repo.Storage)
	}{
		{
			name:   "filesystem",
			config: map[string]interface{}{"history.dir": t.TempDir()},
			check: func(t *testing.T, s repo.Storage) {
				t.Helper()
				assert.IsType(t, &repo.FilesystemStorage{}, s)
			},
		},
		{
			name:   "memory blob",
			config: map[string]interface{}{"storage.type": "blob", "storage.blob.bucket": "mem://", "storage.blob.prefix": "host-a"},
			check: func(t *testing.T, s repo.Storage) {
				t.Helper()
				assert.IsType(t, &repo.BlobStorage{}, s)
				require.NoError(t, s.Write(t.Context(), "k.json", []byte("{}")))
				keys, err := s.List(t.Context(), "")
				require.NoError(t, err)
				assert.Equal(t, []string{"k.json"}, keys)
			},
		},
		{
			name:    "blob without bucket",
			config:  map[string]interface{}{"storage.type": "blob"},
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			config:  map[string]interface{}{"storage.type": "blob", "storage.blob.bucket": "s3://bucket"},
			wantErr: true,
		},
		{
			name:    "unknown type",
			config:  map[string]interface{}{"storage.type": "tape"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			for key, value := range tt.config {
				v.Set(key, value)
			}
			s, err := createStorage(t.Context(), v, l)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() {
				_ = s.Close()
			})
			tt.check(t, s)
		})
	}
}

func TestDetectBlobProvider(t *testing.T) {
	assert.Equal(t, "Google Cloud Storage", detectBlobProvider("gs://bucket"))
	assert.Equal(t, "Local directory", detectBlobProvider("file:///tmp/x"))
	assert.Equal(t, "In-memory", detectBlobProvider("mem://"))
	assert.Equal(t, "unknown", detectBlobProvider("s3://bucket"))
}
