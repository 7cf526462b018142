package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[ServiceMode]bool
		wantErr bool
	}{
		{
			name:  "single service",
			input: "http",
			want:  map[ServiceMode]bool{ServiceModeHTTP: true},
		},
		{
			name:  "all services",
			input: "http,workers,reaper",
			want: map[ServiceMode]bool{
				ServiceModeHTTP:    true,
				ServiceModeWorkers: true,
				ServiceModeReaper:  true,
			},
		},
		{
			name:  "whitespace tolerated",
			input: " http , workers ",
			want: map[ServiceMode]bool{
				ServiceModeHTTP:    true,
				ServiceModeWorkers: true,
			},
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "invalid service",
			input:   "http,scheduler",
			wantErr: true,
		},
		{
			name:    "only commas",
			input:   ",,,",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWorkersConfig_Sanitize(t *testing.T) {
	t.Run("clamps bad values", func(t *testing.T) {
		w := WorkersConfig{
			Concurrency:           0,
			JobLease:              time.Second,
			HeartbeatInterval:     2 * time.Minute,
			PollInterval:          0,
			GenerateBatchSize:     -5,
			ValidateBatchSize:     0,
			ExportBatchSize:       0,
			GenerateAttemptFactor: 1,
		}
		w.Sanitize()
		assert.Equal(t, 1, w.Concurrency)
		assert.Equal(t, 5*time.Second, w.JobLease)
		assert.Less(t, w.HeartbeatInterval, w.JobLease)
		assert.Equal(t, time.Second, w.PollInterval)
		assert.Equal(t, 1, w.GenerateBatchSize)
		assert.Equal(t, 1, w.ValidateBatchSize)
		assert.Equal(t, 1, w.ExportBatchSize)
		assert.Equal(t, 2, w.GenerateAttemptFactor)
	})

	t.Run("keeps sane values", func(t *testing.T) {
		w := WorkersConfig{
			Concurrency:           8,
			JobLease:              time.Minute,
			HeartbeatInterval:     15 * time.Second,
			PollInterval:          5 * time.Second,
			GenerateBatchSize:     1000,
			ValidateBatchSize:     500,
			ExportBatchSize:       2000,
			GenerateAttemptFactor: 10,
		}
		w.Sanitize()
		assert.Equal(t, 8, w.Concurrency)
		assert.Equal(t, 15*time.Second, w.HeartbeatInterval)
	})
}

func TestDeliveryConfig_Sanitize(t *testing.T) {
	d := DeliveryConfig{}
	d.Sanitize()
	assert.Equal(t, []string{"default"}, d.Channels)
	assert.Equal(t, 10*time.Second, d.Timeout)
	assert.Equal(t, float64(1), d.ChannelRate)
	assert.Equal(t, 1, d.ChannelBurst)
	assert.Equal(t, 1, d.UnhealthyAfter)
	assert.Equal(t, 10*time.Second, d.RecoveryInterval)
}

func TestReaperConfig_Sanitize(t *testing.T) {
	r := ReaperConfig{Interval: time.Second, TerminalMaxAge: time.Minute, BatchSize: 100000}
	r.Sanitize()
	assert.Equal(t, 10*time.Second, r.Interval)
	assert.Equal(t, time.Hour, r.TerminalMaxAge)
	assert.Equal(t, 10000, r.BatchSize)
}

func TestStorageConfig_Sanitize(t *testing.T) {
	t.Run("s3 without bucket falls back to local", func(t *testing.T) {
		s := StorageConfig{Backend: StorageBackendS3, S3Bucket: "  "}
		s.Sanitize()
		assert.Equal(t, StorageBackendLocal, s.Backend)
		assert.Equal(t, "./exports", s.LocalDir)
	})

	t.Run("s3 with bucket kept", func(t *testing.T) {
		s := StorageConfig{Backend: StorageBackendS3, S3Bucket: "artifacts"}
		s.Sanitize()
		assert.Equal(t, StorageBackendS3, s.Backend)
	})

	t.Run("unknown backend falls back to local", func(t *testing.T) {
		s := StorageConfig{Backend: "ftp"}
		s.Sanitize()
		assert.Equal(t, StorageBackendLocal, s.Backend)
	})
}

func TestAppConfig_ServiceHelpers(t *testing.T) {
	c := &AppConfig{Services: "http,reaper"}
	assert.True(t, c.IsHTTPServerEnabled())
	assert.False(t, c.IsWorkersEnabled())
	assert.True(t, c.IsReaperEnabled())

	broken := &AppConfig{Services: "bogus"}
	assert.False(t, broken.IsHTTPServerEnabled())
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	c := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "   "}
	c.Sanitize()
	assert.False(t, c.Enabled)
	assert.False(t, c.IsEnabled())

	on := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "127.0.0.1:8125"}
	on.Sanitize()
	assert.True(t, on.IsEnabled())
}
