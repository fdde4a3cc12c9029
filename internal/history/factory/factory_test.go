package factory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthis-k/uniq-proc/internal/history"
)

func TestFactoryDSNTypes(t *testing.T) {
	tests := []struct {
		name        string
		dsn         string
		expectError bool
	}{
		{"Invalid scheme", "invalid://test", true},
		{"SQLite file DSN", "sqlite://" + filepath.Join(t.TempDir(), "history.db"), false},
		{"SQLite memory DSN", "sqlite://:memory:", false},
		{"Bare path DSN", filepath.Join(t.TempDir(), "bare.db"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSinkFromDSN(tt.dsn)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, sink)
			_ = sink.Close()
		})
	}
}

func TestEmptyDSNIsNop(t *testing.T) {
	sink, err := NewSinkFromDSN("  ")
	require.NoError(t, err)
	assert.IsType(t, history.Nop{}, sink)
}

func TestParseClickHouseDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		addr string
		db   string
		user string
		pass string
		tbl  string
	}{
		{"defaults", "clickhouse://", "localhost:9000", "", "", "", "command_history"},
		{"host and table", "clickhouse://ch:9440?table=events", "ch:9440", "", "", "", "events"},
		{"full", "clickhouse://bob:secret@ch:9000/metrics?table=hist", "ch:9000", "metrics", "bob", "secret", "hist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := ParseClickHouseDSN(tt.dsn)
			require.NoError(t, err)
			assert.Equal(t, tt.addr, opts.Addr)
			assert.Equal(t, tt.db, opts.Database)
			assert.Equal(t, tt.user, opts.Username)
			assert.Equal(t, tt.pass, opts.Password)
			assert.Equal(t, tt.tbl, opts.Table)
		})
	}
}
