package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/roster/internal/config"
)

func TestPoolConfig(t *testing.T) {
	cfg := config.DatabaseConfig{
		URL:             "postgres://u:p@localhost:5432/roster?sslmode=disable",
		MaxConns:        7,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute,
	}

	pc, err := PoolConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(7), pc.MaxConns)
	assert.Equal(t, int32(1), pc.MinConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
	assert.Equal(t, time.Minute, pc.MaxConnIdleTime)
	assert.Equal(t, "roster", pc.ConnConfig.Database)
}

func TestPoolConfig_InvalidURL(t *testing.T) {
	_, err := PoolConfig(config.DatabaseConfig{URL: "postgres://u:p@localhost:notaport/db"})
	assert.Error(t, err)
}

func TestName(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://u:p@localhost/roster", "roster"},
		{"postgres://localhost:5432/members?sslmode=disable", "members"},
		{"host=localhost dbname=roster", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Name(tt.dsn), tt.dsn)
	}
}
