package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDBName(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		db   string
		want string
	}{
		{
			name: "replaces path",
			dsn:  "postgres://user:pw@db:5432/postgres?sslmode=disable",
			db:   "gtfs_madrid_20250101",
			want: "postgres://user:pw@db:5432/gtfs_madrid_20250101?sslmode=disable",
		},
		{
			name: "postgresql scheme",
			dsn:  "postgresql://db/postgres",
			db:   "/other",
			want: "postgresql://db/other",
		},
		{
			name: "missing scheme",
			dsn:  "db/postgres",
			db:   "gtfs",
			want: "postgres://db/gtfs",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WithDBName(tt.dsn, tt.db)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWithDBName_Empty(t *testing.T) {
	_, err := WithDBName("", "gtfs")
	assert.Error(t, err)
}

func TestDBName(t *testing.T) {
	assert.Equal(t, "gtfs_bilbao", DBName("postgres://u@h:5432/gtfs_bilbao?sslmode=disable"))
	assert.Equal(t, "gtfs", DBName("db/gtfs"))
	assert.Equal(t, "", DBName("postgres://u@h:5432"))
	assert.Equal(t, "", DBName(""))
}

func TestWithDBName_RoundTrip(t *testing.T) {
	dsn, err := WithDBName("postgres://planner:secret@db:5432/postgres?sslmode=require", "gtfs_madrid_20250301")
	require.NoError(t, err)
	assert.Equal(t, "gtfs_madrid_20250301", DBName(dsn))
	assert.Contains(t, dsn, "planner:secret@db:5432")
	assert.Contains(t, dsn, "sslmode=require")
}

func TestLatestCityDatabase_RequiresCity(t *testing.T) {
	_, err := LatestCityDatabase(context.Background(), nil, "  ")
	assert.EqualError(t, err, "city is required")
}
