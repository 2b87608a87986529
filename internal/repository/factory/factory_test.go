package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/tagsoup/internal/config"
	"github.com/prn-tf/tagsoup/internal/domain"
)

func TestFactory_CreateSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "nested", "index.db"),
	}

	f := NewFactory(cfg, zerolog.Nop())
	assert.Equal(t, "sqlite", f.Driver())
	assert.True(t, f.IsEmbedded())

	res, err := f.Create(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { res.Database.Close() })

	status, err := res.Migrator.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Current)
	assert.NotEmpty(t, status.Pending)

	require.NoError(t, res.Migrator.Migrate(ctx))
	require.NoError(t, res.Database.Health(ctx))

	_, err = res.Objects.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrObjectNotFound)
}

func TestFactory_UnknownDriver(t *testing.T) {
	f := NewFactory(config.DatabaseConfig{Driver: "mysql"}, zerolog.Nop())
	_, err := f.Create(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql")
}
