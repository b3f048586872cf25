package roomcatalog_test

import (
	"testing"

	"github.com/contenox/relay/roomcatalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnit_CatalogKeepsConfiguredOrder(t *testing.T) {
	catalog, err := roomcatalog.New([]string{"general", "random", "tech"})
	require.NoError(t, err)

	assert.Equal(t, []string{"general", "random", "tech"}, catalog.List())
}

func TestUnit_CatalogTrimsAndDedupes(t *testing.T) {
	catalog, err := roomcatalog.New([]string{" general ", "", "random", "general"})
	require.NoError(t, err)

	assert.Equal(t, []string{"general", "random"}, catalog.List())
}

func TestUnit_CatalogRejectsEmpty(t *testing.T) {
	_, err := roomcatalog.New([]string{"", "   "})
	assert.ErrorIs(t, err, roomcatalog.ErrEmptyCatalog)
}

func TestUnit_CatalogValid(t *testing.T) {
	catalog, err := roomcatalog.New([]string{"general"})
	require.NoError(t, err)

	assert.True(t, catalog.Valid("general"))
	assert.False(t, catalog.Valid("General"))
	assert.False(t, catalog.Valid("lounge"))
}

func TestUnit_CatalogRequire(t *testing.T) {
	catalog, err := roomcatalog.New([]string{"general"})
	require.NoError(t, err)

	require.NoError(t, catalog.Require("general"))
	assert.ErrorIs(t, catalog.Require("lounge"), roomcatalog.ErrUnknownRoom)
}

func TestUnit_ParseList(t *testing.T) {
	assert.Equal(t, []string{"general", "random", "tech"}, roomcatalog.ParseList("general, random ,tech"))
	assert.Empty(t, roomcatalog.ParseList(" , ,"))
}
