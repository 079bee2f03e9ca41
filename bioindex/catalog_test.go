package bioindex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_LookupBeforeRefresh(t *testing.T) {
	c := NewCatalog(&fakeCatalogSource{})

	_, err := c.Lookup("genes")
	assert.ErrorIs(t, err, ErrIndexNotFound)
	assert.Nil(t, c.Indexes())
}

func TestCatalog_RefreshAndLookup(t *testing.T) {
	src := &fakeCatalogSource{indexes: []Index{
		testIndex("variants", "varId"),
		testIndex("genes", "gene"),
	}}
	c := NewCatalog(src)
	require.NoError(t, c.Refresh(context.Background()))

	idx, err := c.Lookup("genes")
	require.NoError(t, err)
	assert.Equal(t, "genes", idx.Name)

	_, err = c.Lookup("nope")
	assert.ErrorIs(t, err, ErrIndexNotFound)

	names := make([]string, 0)
	for _, idx := range c.Indexes() {
		names = append(names, idx.Name)
	}
	assert.Equal(t, []string{"genes", "variants"}, names, "indexes sorted by name")
}

func TestCatalog_RefreshSwapsWholesale(t *testing.T) {
	src := &fakeCatalogSource{indexes: []Index{testIndex("genes", "gene")}}
	c := NewCatalog(src)
	require.NoError(t, c.Refresh(context.Background()))

	src.indexes = []Index{testIndex("variants", "varId")}
	require.NoError(t, c.Refresh(context.Background()))

	_, err := c.Lookup("genes")
	assert.ErrorIs(t, err, ErrIndexNotFound, "old snapshot fully replaced")
	_, err = c.Lookup("variants")
	assert.NoError(t, err)
}

func TestCatalog_RefreshFailureKeepsSnapshot(t *testing.T) {
	src := &fakeCatalogSource{indexes: []Index{testIndex("genes", "gene")}}
	c := NewCatalog(src)
	require.NoError(t, c.Refresh(context.Background()))

	src.err = errors.New("db down")
	require.Error(t, c.Refresh(context.Background()))

	_, err := c.Lookup("genes")
	assert.NoError(t, err, "failed refresh leaves the prior snapshot intact")
}
