package handler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/models"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

func TestResolveFormat(t *testing.T) {
	current := models.RequestScope{APIVersion: 3}
	legacy := models.RequestScope{APIVersion: 2}

	format, err := resolveFormat(current, "", models.ObjectItem)
	require.NoError(t, err)
	assert.Equal(t, dto.FormatJSON, format)

	format, err = resolveFormat(legacy, "", models.ObjectCollection)
	require.NoError(t, err)
	assert.Equal(t, dto.FormatAtom, format)

	format, err = resolveFormat(current, "ris", models.ObjectItem)
	require.NoError(t, err)
	assert.Equal(t, dto.FormatRIS, format)

	_, err = resolveFormat(current, "bibtex", models.ObjectSearch)
	assert.Equal(t, "Invalid 'format' value 'bibtex'", appErrors.FromError(err).Message)

	_, err = resolveFormat(current, "yaml", models.ObjectItem)
	assert.Equal(t, 400, appErrors.FromError(err).Status)
}

func TestPaginationLinks(t *testing.T) {
	u, err := url.Parse("/users/1/items?format=keys&key=secret&start=4")
	require.NoError(t, err)

	link := paginationLinks("https://api.example.org", u, 4, 2, 7)
	assert.Equal(t,
		`<https://api.example.org/users/1/items?format=keys&limit=2>; rel="first", `+
			`<https://api.example.org/users/1/items?format=keys&limit=2&start=2>; rel="prev", `+
			`<https://api.example.org/users/1/items?format=keys&limit=2&start=6>; rel="next", `+
			`<https://api.example.org/users/1/items?format=keys&limit=2&start=6>; rel="last"`,
		link)

	link = paginationLinks("https://api.example.org", u, 0, 2, 6)
	assert.Equal(t,
		`<https://api.example.org/users/1/items?format=keys&limit=2&start=2>; rel="next", `+
			`<https://api.example.org/users/1/items?format=keys&limit=2&start=4>; rel="last"`,
		link)

	link = paginationLinks("https://api.example.org", u, 4, 2, 6)
	assert.Equal(t,
		`<https://api.example.org/users/1/items?format=keys&limit=2>; rel="first", `+
			`<https://api.example.org/users/1/items?format=keys&limit=2&start=2>; rel="prev", `+
			`<https://api.example.org/users/1/items?format=keys&limit=2&start=4>; rel="last"`,
		link)

	assert.Empty(t, paginationLinks("https://api.example.org", u, 0, 25, 3))
	assert.Empty(t, paginationLinks("https://api.example.org", u, 0, 0, 300))
}

func TestSelfURLDropsKey(t *testing.T) {
	u, err := url.Parse("/users/1/items?key=secret")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.org/users/1/items", selfURL("https://api.example.org", u))

	u, err = url.Parse("/users/1/items?key=secret&format=atom")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.org/users/1/items?format=atom", selfURL("https://api.example.org", u))
}
