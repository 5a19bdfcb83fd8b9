package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
)

type stepBody struct {
	Type string `json:"type" validate:"required"`
}

type sampleBody struct {
	Kind  enums.JobType `json:"kind" validate:"required,enum"`
	Steps []stepBody    `json:"steps" validate:"max=2,dive"`
}

func decode(t *testing.T, body string) (*sampleBody, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var dest sampleBody
	err := DecodeJSONBody(httptest.NewRecorder(), req, &dest)
	return &dest, err
}

func details(t *testing.T, err error) map[string]string {
	t.Helper()
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
	out, _ := typed.Details().(map[string]string)
	return out
}

func TestDecodeJSONBodyAcceptsValidInput(t *testing.T) {
	got, err := decode(t, `{"kind":"image","steps":[{"type":"notify"}]}`)
	require.NoError(t, err)
	require.Equal(t, enums.JobType("image"), got.Kind)
}

func TestDecodeJSONBodyReportsNestedFieldPaths(t *testing.T) {
	_, err := decode(t, `{"kind":"hologram","steps":[{"type":""}]}`)
	d := details(t, err)
	require.Equal(t, "is not a recognised value", d["kind"])
	require.Equal(t, "is required", d["steps[0].type"])
}

func TestDecodeJSONBodyRejectsMalformedBodies(t *testing.T) {
	for name, body := range map[string]string{
		"empty":         ``,
		"unknown field": `{"kind":"text","extra":1}`,
		"trailing data": `{"kind":"text"}{"kind":"text"}`,
		"wrong type":    `{"kind":7}`,
		"oversized":     `{"kind":"` + strings.Repeat("a", int(MaxBodyBytes)) + `"}`,
	} {
		_, err := decode(t, body)
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), name)
	}
}

func TestParsePage(t *testing.T) {
	limit, cursor, err := ParsePage(httptest.NewRequest(http.MethodGet, "/?cursor=+abc+", nil))
	require.NoError(t, err)
	require.Equal(t, 25, limit)
	require.Equal(t, "abc", cursor)

	_, _, err = ParsePage(httptest.NewRequest(http.MethodGet, "/?limit=500", nil))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, _, err = ParsePage(httptest.NewRequest(http.MethodGet, "/?limit=ten", nil))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryTimeNormalizesToUTC(t *testing.T) {
	at, err := ParseQueryTime(httptest.NewRequest(http.MethodGet, "/?from=2026-03-01T10:00:00%2B01:00", nil), "from")
	require.NoError(t, err)
	require.Equal(t, "2026-03-01T09:00:00Z", at.Format("2006-01-02T15:04:05Z07:00"))

	missing, err := ParseQueryTime(httptest.NewRequest(http.MethodGet, "/", nil), "from")
	require.NoError(t, err)
	require.Nil(t, missing)

	_, err = ParseQueryTime(httptest.NewRequest(http.MethodGet, "/?from=yesterday", nil), "from")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSanitizeStringKeepsRunesWhole(t *testing.T) {
	require.Equal(t, "héllo", SanitizeString("  héllo  ", 0))
	require.Equal(t, "né", SanitizeString("née", 2))
	require.Equal(t, "line one\nline two", SanitizeString("line one\x00\nline two\x07", 100))
	require.Equal(t, "ab", SanitizeString("ab \x01 ", 3))
}
