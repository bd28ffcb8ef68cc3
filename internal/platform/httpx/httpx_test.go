package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type lessonForm struct {
	Lesson int64  `json:"lesson" validate:"required,gt=0"`
	Title  string `json:"title" validate:"required,max=5"`
}

func TestDecodeReportsJSONFieldNames(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"too long"}`))
	var form lessonForm
	err := Decode(req, &form)
	require.ErrorIs(t, err, ErrValidation)

	var fields FieldErrors
	require.ErrorAs(t, err, &fields)
	require.Equal(t, []string{"This field is required."}, fields["lesson"])
	require.Contains(t, fields["title"][0], "no more than 5")
}

func TestDecodeStrictBoundMessage(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"lesson":-1,"title":"ok"}`))
	var form lessonForm
	var fields FieldErrors
	require.ErrorAs(t, Decode(req, &form), &fields)
	require.Equal(t, []string{"Ensure this value is greater than 0."}, fields["lesson"])
	require.NotContains(t, fields, "title")
}

func TestDecodeMalformedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	var form lessonForm
	err := Decode(req, &form)
	var fields FieldErrors
	require.ErrorAs(t, err, &fields)
	require.Contains(t, fields, "non_field_errors")
}

func TestRespondErrorFieldErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("complete: %w", NewFieldError("lesson", "You have already completed this lesson.")))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body ValidationBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []string{"You have already completed this lesson."}, body.Errors["lesson"])
}

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrDuplicate, http.StatusConflict},
		{ErrForbidden, http.StatusForbidden},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrUnavailable, http.StatusServiceUnavailable},
		{&pgconn.PgError{Code: "55P03"}, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
	}

	rec := httptest.NewRecorder()
	RespondError(rec, ErrUnavailable)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
}
