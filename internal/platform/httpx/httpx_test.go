package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: debit 10 credit 9", shared.NewError(shared.KindValidation, "unbalanced")), http.StatusUnprocessableEntity},
		{shared.NewError(shared.KindStateConflict, "overpayment"), http.StatusConflict},
		{shared.NewError(shared.KindReference, "account not found"), http.StatusUnprocessableEntity},
		{shared.NewError(shared.KindConcurrency, "conflict"), http.StatusConflict},
		{shared.ErrNotFound, http.StatusNotFound},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())

		var pd ProblemDetail
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&pd))
		require.Equal(t, tc.status, pd.Status)
		if tc.status == http.StatusInternalServerError {
			require.Empty(t, pd.Detail)
		}
	}
}

func TestRespondErrorSetsRetryAfterOnConcurrency(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, shared.NewError(shared.KindConcurrency, "retry"))
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","bogus":1}`))
	var target struct {
		Name string `json:"name"`
	}
	err := DecodeJSON(req, &target)
	require.ErrorIs(t, err, ErrBadRequest)
	require.Equal(t, http.StatusUnprocessableEntity, StatusFor(err))
}
