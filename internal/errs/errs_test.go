package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := CapacityFull("role %s is full", "r-1")
	require.Equal(t, KindCapacityFull, KindOf(err))
	require.Equal(t, "role r-1 is full", err.Error())

	wrapped := fmt.Errorf("signup: %w", err)
	require.Equal(t, KindCapacityFull, KindOf(wrapped))
	require.True(t, IsKind(wrapped, KindCapacityFull))
	require.False(t, IsKind(wrapped, KindDuplicate))
}

func TestKindOfPlainError(t *testing.T) {
	require.Equal(t, Kind(""), KindOf(errors.New("boom")))
	require.Equal(t, Kind(""), KindOf(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("write conflict")
	err := Wrap(KindDuplicate, cause, "registration exists")
	require.ErrorIs(t, err, cause)
	require.Equal(t, KindDuplicate, KindOf(err))
}

func TestErrorIsMatchesOnKind(t *testing.T) {
	a := NotFound("event e-1 not found")
	b := NotFound("role r-9 not found")
	require.ErrorIs(t, a, b)
	require.NotErrorIs(t, a, Forbidden("nope"))
}

func TestWithDetails(t *testing.T) {
	err := Conflict("overlaps 2 events").WithDetails(map[string]any{"conflicts": []string{"e-1", "e-2"}})
	require.Equal(t, []string{"e-1", "e-2"}, DetailsOf(err)["conflicts"])
	require.Nil(t, DetailsOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[int]error{
		http.StatusBadRequest:          Validation("bad id"),
		http.StatusUnauthorized:        Unauthorized("no actor"),
		http.StatusForbidden:           Forbidden("not an organizer"),
		http.StatusNotFound:            NotFound("missing"),
		http.StatusConflict:            Duplicate("exists"),
		http.StatusServiceUnavailable:  Unavailable("lock timeout"),
		http.StatusInternalServerError: errors.New("unclassified"),
	}
	for want, err := range cases {
		require.Equal(t, want, HTTPStatus(err), "err=%v", err)
	}
	require.Equal(t, http.StatusConflict, HTTPStatus(QuotaExceeded("cap")))
	require.Equal(t, http.StatusConflict, HTTPStatus(CapacityBelowUsage("below")))
	require.Equal(t, http.StatusConflict, HTTPStatus(RoleHasRegistrants("has")))
	require.Equal(t, http.StatusConflict, HTTPStatus(Conflict("overlap")))
	require.Equal(t, http.StatusConflict, HTTPStatus(CapacityFull("full")))
	require.Equal(t, http.StatusBadRequest, HTTPStatus(InvalidState("completed")))
}
