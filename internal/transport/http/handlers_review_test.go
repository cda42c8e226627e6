package httptransport

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/identity"
	identitystore "concord/internal/identity/store"
	"concord/internal/review"
	"concord/pkg/domain"
)

func newReviewRouter(t *testing.T) (*identitystore.MemorySubjectStore, *identitystore.MemoryLocalIdentifierStore, http.Handler) {
	t.Helper()
	subjects := identitystore.NewMemorySubjectStore()
	identifiers := identitystore.NewMemoryLocalIdentifierStore(subjects)
	service, err := review.NewService(subjects, testLogger(), nil)
	require.NoError(t, err)
	handler := NewReviewHandler(service, testLogger(), staticValidator{})
	return subjects, identifiers, NewRouter(testLogger(), nil, handler)
}

func flagSubject(t *testing.T, subjects *identitystore.MemorySubjectStore, identifiers *identitystore.MemoryLocalIdentifierStore) domain.GlobalID {
	t.Helper()
	globalID := domain.GenerateGlobalID()
	err := identifiers.Register(context.Background(),
		identity.Subject{GlobalID: globalID, CenterID: 1},
		identity.LocalIdentifier{CenterID: 1, LocalValue: "GAP-001", IDType: "consortium_id", GlobalID: globalID},
	)
	require.NoError(t, err)
	require.NoError(t, subjects.SetReviewFlag(context.Background(), globalID, true))
	return globalID
}

func TestReviewHandler(t *testing.T) {
	t.Run("lists flagged subjects", func(t *testing.T) {
		subjects, identifiers, router := newReviewRouter(t)
		globalID := flagSubject(t, subjects, identifiers)

		status, body := doJSON(t, router, http.MethodGet, "/review", "")

		assert.Equal(t, http.StatusOK, status)
		listed, ok := body["subjects"].([]any)
		require.True(t, ok)
		require.Len(t, listed, 1)
		first, ok := listed[0].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, globalID.String(), first["global_id"])
	})

	t.Run("resolve clears the flag", func(t *testing.T) {
		subjects, identifiers, router := newReviewRouter(t)
		globalID := flagSubject(t, subjects, identifiers)

		status, _ := doJSON(t, router, http.MethodPost, "/review/"+globalID.String()+"/resolve", "")
		assert.Equal(t, http.StatusNoContent, status)

		status, body := doJSON(t, router, http.MethodGet, "/review", "")
		assert.Equal(t, http.StatusOK, status)
		assert.Empty(t, body["subjects"])
	})

	t.Run("second resolve conflicts", func(t *testing.T) {
		subjects, identifiers, router := newReviewRouter(t)
		globalID := flagSubject(t, subjects, identifiers)

		status, _ := doJSON(t, router, http.MethodPost, "/review/"+globalID.String()+"/resolve", "")
		require.Equal(t, http.StatusNoContent, status)

		status, body := doJSON(t, router, http.MethodPost, "/review/"+globalID.String()+"/resolve", "")
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "conflict", body["error"])
	})

	t.Run("unknown subject is 404", func(t *testing.T) {
		_, _, router := newReviewRouter(t)

		status, _ := doJSON(t, router, http.MethodPost, "/review/"+domain.GenerateGlobalID().String()+"/resolve", "")
		assert.Equal(t, http.StatusNotFound, status)
	})
}
