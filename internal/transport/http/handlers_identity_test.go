package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"concord/internal/identity"
	"concord/internal/platform/middleware"
	"concord/internal/refdata"
	"concord/internal/transport/http/mocks"
	"concord/pkg/domain"
	domainerrors "concord/pkg/domain-errors"
)

//go:generate mockgen -source=handlers_identity.go -destination=mocks/identity-mocks.go -package=mocks IdentityService,ReferenceResolver

// staticValidator accepts the fixed test token and nothing else.
type staticValidator struct{}

func (staticValidator) ValidateToken(token string) (*middleware.JWTClaims, error) {
	if token != "test-token" {
		return nil, errors.New("unknown token")
	}
	return &middleware.JWTClaims{ActorID: "operator-1", Role: "loader"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newIdentityRouter(t *testing.T) (*mocks.MockIdentityService, *mocks.MockReferenceResolver, http.Handler) {
	t.Helper()
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockIdentityService(ctrl)
	centers := mocks.NewMockReferenceResolver(ctrl)
	handler := NewIdentityHandler(svc, centers, testLogger(), staticValidator{})
	return svc, centers, NewRouter(testLogger(), nil, handler)
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec.Code, decoded
}

func TestIdentityHandler_Resolve(t *testing.T) {
	mayo := refdata.Match{Center: refdata.Center{ID: 7, Name: "Mayo Clinic"}, Kind: refdata.MatchExact, Score: 1}

	t.Run("resolves and returns the global id", func(t *testing.T) {
		svc, centers, router := newIdentityRouter(t)
		globalID := domain.GenerateGlobalID()

		centers.EXPECT().Resolve(gomock.Any(), "Mayo Clinic").Return(mayo, nil)
		svc.EXPECT().Resolve(gomock.Any(), identity.ResolveRequest{
			CenterID:   7,
			LocalValue: "GAP-001",
			IDType:     "consortium_id",
		}).Return(identity.Resolution{GlobalID: globalID, Strategy: identity.StrategyCreateNew, Confidence: 1}, nil)

		status, body := doJSON(t, router, http.MethodPost, "/identity/resolve",
			`{"center":"Mayo Clinic","local_id":"GAP-001","id_type":"consortium_id"}`)

		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, globalID.String(), body["global_id"])
		assert.Equal(t, "create_new", body["strategy"])
		assert.Equal(t, float64(7), body["center_id"])
	})

	t.Run("conflict surfaces requires_review with no global id", func(t *testing.T) {
		svc, centers, router := newIdentityRouter(t)

		centers.EXPECT().Resolve(gomock.Any(), "Mayo Clinic").Return(mayo, nil)
		svc.EXPECT().Resolve(gomock.Any(), gomock.Any()).
			Return(identity.Resolution{Strategy: identity.StrategyConflict, RequiresReview: true}, nil)

		status, body := doJSON(t, router, http.MethodPost, "/identity/resolve",
			`{"center":"Mayo Clinic","local_id":"GAP-001","id_type":"consortium_id","expected_global_id":"`+domain.GenerateGlobalID().String()+`"}`)

		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "conflict", body["strategy"])
		assert.Equal(t, true, body["requires_review"])
		_, hasGlobalID := body["global_id"]
		assert.False(t, hasGlobalID)
	})

	t.Run("rejects malformed body without calling services", func(t *testing.T) {
		svc, centers, router := newIdentityRouter(t)
		centers.EXPECT().Resolve(gomock.Any(), gomock.Any()).Times(0)
		svc.EXPECT().Resolve(gomock.Any(), gomock.Any()).Times(0)

		status, body := doJSON(t, router, http.MethodPost, "/identity/resolve", "{bad-json")

		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, string(domainerrors.CodeBadRequest), body["error"])
	})

	t.Run("propagates invalid input errors from the service", func(t *testing.T) {
		svc, centers, router := newIdentityRouter(t)
		centers.EXPECT().Resolve(gomock.Any(), gomock.Any()).Return(mayo, nil)
		svc.EXPECT().Resolve(gomock.Any(), gomock.Any()).
			Return(identity.Resolution{}, domainerrors.New(domainerrors.CodeInvalidInput, "local identifier value is required"))

		status, body := doJSON(t, router, http.MethodPost, "/identity/resolve",
			`{"center":"Mayo Clinic","local_id":"","id_type":"consortium_id"}`)

		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, string(domainerrors.CodeInvalidInput), body["error"])
	})

	t.Run("requires a bearer token", func(t *testing.T) {
		_, _, router := newIdentityRouter(t)

		req := httptest.NewRequest(http.MethodPost, "/identity/resolve", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestIdentityHandler_Withdraw(t *testing.T) {
	t.Run("withdraws by global id", func(t *testing.T) {
		svc, _, router := newIdentityRouter(t)
		globalID := domain.GenerateGlobalID()
		svc.EXPECT().Withdraw(gomock.Any(), globalID).Return(nil)

		status, _ := doJSON(t, router, http.MethodPost, "/identity/"+globalID.String()+"/withdraw", "")
		assert.Equal(t, http.StatusNoContent, status)
	})

	t.Run("rejects malformed global id", func(t *testing.T) {
		svc, _, router := newIdentityRouter(t)
		svc.EXPECT().Withdraw(gomock.Any(), gomock.Any()).Times(0)

		status, body := doJSON(t, router, http.MethodPost, "/identity/not-a-global-id/withdraw", "")
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, string(domainerrors.CodeBadRequest), body["error"])
	})
}

func TestIdentityHandler_History(t *testing.T) {
	svc, _, router := newIdentityRouter(t)
	globalID := domain.GenerateGlobalID()
	svc.EXPECT().History(gomock.Any(), domain.CenterID(7), "GAP-001", domain.IdentifierType("consortium_id")).
		Return([]identity.ResolutionRecord{{GlobalID: &globalID, Strategy: identity.StrategyExact}}, nil)

	status, body := doJSON(t, router, http.MethodGet, "/identity/history?center_id=7&local_id=GAP-001&id_type=consortium_id", "")

	assert.Equal(t, http.StatusOK, status)
	records, ok := body["records"].([]any)
	require.True(t, ok)
	assert.Len(t, records, 1)
}
