package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaxledger/internal/child/service"
	"vaxledger/internal/child/store"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/tx"
	"vaxledger/pkg/testutil"
)

const parentAddress = "0x52908400098527886E0F7030069857D2E4169EE7"

type noDoses struct{}

func (noDoses) InitializeForChild(context.Context, id.ChildID, time.Time) (int, error) {
	return 0, nil
}

func newChildRouter(t *testing.T) http.Handler {
	t.Helper()
	svc := service.New(store.NewInMemory(), noDoses{}, &tx.LocalRunner{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	New(svc, logger).Register(r)
	return r
}

func TestRegisterAndGetChild(t *testing.T) {
	router := newChildRouter(t)

	testutil.Given(t, "a valid registration", func(t *testing.T) {
		rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/children", map[string]string{
			"name":           "Asha",
			"birth_date":     "2024-01-15",
			"parent_address": parentAddress,
		}))

		testutil.Then(t, "the child is created and readable", func(t *testing.T) {
			testutil.AssertStatus(t, rec, http.StatusCreated)
			created := testutil.UnmarshalResponse[ChildResponse](t, rec)
			assert.Equal(t, "2024-01-15", created.BirthDate)

			getRec := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/children/"+created.ID))
			testutil.AssertStatusOK(t, getRec)
			fetched := testutil.UnmarshalResponse[ChildResponse](t, getRec)
			require.Equal(t, created.ID, fetched.ID)
		})
	})
}

func TestRegisterChildValidation(t *testing.T) {
	router := newChildRouter(t)

	tests := []struct {
		name    string
		payload map[string]string
	}{
		{"missing name", map[string]string{"birth_date": "2024-01-15", "parent_address": parentAddress}},
		{"bad date", map[string]string{"name": "A", "birth_date": "15/01/2024", "parent_address": parentAddress}},
		{"bad address", map[string]string{"name": "A", "birth_date": "2024-01-15", "parent_address": "0x1234"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/children", tt.payload))
			testutil.AssertStatus(t, rec, http.StatusBadRequest)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		rec := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/children", "{"))
		testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, "bad_request")
	})
}

func TestGetUnknownChild(t *testing.T) {
	router := newChildRouter(t)

	testutil.When(t, "the child does not exist", func(t *testing.T) {
		rec := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/children/"+uuid.NewString()))
		testutil.AssertStatusAndError(t, rec, http.StatusNotFound, "not_found")
	})

	testutil.When(t, "the ID is not a UUID", func(t *testing.T) {
		rec := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/children/not-a-uuid"))
		testutil.AssertStatus(t, rec, http.StatusBadRequest)
	})
}
