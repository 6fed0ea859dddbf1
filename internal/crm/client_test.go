package crm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberportal/api/internal/member"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/", StaticToken("svc-token"))
}

func TestFetchSendsBearerAndDecodesEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/member/m%2F1/contact", r.URL.EscapedPath())
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"success":true,"data":{"mobilePhone":"5551234567"}}`)
	})

	env, err := client.Fetch(context.Background(), member.ID("m/1"), member.CategoryContact)
	require.NoError(t, err)

	assert.True(t, env.Success)
	assert.JSONEq(t, `{"mobilePhone":"5551234567"}`, string(env.Data))
	assert.False(t, env.Timestamp.IsZero())
}

func TestUpdatePutsJSONPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/member/m1/next-of-kin", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body, 1)
		_, _ = io.WriteString(w, `{"success":true}`)
	})

	payload := member.NextOfKin{Entries: []member.Kin{{Relationship: "Sister"}}}
	_, err := client.Update(context.Background(), "m1", member.CategoryNextOfKin, payload)
	require.NoError(t, err)
}

func TestUnsuccessfulEnvelopeIsServiceError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"error":"record locked"}`)
	})

	_, err := client.Fetch(context.Background(), "m1", member.CategoryMedical)

	var serviceErr *ServiceError
	require.True(t, errors.As(err, &serviceErr))
	assert.Equal(t, "record locked", serviceErr.Message)
}

func TestStatusCodesMapToErrors(t *testing.T) {
	respondWith := func(status int) *Client {
		return newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"success":false,"error":"nope"}`)
		})
	}

	_, err := respondWith(http.StatusUnauthorized).Fetch(context.Background(), "m1", member.CategoryLegal)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = respondWith(http.StatusBadGateway).Fetch(context.Background(), "m1", member.CategoryLegal)
	var serviceErr *ServiceError
	require.True(t, errors.As(err, &serviceErr))
	assert.Equal(t, http.StatusBadGateway, serviceErr.Status)
	assert.Equal(t, "nope", serviceErr.Message)
}

func TestTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	client := NewClient(server.URL, StaticToken("svc-token"))

	_, err := client.Fetch(context.Background(), "m1", member.CategoryPersonal)

	var transportErr *TransportError
	assert.True(t, errors.As(err, &transportErr))
}

func TestMissingTokenFailsBeforeNetwork(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer server.Close()
	client := NewClient(server.URL, StaticToken(""))

	_, err := client.Fetch(context.Background(), "m1", member.CategoryPersonal)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, called)
}

func TestClassifyAcceptsBareAndWrappedBodies(t *testing.T) {
	respondWith := func(body string) *Client {
		return newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/member/m1/category", r.URL.Path)
			_, _ = io.WriteString(w, body)
		})
	}

	got, err := respondWith(`{"category":"Applicant","details":{"since":"2021"}}`).Classify(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, member.TierApplicant, got.Category)
	assert.Equal(t, "2021", got.Details["since"])

	got, err = respondWith(`{"success":true,"data":{"category":"Full Member"}}`).Classify(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, member.TierMember, got.Category)

	_, err = respondWith(`{"success":false,"error":"unknown member"}`).Classify(context.Background(), "m1")
	assert.Error(t, err)

	_, err = respondWith(`{"details":{}}`).Classify(context.Background(), "m1")
	assert.Error(t, err)
}
