package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsValidate(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantErr bool
	}{
		{"username password", Credentials{Username: "u", Password: "p"}, false},
		{"session token", Credentials{SessionToken: "tok"}, false},
		{"personal token", Credentials{PersonalToken: "key"}, false},
		{"nothing", Credentials{}, true},
		{"two modes", Credentials{Username: "u", Password: "p", PersonalToken: "key"}, true},
		{"username without password", Credentials{Username: "u"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSessionLoginAndHeader(t *testing.T) {
	var sawLogin bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/session":
			sawLogin = true
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "admin", body["username"])
			fmt.Fprint(w, `{"id": "session-123"}`)
		case "/api/card/7":
			assert.Equal(t, "session-123", r.Header.Get("X-Metabase-Session"))
			fmt.Fprint(w, `{"id": 7, "name": "Q"}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, Credentials{Username: "admin", Password: "secret"}, nil)
	require.NoError(t, err)

	card, err := c.GetCard(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, sawLogin)
	assert.Equal(t, "Q", card["name"])
}

func TestPersonalTokenHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEqual(t, "/api/session", r.URL.Path, "personal token must not log in")
		assert.Equal(t, "key-abc", r.Header.Get("X-Api-Key"))
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c, err := New(srv.URL, Credentials{PersonalToken: "key-abc"}, nil)
	require.NoError(t, err)
	_, err = c.GetDatabases(context.Background())
	require.NoError(t, err)
}

func TestRetryOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"id": 1}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL, Credentials{SessionToken: "tok"}, nil)
	require.NoError(t, err)

	card, err := c.GetCard(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, float64(1), card["id"])
}

func TestNoRetryOnClientError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not found."}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL, Credentials{SessionToken: "tok"}, nil)
	require.NoError(t, err)

	_, err = c.GetCard(context.Background(), 99)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.False(t, apiErr.Transient())
}

func TestGetCollectionItemsPaginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/collection/5/items", r.URL.Path)
		offset := r.URL.Query().Get("offset")
		switch offset {
		case "0":
			items := make([]map[string]interface{}, collectionItemsPageSize)
			for i := range items {
				items[i] = map[string]interface{}{"id": i}
			}
			require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
				"data": items, "total": collectionItemsPageSize + 1,
			}))
		case "100":
			require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
				"data":  []map[string]interface{}{{"id": 100}},
				"total": collectionItemsPageSize + 1,
			}))
		default:
			t.Fatalf("unexpected offset %s", offset)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, Credentials{SessionToken: "tok"}, nil)
	require.NoError(t, err)

	items, err := c.GetCollectionItems(context.Background(), "5", []string{"card"}, false)
	require.NoError(t, err)
	assert.Len(t, items, collectionItemsPageSize+1)
}

func TestGetDatabasesWrappedAndBare(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bare array", `[{"id": 1, "name": "DB"}]`},
		{"wrapped", `{"data": [{"id": 1, "name": "DB"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c, err := New(srv.URL, Credentials{SessionToken: "tok"}, nil)
			require.NoError(t, err)
			dbs, err := c.GetDatabases(context.Background())
			require.NoError(t, err)
			require.Len(t, dbs, 1)
			assert.Equal(t, "DB", dbs[0]["name"])
		})
	}
}
