package shipoxhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/DispatchBox/internal/integrations/gateway"
	"github.com/stretchr/testify/require"
)

func TestSubmitParcel_Success(t *testing.T) {
	var got parcelReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/parcels", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(parcelResp{Status: 200, TrackNumber: "SHX-778899"})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret-key")
	out, err := c.SubmitParcel(context.Background(), gateway.ParcelRequest{
		OrderID:   301,
		Weight:    1.5,
		CODAmount: 2400,
	})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, 200, out.StatusCode)
	require.Equal(t, "Success", out.Message)
	require.Equal(t, "SHX-778899", out.TrackNumber)

	require.Equal(t, "secret-key", got.APIKey)
	require.Equal(t, uint64(301), got.OrderID)
	require.Equal(t, 2400.0, got.CODAmount)
}

func TestSubmitParcel_BusinessRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(parcelResp{Status: 205})
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	out, err := c.SubmitParcel(context.Background(), gateway.ParcelRequest{OrderID: 1})
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, 205, out.StatusCode)
	require.Equal(t, "Invalid order id", out.Message)
}

func TestSubmitParcel_UnknownStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(parcelResp{Status: 999})
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	out, err := c.SubmitParcel(context.Background(), gateway.ParcelRequest{OrderID: 1})
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, "unknown gateway status 999", out.Message)
}

func TestSubmitParcel_ProviderMessagePassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(parcelResp{Status: 998, Message: "quota exhausted"})
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	out, err := c.SubmitParcel(context.Background(), gateway.ParcelRequest{OrderID: 1})
	require.NoError(t, err)
	require.Equal(t, "quota exhausted", out.Message)
}

func TestSubmitParcel_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	_, err := c.SubmitParcel(context.Background(), gateway.ParcelRequest{OrderID: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "gateway http 502")
}

func TestSubmitParcel_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // сервер уже мёртв

	c := New(srv.URL, "k")
	_, err := c.SubmitParcel(context.Background(), gateway.ParcelRequest{OrderID: 1})
	require.Error(t, err)
}
