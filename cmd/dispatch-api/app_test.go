package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/services/dispatch"
	"github.com/BearBump/DispatchBox/internal/storage/pgdispatch"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct{}

func (r *fakeRepo) Begin(ctx context.Context) (dispatch.Tx, error) {
	return nil, pgdispatch.ErrOrderNotFound
}
func (r *fakeRepo) GetCourier(ctx context.Context, courierID uint64) (*models.Courier, error) {
	return nil, pgdispatch.ErrCourierNotFound
}
func (r *fakeRepo) GetOrder(ctx context.Context, orderID uint64) (*models.Order, error) {
	return nil, pgdispatch.ErrOrderNotFound
}
func (r *fakeRepo) GetOrderLines(ctx context.Context, orderID uint64) ([]*models.OrderLine, error) {
	return nil, nil
}
func (r *fakeRepo) SelectUnusedIdentifiers(ctx context.Context, courierID uint64, count int) ([]*models.TrackingIdentifier, error) {
	return nil, nil
}
func (r *fakeRepo) CountIdentifiers(ctx context.Context, courierID uint64) (int64, int64, error) {
	return 0, 0, nil
}
func (r *fakeRepo) SeedIdentifiers(ctx context.Context, courierID uint64, trackNumbers []string) (int64, error) {
	return 0, nil
}
func (r *fakeRepo) AppendAudit(ctx context.Context, e models.AuditEntry) error { return nil }
func (r *fakeRepo) ListAudit(ctx context.Context, orderID uint64, limit, offset int) ([]*models.AuditEntry, error) {
	return nil, nil
}

type fakeConsumer struct{}

func (c fakeConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunDispatchAPI_SwaggerServed(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	svc := dispatch.New(&fakeRepo{}, nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := dispatchAPIOpts{
		httpAddr:      "127.0.0.1:0",
		swaggerPath:   sw,
		importTopic:   "tracking.imported",
		consumerGroup: "dispatchbox",
		onListen:      func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runDispatchAPI(ctx, opts, svc, fakeConsumer{})
	}()

	httpAddr := <-addrCh

	resp, err := http.Get("http://" + httpAddr + "/swagger.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), "\"swagger\"")

	resp2, err := http.Get("http://" + httpAddr + "/healthz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, 200, resp2.StatusCode)

	// API отвечает 404, а не падает: хранилище пустое.
	resp3, err := http.Get("http://" + httpAddr + "/api/orders/1")
	require.NoError(t, err)
	defer resp3.Body.Close()
	require.Equal(t, 404, resp3.StatusCode)

	cancel()
	require.Error(t, <-errCh)
}

func TestRunDispatchAPI_MissingSwagger(t *testing.T) {
	svc := dispatch.New(&fakeRepo{}, nil, time.Minute)

	err := runDispatchAPI(context.Background(), dispatchAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: "/nonexistent/swagger.json",
	}, svc, fakeConsumer{})
	require.Error(t, err)
}
