package routes

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/stp258/serp/internal/config"
	"github.com/stp258/serp/internal/logging"
)

func devDeps() Deps {
	stabilizer := config.DefaultStabilizer()
	stabilizer.SerpQuoteMultiple = 1
	stabilizer.Genesis = []config.GenesisConfig{
		{Currency: "SETTUSD", Account: "alice", Free: 300_000},
		{Currency: "SETTUSD", Account: "serper", Reserved: 100_000},
		{Currency: "DNAR", Account: "alice", Free: 200_000},
		{Currency: "DNAR", Account: "serper", Reserved: 200_000},
	}
	return Deps{
		Cfg:        config.Config{AppEnv: "development", OperatorRateLimit: 100},
		Stabilizer: stabilizer,
		Logger:     logging.Discard(),
	}
}

func send(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	decoded := map[string]any{}
	if strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("invalid json %s: %v", payload, err)
		}
	}
	return resp.StatusCode, decoded
}

func TestSetupRequiresBackendsOutsideDev(t *testing.T) {
	d := devDeps()
	d.Cfg.AppEnv = "production"
	if err := Setup(fiber.New(), d); err == nil {
		t.Fatal("expected error without database")
	}
}

func TestExpandFlowInDevelopment(t *testing.T) {
	app := fiber.New()
	if err := Setup(app, devDeps()); err != nil {
		t.Fatalf("setup: %v", err)
	}

	status, _ := send(t, app, fiber.MethodPost, "/api/v1/feed/DNAR", `{"price":"1.5"}`, nil)
	if status != fiber.StatusAccepted {
		t.Fatalf("observe native: expected 202 got %d", status)
	}
	status, _ = send(t, app, fiber.MethodPost, "/api/v1/feed/SETTUSD", `{"price":"1"}`, nil)
	if status != fiber.StatusAccepted {
		t.Fatalf("observe currency: expected 202 got %d", status)
	}

	status, body := send(t, app, fiber.MethodPost, "/api/v1/serp/SETTUSD/expand", `{"amount":40000}`, nil)
	if status != fiber.StatusOK {
		t.Fatalf("expand: expected 200 got %d", status)
	}
	if body["quoted_price"] != "2" || body["settlement"] != float64(5_000) {
		t.Fatalf("unexpected adjustment %v", body)
	}

	status, body = send(t, app, fiber.MethodGet, "/api/v1/currencies/SETTUSD/issuance", "", nil)
	if status != fiber.StatusOK || body["total_issuance"] != float64(440_000) {
		t.Fatalf("unexpected issuance %d %v", status, body)
	}
	status, body = send(t, app, fiber.MethodGet, "/api/v1/currencies/DNAR/accounts/serper", "", nil)
	if status != fiber.StatusOK || body["reserved"] != float64(195_000) {
		t.Fatalf("unexpected market maker balance %d %v", status, body)
	}
	status, body = send(t, app, fiber.MethodGet, "/api/v1/prices/SETTUSD", "", nil)
	if status != fiber.StatusOK || body["price"] != "2" {
		t.Fatalf("unexpected quote %d %v", status, body)
	}

	req := httptest.NewRequest(fiber.MethodGet, "/metrics", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(payload), `serp_supply_adjustments_total{currency="SETTUSD",direction="expand"} 1`) {
		t.Fatalf("expected adjustment counter in metrics output")
	}
}

func TestContractFlowInDevelopment(t *testing.T) {
	app := fiber.New()
	if err := Setup(app, devDeps()); err != nil {
		t.Fatalf("setup: %v", err)
	}

	for _, feed := range []struct{ path, body string }{
		{"/api/v1/feed/DNAR", `{"price":"2"}`},
		{"/api/v1/feed/SETTUSD", `{"price":"1"}`},
	} {
		if status, _ := send(t, app, fiber.MethodPost, feed.path, feed.body, nil); status != fiber.StatusAccepted {
			t.Fatalf("%s: expected 202 got %d", feed.path, status)
		}
	}

	status, body := send(t, app, fiber.MethodPost, "/api/v1/serp/SETTUSD/contract", `{"amount":40000}`, nil)
	if status != fiber.StatusOK {
		t.Fatalf("contract: expected 200 got %d %v", status, body)
	}
	if body["quoted_price"] != "3" || body["settlement"] != float64(120_000) || body["supply"] != float64(360_000) {
		t.Fatalf("unexpected adjustment %v", body)
	}

	// Alternate path parameters so earlier request buffers get reused.
	checks := []struct {
		path, field string
		want        any
	}{
		{"/api/v1/currencies/DNAR/issuance", "total_issuance", float64(520_000)},
		{"/api/v1/currencies/SETTUSD/issuance", "total_issuance", float64(360_000)},
		{"/api/v1/currencies/DNAR/accounts/serper", "reserved", float64(320_000)},
		{"/api/v1/currencies/SETTUSD/accounts/serper", "reserved", float64(60_000)},
		{"/api/v1/prices/DNAR", "price", "2000"},
		{"/api/v1/prices/SETTUSD", "price", "3"},
	}
	for _, c := range checks {
		status, body := send(t, app, fiber.MethodGet, c.path, "", nil)
		if status != fiber.StatusOK || body[c.field] != c.want {
			t.Fatalf("%s: unexpected response %d %v", c.path, status, body)
		}
	}

	// A second adjustment must still find both observations.
	status, body = send(t, app, fiber.MethodPost, "/api/v1/serp/SETTUSD/contract", `{"amount":1000}`, nil)
	if status != fiber.StatusOK || body["settlement"] != float64(3_000) {
		t.Fatalf("second contract: unexpected response %d %v", status, body)
	}
}

func TestHealthzInDevelopment(t *testing.T) {
	app := fiber.New()
	if err := Setup(app, devDeps()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	status, body := send(t, app, fiber.MethodGet, "/healthz", "", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200 got %d", status)
	}
	if body["native"] != "DNAR" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestPrivilegedRoutesWithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	d := devDeps()
	d.Cache = cache
	app := fiber.New()
	if err := Setup(app, d); err != nil {
		t.Fatalf("setup: %v", err)
	}

	status, _ := send(t, app, fiber.MethodPost, "/api/v1/feed/DNAR", `{"price":"1.5"}`, nil)
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected idempotency key to be required, got %d", status)
	}
	status, _ = send(t, app, fiber.MethodPost, "/api/v1/feed/DNAR", `{"price":"1.5"}`,
		map[string]string{"Idempotency-Key": "feed-1"})
	if status != fiber.StatusAccepted {
		t.Fatalf("expected 202 got %d", status)
	}
	if !mr.Exists("serp:prices:observed") {
		t.Fatal("expected observation stored in redis")
	}

	status, _ = send(t, app, fiber.MethodGet, "/api/v1/prices/SETTUSD", "", nil)
	if status != fiber.StatusNotFound {
		t.Fatalf("expected 404 before any quote, got %d", status)
	}
}
