package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"referral-engine/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	utils.SilenceLogs()
	os.Exit(m.Run())
}

func echoShop(c *fiber.Ctx) error {
	return c.SendString(Shop(c) + "|" + Customer(c))
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

func TestServiceTokenAuth(t *testing.T) {
	app := fiber.New()
	app.Use(ServiceTokenAuth("s3cret"))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"Missing", "", "", fiber.StatusUnauthorized},
		{"Bearer", fiber.HeaderAuthorization, "Bearer s3cret", fiber.StatusNoContent},
		{"Raw", fiber.HeaderAuthorization, "s3cret", fiber.StatusNoContent},
		{"ServiceHeader", "X-Service-Token", "s3cret", fiber.StatusNoContent},
		{"Wrong", fiber.HeaderAuthorization, "Bearer nope", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestShopContext(t *testing.T) {
	app := fiber.New()
	app.Use(ShopContext())
	app.Get("/", echoShop)

	t.Run("Header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Shop-Domain", " Demo-Store.myshopify.com ")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "demo-store.myshopify.com|", body(t, resp))
	})

	t.Run("Query", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/?shop=demo-store.myshopify.com", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("RejectsForeignDomain", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/?shop=evil.example.com", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}

func TestShopifyWebhook(t *testing.T) {
	const secret = "shpss_test"
	app := fiber.New()
	app.Post("/hook", ShopifyWebhook(secret), echoShop)
	payload := []byte(`{"id":1}`)

	send := func(sig, shop string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(string(payload)))
		req.Header.Set(HeaderShopifyHmac, sig)
		req.Header.Set(HeaderShopifyDomain, shop)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	t.Run("Valid", func(t *testing.T) {
		resp := send(SignWebhook(secret, payload), "demo-store.myshopify.com")
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "demo-store.myshopify.com|", body(t, resp))
	})

	t.Run("WrongSecret", func(t *testing.T) {
		resp := send(SignWebhook("other", payload), "demo-store.myshopify.com")
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("NotBase64", func(t *testing.T) {
		resp := send("%%%", "demo-store.myshopify.com")
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("MissingShop", func(t *testing.T) {
		resp := send(SignWebhook(secret, payload), "")
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}

func TestAppProxyAuth(t *testing.T) {
	const secret = "hush"
	app := fiber.New()
	app.Get("/proxy", AppProxyAuth(secret, 5*time.Minute), echoShop)

	signed := func(params url.Values) string {
		params.Set("signature", SignAppProxy(secret, params))
		return "/proxy?" + params.Encode()
	}
	fresh := func() url.Values {
		return url.Values{
			"shop":                  {"demo-store.myshopify.com"},
			"path_prefix":           {"/apps/referrals"},
			"timestamp":             {strconv.FormatInt(time.Now().Unix(), 10)},
			"logged_in_customer_id": {"9001"},
		}
	}

	t.Run("Valid", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, signed(fresh()), nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "demo-store.myshopify.com|9001", body(t, resp))
	})

	t.Run("MultiValueParams", func(t *testing.T) {
		params := fresh()
		params["tag"] = []string{"a", "b"}
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, signed(params), nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("Tampered", func(t *testing.T) {
		target := signed(fresh()) + "&logged_in_customer_id=1"
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Stale", func(t *testing.T) {
		params := fresh()
		params.Set("timestamp", strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10))
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, signed(params), nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Unsigned", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/proxy?shop=demo-store.myshopify.com", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})
}

func TestSignAppProxy_KnownVector(t *testing.T) {
	// Parameters and secret from Shopify's app proxy documentation.
	params := url.Values{
		"extra":       {"1", "2"},
		"shop":        {"shop-name.myshopify.com"},
		"path_prefix": {"/apps/awesome_reviews"},
		"timestamp":   {"1317327555"},
		"signature":   {"ignored"},
	}
	assert.Equal(t, "a9718877bea71c2484f91608a7eaea1532bdf71f5c56825065fa4ccabe549ef3", SignAppProxy("hush", params))
}
