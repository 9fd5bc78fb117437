package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"referral-engine/utils"

	"github.com/redis/go-redis/v9"
)

// RedisAttributionStore keeps the checkout-time referral code per customer.
type RedisAttributionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAttributionStore(client *redis.Client, ttl time.Duration) *RedisAttributionStore {
	return &RedisAttributionStore{client: client, ttl: ttl}
}

// ConnectRedis accepts redis:// URLs or bare host:port.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func attributionKey(shop, customerID string) string {
	return "attribution:" + shop + ":" + customerID
}

func (s *RedisAttributionStore) LookupReferralCode(ctx context.Context, shop, customerID string) (string, error) {
	code, err := s.client.Get(ctx, attributionKey(shop, customerID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return code, nil
}

func (s *RedisAttributionStore) SaveReferralCode(ctx context.Context, shop, customerID, code string) error {
	return s.client.Set(ctx, attributionKey(shop, customerID), NormalizeCode(code), s.ttl).Err()
}

// ShopifyMetafieldClient reads and writes the customer metafields the storefront
// uses to carry attribution through checkout.
type ShopifyMetafieldClient struct {
	AccessToken string
	APIVersion  string
	Namespace   string
	Client      *http.Client
	// Endpoint overrides the Admin GraphQL URL; used by tests.
	Endpoint func(shop string) string
}

func NewShopifyMetafieldClient(token, apiVersion, namespace string, timeout time.Duration) *ShopifyMetafieldClient {
	return &ShopifyMetafieldClient{
		AccessToken: token,
		APIVersion:  apiVersion,
		Namespace:   namespace,
		Client:      utils.NewHTTPClient(timeout),
	}
}

type graphQLError struct {
	Message string `json:"message"`
}

func (c *ShopifyMetafieldClient) endpoint(shop string) string {
	if c.Endpoint != nil {
		return c.Endpoint(shop)
	}
	return fmt.Sprintf("%s/admin/api/%s/graphql.json", utils.ShopURL(shop), c.APIVersion)
}

func customerGID(customerID string) string {
	if strings.HasPrefix(customerID, "gid://") {
		return customerID
	}
	return "gid://shopify/Customer/" + customerID
}

func (c *ShopifyMetafieldClient) do(ctx context.Context, shop, query string, variables map[string]interface{}, out interface{}) error {
	jsonData, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(shop), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.AccessToken)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call shopify admin api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("shopify admin api returned status %d: %s", resp.StatusCode, string(body))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode shopify response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("shopify graphql error: %s", envelope.Errors[0].Message)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

const customerMetafieldQuery = `query CustomerReferral($id: ID!, $namespace: String!) {
  customer(id: $id) {
    referralCode: metafield(namespace: $namespace, key: "referral_code") { value }
    lastReferral: metafield(namespace: $namespace, key: "last_referral") { value }
  }
}`

func (c *ShopifyMetafieldClient) LookupReferralCode(ctx context.Context, shop, customerID string) (string, error) {
	var data struct {
		Customer *struct {
			ReferralCode *struct {
				Value string `json:"value"`
			} `json:"referralCode"`
			LastReferral *struct {
				Value string `json:"value"`
			} `json:"lastReferral"`
		} `json:"customer"`
	}
	err := c.do(ctx, shop, customerMetafieldQuery, map[string]interface{}{
		"id":        customerGID(customerID),
		"namespace": c.Namespace,
	}, &data)
	if err != nil {
		return "", err
	}
	if data.Customer == nil {
		return "", nil
	}
	if mf := data.Customer.ReferralCode; mf != nil && mf.Value != "" {
		return mf.Value, nil
	}
	if mf := data.Customer.LastReferral; mf != nil {
		return mf.Value, nil
	}
	return "", nil
}

const metafieldsSetMutation = `mutation SetReferral($metafields: [MetafieldsSetInput!]!) {
  metafieldsSet(metafields: $metafields) {
    userErrors { field message }
  }
}`

func (c *ShopifyMetafieldClient) SaveReferralCode(ctx context.Context, shop, customerID, code string) error {
	var data struct {
		MetafieldsSet struct {
			UserErrors []graphQLError `json:"userErrors"`
		} `json:"metafieldsSet"`
	}
	err := c.do(ctx, shop, metafieldsSetMutation, map[string]interface{}{
		"metafields": []map[string]string{{
			"ownerId":   customerGID(customerID),
			"namespace": c.Namespace,
			"key":       "referral_code",
			"type":      "single_line_text_field",
			"value":     NormalizeCode(code),
		}},
	}, &data)
	if err != nil {
		return err
	}
	if len(data.MetafieldsSet.UserErrors) > 0 {
		return fmt.Errorf("shopify metafieldsSet: %s", data.MetafieldsSet.UserErrors[0].Message)
	}
	return nil
}
