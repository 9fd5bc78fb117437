package utils

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShopURL(t *testing.T) {
	assert.Equal(t, "https://demo.myshopify.com", ShopURL("demo.myshopify.com"))
	assert.Equal(t, "https://demo.myshopify.com", ShopURL("https://demo.myshopify.com/"))
	assert.Equal(t, "", ShopURL("  "))
}

func TestSetLogLevel(t *testing.T) {
	original := Log.GetLevel()
	t.Cleanup(func() { Log.SetLevel(original) })

	SetLogLevel("DEBUG")
	assert.Equal(t, logrus.DebugLevel, Log.GetLevel())
	SetLogLevel("warning")
	assert.Equal(t, logrus.WarnLevel, Log.GetLevel())
	SetLogLevel("error")
	assert.Equal(t, logrus.ErrorLevel, Log.GetLevel())
	SetLogLevel("verbose")
	assert.Equal(t, logrus.InfoLevel, Log.GetLevel())
}

func TestReferralLink(t *testing.T) {
	assert.Equal(t, "https://refs.example.com/track/ABCD2345", ReferralLink("https://refs.example.com/", "demo.myshopify.com", "ABCD2345"))
	assert.Equal(t, "https://demo.myshopify.com?ref=ABCD2345", ReferralLink("", "demo.myshopify.com", "ABCD2345"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Jane Doe", DisplayName("jane", "DOE"))
	assert.Equal(t, "Jane", DisplayName(" jane ", ""))
	assert.Equal(t, "", DisplayName("", ""))
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "203.0.113.7", ClientIP("203.0.113.7, 10.0.0.1", "10.0.0.2", "10.0.0.3"))
	assert.Equal(t, "10.0.0.2", ClientIP("", "10.0.0.2", "10.0.0.3"))
	assert.Equal(t, "10.0.0.3", ClientIP("", "", "10.0.0.3"))
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestWebhookArchive(t *testing.T) {
	t.Run("UploadsUnderSlugKey", func(t *testing.T) {
		putter := &fakePutter{}
		archive := &WebhookArchive{Client: putter, Bucket: "webhooks"}

		err := archive.ArchiveWebhook(context.Background(), "Demo Store.myshopify.com", "1001", "abc-123", []byte(`{"id":1001}`))
		require.NoError(t, err)
		assert.Equal(t, "webhooks", aws.ToString(putter.input.Bucket))
		assert.Equal(t, "webhooks/demo-store-myshopify-com/1001/abc-123.json", aws.ToString(putter.input.Key))
		assert.Equal(t, `{"id":1001}`, string(putter.body))
	})

	t.Run("WrapsUploadError", func(t *testing.T) {
		archive := &WebhookArchive{Client: &fakePutter{err: errors.New("boom")}, Bucket: "webhooks"}
		err := archive.ArchiveWebhook(context.Background(), "demo.myshopify.com", "1", "", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to upload to R2")
	})
}
