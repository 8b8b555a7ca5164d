package alm_test

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/almsync/internal/testutil"
	"github.com/mesh-intelligence/almsync/pkg/alm"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

func TestConnect(t *testing.T) {
	srv := testutil.NewServer(t)

	tests := []struct {
		name   string
		mutate func(*types.Config)
		want   error
	}{
		{"wrong password", func(c *types.Config) { c.Password = "wrong" }, types.ErrAuthentication},
		{"no url", func(c *types.Config) { c.URL = "" }, types.ErrURLEmpty},
		{"no credentials", func(c *types.Config) { c.User, c.Password = "", "" }, types.ErrCredentialsMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := srv.Config()
			tt.mutate(&cfg)
			_, err := alm.Connect(context.Background(), cfg)
			require.ErrorIs(t, err, tt.want)
		})
	}

	c, err := alm.Connect(context.Background(), srv.Config())
	require.NoError(t, err)
	assert.True(t, c.HasService(alm.ServiceTracker))
	assert.True(t, c.HasService(alm.ServicePlanning))
	assert.False(t, c.HasService("Builder"))
	require.NoError(t, c.Close(context.Background()))
}

func TestClient_DownloadInline(t *testing.T) {
	c, _ := connect(t)

	data, err := c.Download(context.Background(), types.Attachment{
		ID:   "1",
		Data: base64.StdEncoding.EncodeToString([]byte("inline bytes")),
	})
	require.NoError(t, err)
	assert.Equal(t, "inline bytes", string(data))

	_, err = c.Download(context.Background(), types.Attachment{ID: "2"})
	require.ErrorIs(t, err, types.ErrAttachmentNotFound)
}
