package stable_diffusion_api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresHost(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestTextToImage(t *testing.T) {
	var received TextToImageRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sdapi/v1/txt2img", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"images": ["` + base64.StdEncoding.EncodeToString([]byte("png-bytes")) +
			`"], "info": "{\"seed\": 42, \"all_seeds\": [42]}"}`))
	}))
	defer server.Close()

	api, err := New(Config{Host: server.URL + "/"})
	require.NoError(t, err)

	resp, err := api.TextToImage(context.Background(), &TextToImageRequest{
		Prompt:           "cat",
		Width:            2048,
		Height:           2048,
		BatchSize:        1,
		NIter:            1,
		Seed:             42,
		CfgScale:         3.5,
		Steps:            28,
		OverrideSettings: map[string]interface{}{"sd_model_checkpoint": "flux"},
	})
	require.NoError(t, err)

	assert.Equal(t, "cat", received.Prompt)
	assert.Equal(t, int64(42), received.Seed)
	assert.Equal(t, "flux", received.OverrideSettings["sd_model_checkpoint"])
	assert.Equal(t, []int64{42}, resp.Seeds)

	image, err := resp.Image(0)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(image))

	_, err = resp.Image(1)
	assert.Error(t, err)
}

func TestTextToImageErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{"server error", http.StatusInternalServerError, `{"detail": "CUDA out of memory"}`},
		{"not json", http.StatusOK, `<html>`},
		{"no images", http.StatusOK, `{"images": [], "info": ""}`},
		{"bad info", http.StatusOK, `{"images": ["AA=="], "info": "{"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			}))
			defer server.Close()

			api, err := New(Config{Host: server.URL})
			require.NoError(t, err)

			_, err = api.TextToImage(context.Background(), &TextToImageRequest{Prompt: "cat"})
			assert.Error(t, err)
		})
	}
}

func TestTextToImageHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	api, err := New(Config{Host: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = api.TextToImage(ctx, &TextToImageRequest{Prompt: "cat"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetCurrentProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sdapi/v1/progress", r.URL.Path)
		_, _ = w.Write([]byte(`{"progress": 0.25, "eta_relative": 12.5}`))
	}))
	defer server.Close()

	api, err := New(Config{Host: server.URL})
	require.NoError(t, err)

	progress, err := api.GetCurrentProgress(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.25, progress.Progress, 1e-9)
	assert.InDelta(t, 12.5, progress.EtaRelative, 1e-9)
}

func TestImageStripsDataURL(t *testing.T) {
	resp := &TextToImageResponse{Images: []string{"data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("x"))}}

	image, err := resp.Image(0)
	require.NoError(t, err)
	assert.Equal(t, "x", string(image))
}
