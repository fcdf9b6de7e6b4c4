package stable_diffusion_api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const maxLoggedBody = 512

type apiImpl struct {
	host   string
	client *http.Client
}

type Config struct {
	Host string
	// Timeout bounds a single request. Large images on slow GPUs take minutes.
	Timeout time.Duration
}

func New(cfg Config) (StableDiffusionAPI, error) {
	if cfg.Host == "" {
		return nil, errors.New("missing host")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}

	return &apiImpl{
		host:   strings.TrimRight(cfg.Host, "/"),
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type jsonTextToImageResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

type jsonInfoResponse struct {
	Seed     int64   `json:"seed"`
	AllSeeds []int64 `json:"all_seeds"`
}

type TextToImageResponse struct {
	Images []string `json:"images"`
	Seeds  []int64  `json:"seeds"`
}

// Image decodes the idx-th base64 image.
func (r *TextToImageResponse) Image(idx int) ([]byte, error) {
	if idx < 0 || idx >= len(r.Images) {
		return nil, fmt.Errorf("response has %d images, wanted index %d", len(r.Images), idx)
	}

	encoded := r.Images[idx]

	// some backends prefix a data URL header
	if comma := strings.IndexByte(encoded, ','); comma >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[comma+1:]
	}

	return base64.StdEncoding.DecodeString(encoded)
}

type TextToImageRequest struct {
	Prompt           string                 `json:"prompt"`
	NegativePrompt   string                 `json:"negative_prompt"`
	Width            int                    `json:"width"`
	Height           int                    `json:"height"`
	BatchSize        int                    `json:"batch_size"`
	NIter            int                    `json:"n_iter"`
	Seed             int64                  `json:"seed"`
	SamplerName      string                 `json:"sampler_name,omitempty"`
	CfgScale         float64                `json:"cfg_scale"`
	Steps            int                    `json:"steps"`
	OverrideSettings map[string]interface{} `json:"override_settings,omitempty"`
}

func (api *apiImpl) TextToImage(ctx context.Context, req *TextToImageRequest) (*TextToImageResponse, error) {
	if req == nil {
		return nil, errors.New("missing request")
	}

	postURL := api.host + "/sdapi/v1/txt2img"

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	body, err := api.do(ctx, http.MethodPost, postURL, jsonData)
	if err != nil {
		return nil, err
	}

	respStruct := &jsonTextToImageResponse{}

	err = json.Unmarshal(body, respStruct)
	if err != nil {
		log.Printf("API URL: %s", postURL)
		log.Printf("Unexpected API response: %s", truncate(body))

		return nil, err
	}

	if len(respStruct.Images) == 0 {
		return nil, errors.New("API returned no images")
	}

	infoStruct := &jsonInfoResponse{}

	if respStruct.Info != "" {
		err = json.Unmarshal([]byte(respStruct.Info), infoStruct)
		if err != nil {
			log.Printf("API URL: %s", postURL)
			log.Printf("Unexpected API info: %s", truncate([]byte(respStruct.Info)))

			return nil, err
		}
	}

	seeds := infoStruct.AllSeeds
	if len(seeds) == 0 && respStruct.Info != "" {
		seeds = []int64{infoStruct.Seed}
	}

	return &TextToImageResponse{
		Images: respStruct.Images,
		Seeds:  seeds,
	}, nil
}

type ProgressResponse struct {
	Progress    float64 `json:"progress"`
	EtaRelative float64 `json:"eta_relative"`
}

func (api *apiImpl) GetCurrentProgress(ctx context.Context) (*ProgressResponse, error) {
	getURL := api.host + "/sdapi/v1/progress?skip_current_image=true"

	body, err := api.do(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return nil, err
	}

	respStruct := &ProgressResponse{}

	err = json.Unmarshal(body, respStruct)
	if err != nil {
		log.Printf("API URL: %s", getURL)
		log.Printf("Unexpected API response: %s", truncate(body))

		return nil, err
	}

	return respStruct, nil
}

func (api *apiImpl) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if payload != nil {
		request.Header.Set("Content-Type", "application/json; charset=UTF-8")
	}

	response, err := api.client.Do(request)
	if err != nil {
		log.Printf("API URL: %s", url)
		log.Printf("Error with API Request: %v", err)

		return nil, err
	}

	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, url, response.StatusCode, truncate(body))
	}

	return body, nil
}

func truncate(body []byte) string {
	if len(body) > maxLoggedBody {
		return string(body[:maxLoggedBody]) + "..."
	}

	return string(body)
}
