package stable_diffusion_api

import "context"

// StableDiffusionAPI is the image synthesis service. Requests are not
// reentrant on the backend; callers send one at a time.
type StableDiffusionAPI interface {
	TextToImage(ctx context.Context, req *TextToImageRequest) (*TextToImageResponse, error)
	GetCurrentProgress(ctx context.Context) (*ProgressResponse, error)
}
