package types

// SegmentationResult is returned by the blur-background endpoint. The caller
// composites the original against the mask itself.
type SegmentationResult struct {
	Success     bool   `json:"success"`
	OriginalURL string `json:"originalUrl"`
	MaskURL     string `json:"maskUrl"`
	ObjectKey   string `json:"objectKey,omitempty"`
	Cached      bool   `json:"cached,omitempty"`
}

// ErrorResponse is the JSON body for every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// CompositeRequest asks the server to render the blurred result itself
type CompositeRequest struct {
	OriginalURL  string   `json:"originalUrl" binding:"required"`
	MaskURL      string   `json:"maskUrl" binding:"required"`
	BlurRadius   *float64 `json:"blurRadius,omitempty"`
	Feather      *bool    `json:"feather,omitempty"`
	FeatherSigma float64  `json:"featherSigma,omitempty"`
	Format       string   `json:"format,omitempty"`
	Quality      int      `json:"quality,omitempty"`
}

// ChatRequest is the body of the chat demo endpoint
type ChatRequest struct {
	Prompt string `json:"prompt,omitempty"`
	Model  string `json:"model,omitempty"`
}

// ChatResponse carries the model reply
type ChatResponse struct {
	Success bool   `json:"success"`
	Reply   string `json:"reply"`
	Model   string `json:"model"`
}

// EncodeOptions controls how a composited image is serialized
type EncodeOptions struct {
	Format   string
	Quality  int
	Lossless bool
}
