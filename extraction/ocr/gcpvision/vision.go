// Package gcpvision recognizes text with Google Cloud Vision document text
// detection.
package gcpvision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
)

// Config selects credentials for the Vision client. An empty CredentialsFile
// uses application default credentials; a value starting with "{" is treated
// as inline JSON.
type Config struct {
	CredentialsFile string
}

// OCR implements extraction.OCR over the Vision API.
type OCR struct {
	client *vision.ImageAnnotatorClient
	logger *slog.Logger
}

// ClientOptions builds the client options for cfg.
func ClientOptions(cfg Config) []option.ClientOption {
	creds := strings.TrimSpace(cfg.CredentialsFile)
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

// New dials the Vision API.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*OCR, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := vision.NewImageAnnotatorClient(ctx, ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &OCR{client: client, logger: logger.With("component", "gcp-vision")}, nil
}

// Name implements extraction.OCR.
func (o *OCR) Name() string { return "gcp_vision" }

// Close releases the client.
func (o *OCR) Close() error {
	if o == nil || o.client == nil {
		return nil
	}
	return o.client.Close()
}

// Recognize implements extraction.OCR using DOCUMENT_TEXT_DETECTION.
func (o *OCR) Recognize(ctx context.Context, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", nil
	}
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image: &visionpb.Image{Content: image},
			Features: []*visionpb.Feature{
				{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
			},
		}},
	}
	resp, err := o.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return "", fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	return textFromResponse(resp)
}

func textFromResponse(resp *visionpb.BatchAnnotateImagesResponse) (string, error) {
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return "", nil
	}
	r := resp.Responses[0]
	if r.Error != nil && r.Error.Message != "" {
		return "", fmt.Errorf("vision annotate error: %s", r.Error.Message)
	}
	if r.FullTextAnnotation != nil && strings.TrimSpace(r.FullTextAnnotation.Text) != "" {
		return strings.TrimSpace(r.FullTextAnnotation.Text), nil
	}
	if len(r.TextAnnotations) > 0 && r.TextAnnotations[0] != nil {
		return strings.TrimSpace(r.TextAnnotations[0].Description), nil
	}
	return "", nil
}
