package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/chorus-backend/internal/platform/openai"
)

type ImageUploader interface {
	Upload(ctx context.Context, key string, contentType string, data []byte) (string, error)
}

// ImageProvider exposes generate_image when the turn selected an image model.
type ImageProvider struct {
	images   openai.ImageClient
	uploader ImageUploader
}

func NewImageProvider(images openai.ImageClient, uploader ImageUploader) *ImageProvider {
	return &ImageProvider{images: images, uploader: uploader}
}

func (p *ImageProvider) Source() Source { return SourceImage }

func (p *ImageProvider) Load(ctx context.Context, req LoadRequest) (Set, error) {
	if req.ImageTool == nil {
		return Set{}, nil
	}
	if p.images == nil {
		return nil, errors.New("image generation is not configured")
	}
	model := strings.TrimSpace(req.ImageTool.Model)
	userID := req.UserID.String()
	return Set{"generate_image": New(Spec{
		Name:        "generate_image",
		Description: "Generate an image from a text prompt.",
		Parameters: objectSchema(map[string]any{
			"prompt": map[string]any{"type": "string", "description": "detailed description of the image"},
		}, "prompt"),
		Source: SourceImage,
	}, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var in struct {
			Prompt string `json:"prompt"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
		img, err := p.images.GenerateImage(ctx, model, in.Prompt)
		if err != nil {
			return nil, err
		}
		var url string
		if p.uploader != nil {
			key := path.Join("generated", userID, uuid.NewString()+extFor(img.MimeType))
			if url, err = p.uploader.Upload(ctx, key, img.MimeType, img.Bytes); err != nil {
				return nil, err
			}
		} else {
			url = "data:" + img.MimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Bytes)
		}
		return json.Marshal(map[string]any{
			"url":           url,
			"mediaType":     img.MimeType,
			"revisedPrompt": img.RevisedPrompt,
		})
	})}, nil
}

func extFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
