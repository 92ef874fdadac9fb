package fusion

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"

	"firewatch/internal/config"
)

// LabelScore is one entry of the classifier's ranked label list.
type LabelScore struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Classification is the raw output of the pretrained classifier: a
// fixed-length embedding vector and a ranked label list. The network itself
// is opaque to this package.
type Classification struct {
	Embedding []float64    `json:"embedding"`
	Labels    []LabelScore `json:"labels"`
}

type Classifier interface {
	Classify(ctx context.Context, image []byte) (*Classification, error)
}

// RemoteClassifier calls an external inference service over HTTP.
type RemoteClassifier struct {
	client *resty.Client
	url    string
}

type classifyRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type classifyResponse struct {
	Embedding []float64    `json:"embedding"`
	Labels    []LabelScore `json:"labels"`
	Error     string       `json:"error,omitempty"`
}

func NewRemoteClassifier(cfg config.ClassifierConfig) (*RemoteClassifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("classifier url is empty")
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &RemoteClassifier{client: client, url: cfg.URL}, nil
}

func (c *RemoteClassifier) Classify(ctx context.Context, image []byte) (*Classification, error) {
	if len(image) == 0 {
		return nil, errors.New("empty image")
	}
	var out classifyResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(classifyRequest{ImageBase64: base64.StdEncoding.EncodeToString(image)}).
		SetResult(&out).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("classifier returned status %d", resp.StatusCode())
	}
	if out.Error != "" {
		return nil, fmt.Errorf("classifier error: %s", out.Error)
	}
	if len(out.Embedding) == 0 {
		return nil, errors.New("classifier returned empty embedding")
	}
	return &Classification{Embedding: out.Embedding, Labels: out.Labels}, nil
}
