package bedrock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/rs/zerolog"
)

var ErrModelNotConfigured = errors.New("bedrock model id not configured")

type Client struct {
	runtime *bedrockruntime.Client
	modelID string
	logger  *zerolog.Logger

	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func NewClient(ctx context.Context, region string, modelID string, logger *zerolog.Logger) (*Client, error) {
	if modelID == "" {
		return nil, ErrModelNotConfigured
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return &Client{
		runtime:      bedrockruntime.NewFromConfig(cfg),
		modelID:      modelID,
		logger:       logger,
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}, nil
}

func (c *Client) ModelID() string {
	return c.modelID
}
