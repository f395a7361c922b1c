package remote

import (
	"context"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/core/logger"
	"github.com/xuecangming/drivefetch/internal/core/retry"
)

// ClientWithRetry wraps the metadata calls of Client with retry logic.
// Downloads are not wrapped; the transfer engine owns their retry budgets.
type ClientWithRetry struct {
	*Client
	retryConfig *retry.Config
	logger      logger.Logger
}

// NewClientWithRetry creates a client that retries transient metadata failures
func NewClientWithRetry(client *Client, retryConfig *retry.Config, log logger.Logger) *ClientWithRetry {
	if retryConfig == nil {
		retryConfig = retry.DefaultConfig()
	}
	return &ClientWithRetry{
		Client:      client,
		retryConfig: retryConfig,
		logger:      logger.OrGlobal(log).With(logger.String("component", "remote")),
	}
}

// FetchFolder lists a folder, retrying connection failures. An unauthorized
// answer is returned at once; the session layer refreshes the credentials.
func (c *ClientWithRetry) FetchFolder(ctx context.Context, creds *types.Credentials, path string, level int) (*types.Folder, error) {
	var folder *types.Folder

	err := retry.DoWithContextAndRetryable(ctx, func(ctx context.Context) error {
		var err error
		folder, err = c.Client.FetchFolder(ctx, creds, path, level)
		if err != nil {
			c.logger.Warn("Folder listing attempt failed",
				logger.String("path", path),
				logger.Error(err))
		}
		return err
	}, c.retryConfig, apperrors.IsRetryable)

	if err != nil {
		c.logger.Error("Folder listing failed",
			logger.String("path", path),
			logger.Error(err))
		return nil, err
	}
	return folder, nil
}
