package remote

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/core/logger"
)

// Client talks to the cloud-storage portal API
type Client struct {
	config types.RemoteConfig
	// httpClient serves metadata requests and carries an overall timeout
	httpClient *http.Client
	// streamClient serves downloads; only the per-read socket timeout applies
	streamClient *http.Client
	limiter      *rate.Limiter
	logger       logger.Logger
}

// NewClient creates a new portal API client
func NewClient(config types.RemoteConfig, log logger.Logger) *Client {
	socketTimeout := time.Duration(config.SocketTimeout) * time.Second
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         deadlineDialer(socketTimeout),
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		// sizes are compared against the announced content length
		DisableCompression: true,
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := config.RequestBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(config.RequestTimeout) * time.Second,
		},
		streamClient: &http.Client{Transport: transport},
		limiter:      rate.NewLimiter(limit, burst),
		logger:       logger.OrGlobal(log).With(logger.String("component", "remote")),
	}
}

// FetchFolder lists the folder at path. The returned folder has its children
// populated; path and level describe where the folder sits in the traversal.
func (c *Client) FetchFolder(ctx context.Context, creds *types.Credentials, path string, level int) (*types.Folder, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.endpointURL(c.config.FolderEndpoint, path), nil, creds)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Requesting folder", logger.String("path", path))

	resp, err := c.do(ctx, c.httpClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "folder", path); err != nil {
		return nil, err
	}

	var body folderResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.ResponseError(resp.StatusCode, "failed to decode folder listing").WithCause(err)
	}
	if msg := body.apiError(); msg != "" {
		return nil, apperrors.ResponseError(resp.StatusCode, msg)
	}
	if body.Result == nil {
		return nil, apperrors.ResponseError(resp.StatusCode, "folder listing has no result")
	}

	folder, err := c.folderFromMeta(body.Result.Meta, path, level)
	if err != nil {
		return nil, err
	}

	for i := range body.Result.Items {
		m := &body.Result.Items[i]
		child, ok := decodeItem(m, folder.ChildPath(m.ID), level+1)
		if !ok {
			c.logger.Debug("Skipping item of unknown type",
				logger.String("id", m.ID),
				logger.String("type", m.Type))
			continue
		}
		if meta := child.Meta(); meta.PathName == "" {
			meta.PathName = folder.ChildPathName(meta.Name)
		}
		folder.Children[m.ID] = child
	}
	return folder, nil
}

func (c *Client) folderFromMeta(m *itemMeta, path string, level int) (*types.Folder, error) {
	if m == nil {
		return &types.Folder{
			ItemMeta: types.ItemMeta{Path: path, PathName: path, Level: level},
			IsRoot:   path == "" || path == "/",
			Children: make(map[string]types.RemoteItem),
		}, nil
	}
	if path == "" {
		path = itemPath(m)
	}
	item, ok := decodeItem(m, path, level)
	if !ok {
		return nil, apperrors.ResponseError(http.StatusOK, fmt.Sprintf("unknown item type %q", m.Type))
	}
	folder, ok := item.(*types.Folder)
	if !ok {
		return nil, apperrors.InvalidRequest(fmt.Sprintf("%s is not a folder", path))
	}
	if folder.PathName == "" {
		folder.PathName = "/"
		if !folder.IsRoot && folder.Name != "" {
			folder.PathName = "/" + folder.Name
		}
	}
	return folder, nil
}

// OpenDownload starts streaming the file at path from offset. The caller owns
// the returned body.
func (c *Client) OpenDownload(ctx context.Context, creds *types.Credentials, path string, offset int64) (*types.Download, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.endpointURL(c.config.DownloadEndpoint, path), nil, creds)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	c.logger.Debug("Requesting download",
		logger.String("path", path),
		logger.Int64("seek", offset))

	resp, err := c.do(ctx, c.streamClient, req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp, "file", path); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return &types.Download{
		Body:          resp.Body,
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		Partial:       resp.StatusCode == http.StatusPartialContent,
	}, nil
}

// Logout ends the remote session identified by creds
func (c *Client) Logout(ctx context.Context, creds *types.Credentials, csrfToken string) error {
	form := url.Values{}
	form.Set("csrf_token", csrfToken)

	req, err := c.newRequest(ctx, http.MethodPost, c.config.BaseURL+c.config.LogoutEndpoint,
		strings.NewReader(form.Encode()), creds)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(ctx, c.httpClient, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if err := checkStatus(resp, "session", ""); err != nil {
		return err
	}
	c.logger.Info("Logged out")
	return nil
}

func (c *Client) endpointURL(endpoint, path string) string {
	return c.config.BaseURL + strings.TrimRight(endpoint, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader, creds *types.Credentials) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, apperrors.InvalidRequest(fmt.Sprintf("failed to create request: %v", err))
	}
	if creds != nil {
		for _, ck := range creds.Cookies {
			req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
		}
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.ConnectionError("request failed", err)
	}
	return resp, nil
}

// checkStatus maps an HTTP status onto the error taxonomy
func checkStatus(resp *http.Response, resource, path string) error {
	switch {
	case resp.StatusCode < http.StatusBadRequest:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.AuthenticationError("unauthorized", errStatus(resp))
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NotFoundError(resource, path)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return apperrors.ConnectionError("server unavailable", errStatus(resp)).
			WithDetails("status", resp.StatusCode)
	default:
		return apperrors.ResponseError(resp.StatusCode, errStatus(resp).Error())
	}
}

func errStatus(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		return stderrors.New(resp.Status)
	}
	return fmt.Errorf("%s: %s", resp.Status, msg)
}
