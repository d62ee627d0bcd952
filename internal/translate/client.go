package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"pkt.systems/doctrans/internal/svcfields"
	"pkt.systems/pslog"
)

const (
	batchPath       = "/translator/text/batch/v1.0/batches"
	languagesPath   = "/languages?api-version=3.0&scope=translation"
	languagesKey    = "languages"
	defaultCacheTTL = 6 * time.Hour
)

// Config controls the REST client.
type Config struct {
	// Endpoint is the document translation endpoint.
	Endpoint string
	// TextEndpoint serves the languages catalogue. Defaults to
	// Endpoint when empty.
	TextEndpoint string
	APIKey       string
	Region       string
	// LanguagesTTL bounds the languages cache. Defaults to 6h.
	LanguagesTTL time.Duration
	HTTPClient   *http.Client
	Logger       pslog.Logger
}

// Client talks to the translation service over REST.
type Client struct {
	cfg    Config
	http   *http.Client
	logger pslog.Logger
	langs  *ttlcache.Cache[string, map[string]Language]
}

// NewClient builds a Client. Endpoint and APIKey are required.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("translate: endpoint is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("translate: api key is required")
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.TextEndpoint == "" {
		cfg.TextEndpoint = cfg.Endpoint
	}
	cfg.TextEndpoint = strings.TrimRight(cfg.TextEndpoint, "/")
	if cfg.LanguagesTTL <= 0 {
		cfg.LanguagesTTL = defaultCacheTTL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	cache := ttlcache.New[string, map[string]Language](
		ttlcache.WithTTL[string, map[string]Language](cfg.LanguagesTTL),
		ttlcache.WithDisableTouchOnHit[string, map[string]Language](),
	)
	go cache.Start()
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: svcfields.WithSubsystem(cfg.Logger, "doctrans.translate"),
		langs:  cache,
	}, nil
}

// Close stops the cache janitor.
func (c *Client) Close() error {
	c.langs.Stop()
	return nil
}

type batchSource struct {
	SourceURL string  `json:"sourceUrl"`
	Language  *string `json:"language,omitempty"`
}

type batchTarget struct {
	TargetURL string `json:"targetUrl"`
	Language  string `json:"language"`
}

type batchInput struct {
	// StorageType File tells the service the URLs address single blobs
	// rather than containers.
	StorageType string        `json:"storageType,omitempty"`
	Source      batchSource   `json:"source"`
	Targets     []batchTarget `json:"targets"`
}

type batchPayload struct {
	Inputs []batchInput `json:"inputs"`
}

// Start submits a batch and returns the operation reference from the
// Operation-Location header.
func (c *Client) Start(ctx context.Context, req BatchRequest) (OperationRef, error) {
	input := batchInput{
		StorageType: "File",
		Source:      batchSource{SourceURL: req.SourceURL},
		Targets:     []batchTarget{{TargetURL: req.TargetURL, Language: req.TargetLanguage}},
	}
	if req.SourceLanguage != "" {
		input.Source.Language = &req.SourceLanguage
	}
	body, err := json.Marshal(batchPayload{Inputs: []batchInput{input}})
	if err != nil {
		return OperationRef{}, fmt.Errorf("translate: encode batch: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+batchPath, bytes.NewReader(body))
	if err != nil {
		return OperationRef{}, fmt.Errorf("translate: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.auth(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return OperationRef{}, fmt.Errorf("%w: start batch: %v", ErrUnavailable, err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return OperationRef{}, fmt.Errorf("translate: start batch: %s", readError(resp))
	}
	loc := resp.Header.Get("Operation-Location")
	if loc == "" {
		return OperationRef{}, fmt.Errorf("translate: start batch: missing Operation-Location")
	}
	parts := strings.Split(strings.TrimRight(loc, "/"), "/")
	id := parts[len(parts)-1]
	if c.logger != nil {
		c.logger.Debug("translate.batch.accepted", "operation_id", id)
	}
	return OperationRef{ID: id}, nil
}

type operationResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Summary struct {
		Total      int `json:"total"`
		Success    int `json:"success"`
		Failed     int `json:"failed"`
		InProgress int `json:"inProgress"`
		NotYet     int `json:"notYetStarted"`
	} `json:"summary"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Status fetches the batch operation state.
func (c *Client) Status(ctx context.Context, opID string) (OperationStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+batchPath+"/"+opID, nil)
	if err != nil {
		return OperationStatus{}, fmt.Errorf("translate: build request: %w", err)
	}
	c.auth(httpReq)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return OperationStatus{}, fmt.Errorf("%w: operation status: %v", ErrUnavailable, err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return OperationStatus{}, fmt.Errorf("translate: operation status: %s", readError(resp))
	}
	var op operationResponse
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return OperationStatus{}, fmt.Errorf("translate: decode operation: %w", err)
	}
	status := OperationStatus{
		ID:                 op.ID,
		State:              op.Status,
		DocumentsTotal:     op.Summary.Total,
		DocumentsCompleted: op.Summary.Success,
		DocumentsFailed:    op.Summary.Failed,
	}
	switch op.Status {
	case "Succeeded":
		status.Done = true
		status.Succeeded = true
	case "Failed", "ValidationFailed", "Cancelled", "Canceled":
		status.Done = true
	}
	if op.Error != nil {
		status.Error = op.Error.Code + ": " + op.Error.Message
	}
	return status, nil
}

type languagesResponse struct {
	Translation map[string]Language `json:"translation"`
}

// Languages returns the supported language catalogue, cached for the
// configured TTL.
func (c *Client) Languages(ctx context.Context) (map[string]Language, error) {
	if item := c.langs.Get(languagesKey); item != nil && !item.IsExpired() {
		return item.Value(), nil
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.TextEndpoint+languagesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("translate: build request: %w", err)
	}
	c.auth(httpReq)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: languages: %v", ErrUnavailable, err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("translate: languages: %s", readError(resp))
	}
	var decoded languagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("translate: decode languages: %w", err)
	}
	c.langs.Set(languagesKey, decoded.Translation, ttlcache.DefaultTTL)
	return decoded.Translation, nil
}

// Ping verifies the service answers the languages endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Languages(ctx)
	return err
}

func (c *Client) auth(req *http.Request) {
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.APIKey)
	if c.cfg.Region != "" {
		req.Header.Set("Ocp-Apim-Subscription-Region", c.cfg.Region)
	}
}

func readError(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return resp.Status
	}
	return resp.Status + ": " + msg
}

func drain(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 1<<20))
	_ = rc.Close()
}
