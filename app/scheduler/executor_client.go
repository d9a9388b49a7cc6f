package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/amirphl/warmup-orchestrator/app/dto"
	"github.com/amirphl/warmup-orchestrator/config"
	"github.com/amirphl/warmup-orchestrator/utils"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const executionsPath = "/api/v1/executions"

// Executor runs one phase on a device and reports the verdict
type Executor interface {
	Execute(ctx context.Context, req dto.ExecutorRequest) (*dto.ExecutorResult, error)
}

type httpExecutorClient struct {
	cfg      config.ExecutorConfig
	workerID string
	client   *http.Client
	validate *validator.Validate
}

// NewHTTPExecutorClient talks to the automation executor over HTTP with a short-lived HS256 bearer token
func NewHTTPExecutorClient(cfg config.ExecutorConfig, workerID string) Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 15 * time.Minute
	}
	return &httpExecutorClient{
		cfg:      cfg,
		workerID: workerID,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		validate: validator.New(),
	}
}

func (c *httpExecutorClient) token(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":        c.workerID,
		"token_type": "executor",
		"jti":        uuid.NewString(),
		"iat":        now.Unix(),
		"exp":        now.Add(c.cfg.TokenTTL).Unix(),
		"iss":        c.cfg.JWTIssuer,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign executor token: %w", err)
	}
	return signed, nil
}

func (c *httpExecutorClient) Execute(ctx context.Context, reqBody dto.ExecutorRequest) (*dto.ExecutorResult, error) {
	if err := c.validate.Struct(reqBody); err != nil {
		return nil, fmt.Errorf("invalid executor request: %w", err)
	}

	token, err := c.token(utils.UTCNow())
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal executor request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + executionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp dto.APIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("executor http status %d: failed to decode JSON into APIResponse: %w", resp.StatusCode, err)
	}

	// A failed execution is still a verdict as long as the data is present
	if apiResp.Data == nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 || !apiResp.Success {
			return nil, fmt.Errorf("executor http status %d: %s", resp.StatusCode, apiResp.Message)
		}
		return nil, fmt.Errorf("executor returned no result")
	}

	dataBytes, err := json.Marshal(apiResp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal APIResponse data: %w", err)
	}

	var result dto.ExecutorResult
	if err := json.Unmarshal(dataBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to decode JSON into ExecutorResult: %w", err)
	}
	if err := c.validate.Struct(result); err != nil {
		return nil, fmt.Errorf("invalid executor result: %w", err)
	}

	return &result, nil
}
