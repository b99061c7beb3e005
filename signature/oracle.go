package signature

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"ballot-backend/logging"
	"ballot-backend/models"
)

const (
	verifyPath = "/api/v1/verifyMessage"
	// Ballot messages are always hex strings.
	messageFormat = "Base16"
	maxBodyBytes  = 1 << 10
)

// OracleClient asks the explorer API whether a signature is valid. One
// request is made per call; there is no retry.
type OracleClient struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  *log.Entry
}

// NewOracleClient creates a client for the explorer at baseURL. Each Verify
// call is bounded by timeout.
func NewOracleClient(baseURL string, timeout time.Duration, logger log.FieldLogger) *OracleClient {
	return &OracleClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{},
		logger:  logging.Module(logger, "signature/oracle"),
	}
}

// WithHTTPClient swaps the transport, mostly for tests.
func (c *OracleClient) WithHTTPClient(client *http.Client) *OracleClient {
	c.client = client
	return c
}

func (c *OracleClient) requestURL(vote models.Vote) string {
	q := url.Values{}
	q.Set("message", vote.SignedMessage())
	q.Set("signerAddress", vote.Addr)
	q.Set("signature", vote.Signature)
	q.Set("signatureFormat", vote.SigFormat)
	q.Set("messageFormat", messageFormat)
	return c.baseURL + verifyPath + "?" + q.Encode()
}

// Verify asks the oracle about vote's signature.
func (c *OracleClient) Verify(ctx context.Context, vote models.Vote) (bool, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(vote), nil)
	if err != nil {
		return false, fmt.Errorf("%w: build request: %v", ErrOracleUnreachable, err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithFields(log.Fields{
			"event": "oracle_request_failed",
			"addr":  vote.Addr,
			"error": err.Error(),
		}).Warn("signature oracle request failed")
		return false, fmt.Errorf("%w: %v", ErrOracleUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return false, fmt.Errorf("%w: read body: %v", ErrOracleUnreachable, err)
	}

	text := strings.TrimSpace(string(body))
	c.logger.WithFields(log.Fields{
		"event":       "oracle_responded",
		"addr":        vote.Addr,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("signature oracle responded")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("%w: status %d: %q", ErrOracleResponse, resp.StatusCode, text)
	}
	switch text {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrOracleResponse, text)
	}
}
