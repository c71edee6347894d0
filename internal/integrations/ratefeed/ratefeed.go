package ratefeed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Client fetches the fiat price of one native token from an XML feed
type Client struct {
	url    string
	path   string
	client *http.Client
	log    *logrus.Logger
}

// NewClient initializes a feed client. path is an etree path selecting the
// element whose text holds the rate, e.g. "//Valute[@ID='MON']/Value".
func NewClient(url, path string, log *logrus.Logger) *Client {
	return &Client{
		url:  url,
		path: path,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

func (c *Client) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.log.Debugf("Rate feed XML response: %s", string(body))
	return body, nil
}

// Parse extracts the rate at path from an XML document. Decimal commas
// are accepted.
func Parse(raw []byte, path string) (decimal.Decimal, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse XML: %w", err)
	}

	p, err := etree.CompilePath(path)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid rate path %q: %w", path, err)
	}
	el := doc.FindElementPath(p)
	if el == nil {
		return decimal.Zero, fmt.Errorf("no rate found at %s", path)
	}

	text := strings.ReplaceAll(strings.TrimSpace(el.Text()), ",", ".")
	rate, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse rate %q: %w", text, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("rate must be positive, got %s", rate)
	}
	return rate, nil
}

// FiatPerNative retrieves the current rate from the feed
func (c *Client) FiatPerNative(ctx context.Context) (decimal.Decimal, error) {
	body, err := c.fetch(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	rate, err := Parse(body, c.path)
	if err != nil {
		return decimal.Zero, err
	}
	c.log.Infof("Retrieved exchange rate: %s fiat per native unit", rate)
	return rate, nil
}
