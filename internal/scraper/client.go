package scraper

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"auction-tracker/internal/ratelimit"

	"github.com/PuerkitoBio/goquery"
)

// Client is the shared HTTP layer for all source adapters: cookiejar-backed
// sessions, browser-like headers, retry with exponential backoff, pacing and
// a circuit breaker against source-wide blocks.
type Client struct {
	http       *http.Client
	maxRetries int
	retryDelay time.Duration
	pacer      *ratelimit.Pacer
	breaker    *CircuitBreaker
	userAgent  string
}

// ClientConfig configures a scraper client.
type ClientConfig struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	RequestDelay time.Duration
}

// NewClient creates a client with its own cookie jar and pacing state.
// Sources get separate clients so their sessions and pacing do not mix.
func NewClient(cfg ClientConfig) *Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Printf("[Client] Warning: failed to create cookie jar: %v", err)
		jar = nil
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	return &Client{
		http: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
		},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		pacer:      ratelimit.NewPacer(cfg.RequestDelay, cfg.RequestDelay/2),
		breaker:    NewCircuitBreaker(8, time.Hour),
		userAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	}
}

// applyBrowserHeaders sets browser-like headers; scraped sites answer
// differently to obvious robots.
func (c *Client) applyBrowserHeaders(req *http.Request, referer string) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Connection", "keep-alive")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
}

// Do performs the request with pacing, the circuit breaker and exponential
// backoff retries. Client errors other than 429 are not retried.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if !c.breaker.CanProceed() {
		open, failures, total := c.breaker.Status()
		return nil, fmt.Errorf("circuit breaker open: suspected source-wide block (%d/%d failures, open=%v)", failures, total, open)
	}

	c.pacer.Wait()

	var resp *http.Response
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.retryDelay
			if backoff > 60*time.Second {
				backoff = 60 * time.Second
			}
			log.Printf("[Client] Retry %d/%d for %s after %v", attempt, c.maxRetries, req.URL, backoff)
			time.Sleep(backoff)
		}

		resp, err = c.http.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			c.breaker.RecordSuccess()
			return resp, nil
		}

		if err != nil {
			log.Printf("[Client] Request failed (attempt %d): %v", attempt+1, err)
			c.breaker.RecordFailure(0)
			continue
		}

		log.Printf("[Client] Request failed (attempt %d): status %d for %s", attempt+1, resp.StatusCode, req.URL)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
			c.breaker.RecordFailure(resp.StatusCode)
		}
		status := resp.StatusCode
		resp.Body.Close()

		if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			return nil, fmt.Errorf("request failed: status code %d", status)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("request failed after %d retries: %w", c.maxRetries, err)
	}
	return nil, fmt.Errorf("request failed after %d retries: status code %d", c.maxRetries, resp.StatusCode)
}

// GetBody fetches a URL and returns the (gzip-decoded) body.
func (c *Client) GetBody(url, referer string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.applyBrowserHeaders(req, referer)

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}

// GetDocument fetches a URL and parses it as HTML.
func (c *Client) GetDocument(url, referer string) (*goquery.Document, error) {
	body, err := c.GetBody(url, referer)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// PostForm posts a urlencoded form with the given extra headers and returns
// the raw body. Used by the partial-postback adapter.
func (c *Client) PostForm(url string, form string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(form))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.applyBrowserHeaders(req, url)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(reader)
}

// PostJSON posts a JSON payload and returns the raw body.
func (c *Client) PostJSON(url string, payload []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.applyBrowserHeaders(req, url)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(reader)
}

func decodeBody(resp *http.Response) (io.Reader, error) {
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gz, nil
	}
	return resp.Body, nil
}
