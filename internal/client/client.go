package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/nearby/internal/models"
)

// ErrNetwork wraps every failure to get a successful answer from the
// server: transport errors, timeouts and non-2xx responses.
var ErrNetwork = errors.New("network error")

// APIError is a non-2xx response. It unwraps to ErrNetwork.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return ErrNetwork }

// Client talks to the nearby HTTP API.
type Client struct {
	base string
	http *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: timeout})
}

func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

type registerBody struct {
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Register creates a user at c and returns the stored record.
func (c *Client) Register(ctx context.Context, name string, at models.Coord) (models.Entity, error) {
	b, err := json.Marshal(registerBody{Name: name, Latitude: at.Lat, Longitude: at.Lng})
	if err != nil {
		return models.Entity{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/users", bytes.NewReader(b))
	if err != nil {
		return models.Entity{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		User models.Entity `json:"user"`
	}
	if err := c.do(req, &out); err != nil {
		return models.Entity{}, err
	}
	return out.User, nil
}

// Close reports at as id's position and returns the nearest other users.
func (c *Client) Close(ctx context.Context, id string, at models.Coord) ([]models.RankedResult, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(at.Lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(at.Lng, 'f', -1, 64))
	u := c.base + "/users/close/" + url.PathEscape(id) + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var out []models.RankedResult
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.RankedResult{}
	}
	return out, nil
}

// User fetches a single user.
func (c *Client) User(ctx context.Context, id string) (models.Entity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/users/"+url.PathEscape(id), nil)
	if err != nil {
		return models.Entity{}, err
	}
	var out models.Entity
	if err := c.do(req, &out); err != nil {
		return models.Entity{}, err
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrNetwork, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(body))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrNetwork, err)
	}
	return nil
}
