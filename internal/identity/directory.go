package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const DefaultDirectoryURL = "https://plc.directory"

// Directory performs the remote lookup of a did's current handle.
type Directory interface {
	Lookup(ctx context.Context, did string) (*string, error)
}

// PLCDirectory resolves did:plc identifiers against a PLC directory server.
type PLCDirectory struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

type DirectoryOption func(*PLCDirectory)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(client *http.Client) DirectoryOption {
	return func(d *PLCDirectory) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRateLimit caps outgoing lookups at perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) DirectoryOption {
	return func(d *PLCDirectory) {
		if perSecond <= 0 {
			d.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func NewPLCDirectory(baseURL string, opts ...DirectoryOption) *PLCDirectory {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultDirectoryURL
	}
	d := &PLCDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type plcDocument struct {
	AlsoKnownAs []json.RawMessage `json:"alsoKnownAs"`
}

// Lookup fetches the did document and returns its last alsoKnownAs entry. A
// document without string aliases resolves to nil, not an error.
func (d *PLCDirectory) Lookup(ctx context.Context, did string) (*string, error) {
	if !strings.HasPrefix(did, "did:plc:") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, did)
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for directory rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/"+did, nil)
	if err != nil {
		return nil, fmt.Errorf("build directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("directory returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc plcDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode did document: %w", err)
	}
	if len(doc.AlsoKnownAs) == 0 {
		return nil, nil
	}

	var handle string
	if err := json.Unmarshal(doc.AlsoKnownAs[len(doc.AlsoKnownAs)-1], &handle); err != nil {
		return nil, nil
	}
	return &handle, nil
}
