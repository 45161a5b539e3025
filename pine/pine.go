package pine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/marketflow/tvstream/types"
)

const (
	// DefaultBaseURL serves indicator metadata.
	DefaultBaseURL = "https://pine-facade.tradingview.com"

	defaultOrigin = "https://www.tradingview.com"

	translatePathFormat = "/pine-facade/translate/%s/%s"

	defaultTimeout = 10 * time.Second
	cacheCapacity  = 100
)

// Client fetches indicator descriptors, deduplicating concurrent fetches and
// caching results per (id, version, auth fingerprint) so an anonymous miss
// can never mask an authorized hit.
type Client struct {
	logger  zerolog.Logger
	baseURL string
	origin  string
	client  *http.Client
	group   singleflight.Group
	cache   *descriptorCache
}

var (
	defaultOnce   sync.Once
	defaultClient *Client
)

// Default returns the process-wide metadata client, created on first use.
func Default() *Client {
	defaultOnce.Do(func() {
		defaultClient = New(zerolog.Nop(), DefaultBaseURL)
	})
	return defaultClient
}

// New creates a metadata client against baseURL; empty means DefaultBaseURL.
func New(logger zerolog.Logger, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		logger:  logger.With().Str("module", "pine").Logger(),
		baseURL: strings.TrimRight(baseURL, "/"),
		origin:  defaultOrigin,
		client:  &http.Client{Timeout: defaultTimeout},
		cache:   newDescriptorCache(cacheCapacity),
	}
}

// Descriptor resolves an indicator id and version into its metadata
// descriptor. An empty version means the latest translation.
func (c *Client) Descriptor(ctx context.Context, id, version string, creds types.Credentials) (types.Descriptor, error) {
	if id == "" {
		return types.Descriptor{}, fmt.Errorf("%w: empty indicator id", types.ErrInvalidArgument)
	}
	if version == "" {
		version = "last"
	}

	key := id + "|" + version + "|" + creds.Fingerprint()
	if desc, ok := c.cache.get(key); ok {
		return desc, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if desc, ok := c.cache.get(key); ok {
			return desc, nil
		}
		desc, err := c.fetch(ctx, id, version, creds)
		if err != nil {
			return nil, err
		}
		c.cache.put(key, desc)
		return desc, nil
	})
	if err != nil {
		return types.Descriptor{}, err
	}

	return v.(types.Descriptor), nil
}

func (c *Client) fetch(ctx context.Context, id, version string, creds types.Credentials) (types.Descriptor, error) {
	endpoint := c.baseURL + fmt.Sprintf(translatePathFormat, url.PathEscape(id), url.PathEscape(version))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return types.Descriptor{}, fmt.Errorf("creating translate request: %w", err)
	}
	req.Header.Set("Origin", c.origin)
	req.Header.Set("Referer", c.origin+"/")
	if creds.HasCookie() {
		req.Header.Set("Cookie", creds.Cookie())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return types.Descriptor{}, fmt.Errorf("%w: translate %s: %w", types.ErrFetchFailed, id, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return types.Descriptor{}, fmt.Errorf("%w: indicator %s@%s", types.ErrNotAvailable, id, version)
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.Descriptor{}, fmt.Errorf("%w: indicator %s", types.ErrAuthRequired, id)
	default:
		return types.Descriptor{}, fmt.Errorf("%w: translate %s: status %d", types.ErrFetchFailed, id, resp.StatusCode)
	}

	var tr translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return types.Descriptor{}, fmt.Errorf("%w: decoding translate response: %w", types.ErrFetchFailed, err)
	}
	if !tr.Success {
		return types.Descriptor{}, fmt.Errorf("%w: indicator %s: %s", types.ErrNotAvailable, id, tr.Reason)
	}

	desc := tr.Result.MetaInfo.toDescriptor(id, version)
	c.logger.Debug().
		Str("indicator", id).
		Str("version", version).
		Int("inputs", len(desc.Inputs)).
		Int("plots", len(desc.Plots)).
		Msg("fetched descriptor")

	return desc, nil
}

type (
	// translateResponse is the translate endpoint envelope. ex.:
	// {"success":true,"result":{"metaInfo":{...}}}
	translateResponse struct {
		Success bool            `json:"success"`
		Reason  string          `json:"reason"`
		Result  translateResult `json:"result"`
	}

	translateResult struct {
		MetaInfo metaInfo `json:"metaInfo"`
	}

	// metaInfo carries the script schema; only inputs and plots matter here.
	metaInfo struct {
		Inputs []metaInput `json:"inputs"`
		Plots  []metaPlot  `json:"plots"`
	}

	// metaInput is one schema input. ex.:
	// {"id":"in_0","name":"length","defval":14,"type":"integer","min":1}
	metaInput struct {
		ID      string      `json:"id"`
		Name    string      `json:"name"`
		Type    string      `json:"type"`
		Default interface{} `json:"defval"`
		Min     *float64    `json:"min"`
		Max     *float64    `json:"max"`
		Options []string    `json:"options"`
		Hidden  bool        `json:"isHidden"`
		Fake    bool        `json:"isFake"`
	}

	metaPlot struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
)

// toDescriptor keeps the user-settable in_N inputs in schema order and tags
// the plots with the known output mapping for id.
func (m metaInfo) toDescriptor(id, version string) types.Descriptor {
	desc := types.Descriptor{
		ID:            id,
		Version:       version,
		OutputMapping: outputMappings[id],
	}

	for _, in := range m.Inputs {
		if !strings.HasPrefix(in.ID, "in_") || in.Hidden || in.Fake {
			continue
		}
		name := in.Name
		if name == "" {
			name = in.ID
		}
		desc.Inputs = append(desc.Inputs, types.InputDef{
			Name:    name,
			Type:    mapInputType(in.Type),
			Default: in.Default,
			Min:     floatOrNaN(in.Min),
			Max:     floatOrNaN(in.Max),
			Options: in.Options,
		})
	}

	for _, p := range m.Plots {
		desc.Plots = append(desc.Plots, p.ID)
	}

	return desc
}

// mapInputType folds the schema's type vocabulary onto the wire tags; text,
// source, resolution, and the other exotic kinds all travel as strings.
func mapInputType(t string) string {
	switch t {
	case "integer":
		return types.InputTypeInteger
	case "float":
		return types.InputTypeFloat
	case "bool":
		return types.InputTypeBoolean
	default:
		return types.InputTypeString
	}
}

func floatOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
