package directory

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"herald/pkg/logx"
)

const defaultBaseURL = "https://www.nationstates.net/cgi-bin/api.cgi"

// Config tunes the HTTP client. Zero values fall back to the directory's
// published limits: 50 reads per 30 seconds, one standard telegram per 30
// seconds, one recruitment telegram per 180 seconds.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	CacheTTL  time.Duration

	ReadsPer30s   int
	StandardDelay time.Duration
	RecruitDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.ReadsPer30s <= 0 {
		c.ReadsPer30s = 50
	}
	if c.StandardDelay <= 0 {
		c.StandardDelay = 30 * time.Second
	}
	if c.RecruitDelay <= 0 {
		c.RecruitDelay = 180 * time.Second
	}
	return c
}

// HTTPClient implements Client against a live directory endpoint.
type HTTPClient struct {
	cfg  Config
	http *http.Client
	log  logx.Logger

	reads   *rate.Limiter // shared read budget
	tg      *rate.Limiter // standard telegram pacing
	recruit *rate.Limiter // recruitment telegram pacing
	cache   *ttlCache
}

func NewHTTP(cfg Config, log logx.Logger) *HTTPClient {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log.With(logx.String("component", "directory")),
		reads:   rate.NewLimiter(rate.Limit(float64(cfg.ReadsPer30s)/30.0), 1),
		tg:      rate.NewLimiter(rate.Every(cfg.StandardDelay), 1),
		recruit: rate.NewLimiter(rate.Every(cfg.RecruitDelay), 1),
		cache:   newTTLCache(),
	}
}

// fetchCached serves key from the cache unless fresh is set. A fetched
// result always replaces the cached entry, fresh or not.
func fetchCached[T any](ctx context.Context, c *HTTPClient, key string, fresh bool, fn func(context.Context) (T, error)) (T, error) {
	if !fresh {
		if v, ok := c.cache.get(key, time.Now()); ok {
			if t, ok := v.(T); ok {
				return t, nil
			}
		}
	}
	t, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.cache.put(key, t, time.Now().Add(c.cfg.CacheTTL))
	return t, nil
}

func (c *HTTPClient) get(ctx context.Context, params url.Values) ([]byte, error) {
	if err := c.reads.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("directory: reading response: %w", err)
	}
	c.log.Trace("request", logx.String("q", params.Get("q")), logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		return nil, &RemoteError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// ---- reads ----

func (c *HTTPClient) RegionNations(ctx context.Context, region string, fresh bool) ([]string, error) {
	return fetchCached(ctx, c, "region_nations:"+region, fresh, func(ctx context.Context) ([]string, error) {
		params := url.Values{}
		params.Set("region", region)
		params.Set("q", "nations")
		body, err := c.get(ctx, params)
		if err != nil {
			return nil, err
		}
		var v struct {
			Nations string `xml:"NATIONS"`
		}
		if err := xml.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("directory: decoding region nations: %w", err)
		}
		return splitList(v.Nations, ":"), nil
	})
}

func (c *HTTPClient) RegionsByTag(ctx context.Context, tags []string, fresh bool) ([]string, error) {
	joined := strings.Join(tags, ",")
	return fetchCached(ctx, c, "regions_by_tag:"+joined, fresh, func(ctx context.Context) ([]string, error) {
		params := url.Values{}
		params.Set("q", "regionsbytag;tags="+joined)
		body, err := c.get(ctx, params)
		if err != nil {
			return nil, err
		}
		var v struct {
			Regions string `xml:"REGIONS"`
		}
		if err := xml.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("directory: decoding regions by tag: %w", err)
		}
		return splitList(v.Regions, ","), nil
	})
}

func (c *HTTPClient) WAMembers(ctx context.Context, fresh bool) ([]string, error) {
	return fetchCached(ctx, c, "wa_members", fresh, func(ctx context.Context) ([]string, error) {
		return c.waRoll(ctx, "members")
	})
}

func (c *HTTPClient) WADelegates(ctx context.Context, fresh bool) ([]string, error) {
	return fetchCached(ctx, c, "wa_delegates", fresh, func(ctx context.Context) ([]string, error) {
		return c.waRoll(ctx, "delegates")
	})
}

func (c *HTTPClient) waRoll(ctx context.Context, which string) ([]string, error) {
	params := url.Values{}
	params.Set("wa", "1")
	params.Set("q", which)
	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}
	var v struct {
		Members   string `xml:"MEMBERS"`
		Delegates string `xml:"DELEGATES"`
	}
	if err := xml.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("directory: decoding wa %s: %w", which, err)
	}
	if which == "delegates" {
		return splitList(v.Delegates, ","), nil
	}
	return splitList(v.Members, ","), nil
}

func (c *HTTPClient) Happenings(ctx context.Context, filter string, limit int, fresh bool) ([]Event, error) {
	key := fmt.Sprintf("happenings:%s:%d", filter, limit)
	return fetchCached(ctx, c, key, fresh, func(ctx context.Context) ([]Event, error) {
		params := url.Values{}
		params.Set("q", fmt.Sprintf("happenings;filter=%s;limit=%d", filter, limit))
		body, err := c.get(ctx, params)
		if err != nil {
			return nil, err
		}
		var v struct {
			Events []struct {
				ID        uint64 `xml:"id,attr"`
				Timestamp int64  `xml:"TIMESTAMP"`
				Text      string `xml:"TEXT"`
			} `xml:"HAPPENINGS>EVENT"`
		}
		if err := xml.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("directory: decoding happenings: %w", err)
		}
		evs := make([]Event, 0, len(v.Events))
		for _, e := range v.Events {
			evs = append(evs, Event{ID: e.ID, At: time.Unix(e.Timestamp, 0), Text: e.Text})
		}
		return evs, nil
	})
}

func (c *HTTPClient) NationCategory(ctx context.Context, nation string, fresh bool) (string, error) {
	return fetchCached(ctx, c, "category:"+nation, fresh, func(ctx context.Context) (string, error) {
		params := url.Values{}
		params.Set("nation", nation)
		params.Set("q", "category")
		body, err := c.get(ctx, params)
		if err != nil {
			return "", err
		}
		var v struct {
			Category string `xml:"CATEGORY"`
		}
		if err := xml.Unmarshal(body, &v); err != nil {
			return "", fmt.Errorf("directory: decoding nation category: %w", err)
		}
		return v.Category, nil
	})
}

func (c *HTTPClient) CensusScore(ctx context.Context, nation string, scale int, fresh bool) (float64, error) {
	key := fmt.Sprintf("census:%s:%d", nation, scale)
	return fetchCached(ctx, c, key, fresh, func(ctx context.Context) (float64, error) {
		params := url.Values{}
		params.Set("nation", nation)
		params.Set("q", fmt.Sprintf("census;scale=%d;mode=score", scale))
		body, err := c.get(ctx, params)
		if err != nil {
			return 0, err
		}
		var v struct {
			Scales []struct {
				ID    int     `xml:"id,attr"`
				Score float64 `xml:"SCORE"`
			} `xml:"CENSUS>SCALE"`
		}
		if err := xml.Unmarshal(body, &v); err != nil {
			return 0, fmt.Errorf("directory: decoding census: %w", err)
		}
		for _, s := range v.Scales {
			if s.ID == scale {
				return s.Score, nil
			}
		}
		return 0, fmt.Errorf("directory: census response is missing scale %d", scale)
	})
}

// CanReceive asks whether the nation currently accepts telegrams of the
// given class. Never cached; the answer changes as telegrams go out.
func (c *HTTPClient) CanReceive(ctx context.Context, nation string, class TelegramClass, from string) (bool, error) {
	params := url.Values{}
	params.Set("nation", nation)
	if class == ClassRecruitment {
		params.Set("q", "tgcanrecruit")
		if from != "" {
			params.Set("from", from)
		}
	} else {
		params.Set("q", "tgcancampaign")
	}
	body, err := c.get(ctx, params)
	if err != nil {
		return false, err
	}
	var v struct {
		CanRecruit  *int `xml:"TGCANRECRUIT"`
		CanCampaign *int `xml:"TGCANCAMPAIGN"`
	}
	if err := xml.Unmarshal(body, &v); err != nil {
		return false, fmt.Errorf("directory: decoding eligibility: %w", err)
	}
	if class == ClassRecruitment && v.CanRecruit != nil {
		return *v.CanRecruit == 1, nil
	}
	if class != ClassRecruitment && v.CanCampaign != nil {
		return *v.CanCampaign == 1, nil
	}
	return false, fmt.Errorf("directory: eligibility response is missing the %s flag", class)
}

// SendTelegram queues one telegram with the directory. The per-class pacer
// is waited on first so a recruitment job can never burn the standard
// budget, then the shared read bucket covers the HTTP call itself.
func (c *HTTPClient) SendTelegram(ctx context.Context, creds Credentials, tg Telegram, recipient string) error {
	pacer := c.tg
	if tg.Class == ClassRecruitment {
		pacer = c.recruit
	}
	if err := pacer.Wait(ctx); err != nil {
		return err
	}

	params := url.Values{}
	params.Set("a", "sendTG")
	params.Set("client", creds.ClientKey)
	params.Set("tgid", tg.ID)
	params.Set("key", tg.SecretKey)
	params.Set("to", recipient)
	body, err := c.get(ctx, params)
	if err != nil {
		return err
	}
	if !strings.Contains(strings.ToLower(string(body)), "queued") {
		return &RemoteError{Status: http.StatusOK, Body: string(body)}
	}
	c.log.Debug("telegram queued", logx.String("to", recipient), logx.String("tgid", tg.ID), logx.String("class", tg.Class.String()))
	return nil
}

func splitList(raw, sep string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var _ Client = (*HTTPClient)(nil)
