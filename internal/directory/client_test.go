package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"herald/pkg/logx"
)

// fastConfig keeps the limiters out of the way so tests never sleep on a
// rate budget.
func fastConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		UserAgent:     "herald test",
		Timeout:       5 * time.Second,
		CacheTTL:      time.Minute,
		ReadsPer30s:   30000,
		StandardDelay: time.Millisecond,
		RecruitDelay:  time.Millisecond,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewHTTP(fastConfig(srv.URL), logx.Nop()), &hits
}

func TestRegionNations(t *testing.T) {
	t.Parallel()
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("region"); got != "lazarus" {
			t.Errorf("region = %q, want lazarus", got)
		}
		if got := r.Header.Get("User-Agent"); got != "herald test" {
			t.Errorf("user agent = %q", got)
		}
		fmt.Fprint(w, `<REGION><NATIONS>alpha:beta:gamma</NATIONS></REGION>`)
	})

	got, err := c.RegionNations(context.Background(), "lazarus", false)
	if err != nil {
		t.Fatalf("RegionNations error: %v", err)
	}
	if want := []string{"alpha", "beta", "gamma"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("nations = %v, want %v", got, want)
	}

	// Second lookup is served from cache.
	if _, err := c.RegionNations(context.Background(), "lazarus", false); err != nil {
		t.Fatalf("cached lookup error: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("requests = %d, want 1 (cache hit expected)", hits.Load())
	}

	// fresh bypasses the cache and refreshes the entry.
	if _, err := c.RegionNations(context.Background(), "lazarus", true); err != nil {
		t.Fatalf("fresh lookup error: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("requests = %d, want 2 after fresh lookup", hits.Load())
	}
}

func TestRegionsByTag(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if !strings.Contains(q, "regionsbytag") || !strings.Contains(q, "tags=frontier,founderless") {
			t.Errorf("q = %q", q)
		}
		fmt.Fprint(w, `<WORLD><REGIONS>lazarus,balder</REGIONS></WORLD>`)
	})

	got, err := c.RegionsByTag(context.Background(), []string{"frontier", "founderless"}, false)
	if err != nil {
		t.Fatalf("RegionsByTag error: %v", err)
	}
	if want := []string{"lazarus", "balder"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("regions = %v, want %v", got, want)
	}
}

func TestWARolls(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("q") {
		case "members":
			fmt.Fprint(w, `<WA><MEMBERS>alpha,beta</MEMBERS></WA>`)
		case "delegates":
			fmt.Fprint(w, `<WA><DELEGATES>gamma</DELEGATES></WA>`)
		default:
			http.Error(w, "bad q", http.StatusBadRequest)
		}
	})

	members, err := c.WAMembers(context.Background(), false)
	if err != nil {
		t.Fatalf("WAMembers error: %v", err)
	}
	if want := []string{"alpha", "beta"}; !reflect.DeepEqual(members, want) {
		t.Fatalf("members = %v, want %v", members, want)
	}

	delegates, err := c.WADelegates(context.Background(), false)
	if err != nil {
		t.Fatalf("WADelegates error: %v", err)
	}
	if want := []string{"gamma"}; !reflect.DeepEqual(delegates, want) {
		t.Fatalf("delegates = %v, want %v", delegates, want)
	}
}

func TestHappenings(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if !strings.Contains(q, "filter=founding") || !strings.Contains(q, "limit=2") {
			t.Errorf("q = %q", q)
		}
		io.WriteString(w, `<WORLD><HAPPENINGS>
			<EVENT id="7"><TIMESTAMP>1700000000</TIMESTAMP><TEXT>@@new_dawn@@ was founded in %%lazarus%%.</TEXT></EVENT>
			<EVENT id="8"><TIMESTAMP>1700000060</TIMESTAMP><TEXT>@@old_guard@@ was refounded in %%balder%%.</TEXT></EVENT>
		</HAPPENINGS></WORLD>`)
	})

	evs, err := c.Happenings(context.Background(), "founding", 2, false)
	if err != nil {
		t.Fatalf("Happenings error: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("events = %d, want 2", len(evs))
	}
	if evs[0].ID != 7 || !strings.Contains(evs[0].Text, "new_dawn") {
		t.Fatalf("first event = %+v", evs[0])
	}
	if evs[1].At.Unix() != 1700000060 {
		t.Fatalf("second event time = %v", evs[1].At)
	}
}

func TestNationCategoryAndCensus(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Query().Get("q"), "census") {
			fmt.Fprint(w, `<NATION><CENSUS><SCALE id="1"><SCORE>42.5</SCORE></SCALE></CENSUS></NATION>`)
			return
		}
		fmt.Fprint(w, `<NATION><CATEGORY>Psychotic Dictatorship</CATEGORY></NATION>`)
	})

	cat, err := c.NationCategory(context.Background(), "testlandia", false)
	if err != nil {
		t.Fatalf("NationCategory error: %v", err)
	}
	if cat != "Psychotic Dictatorship" {
		t.Fatalf("category = %q", cat)
	}

	score, err := c.CensusScore(context.Background(), "testlandia", 1, false)
	if err != nil {
		t.Fatalf("CensusScore error: %v", err)
	}
	if score != 42.5 {
		t.Fatalf("score = %v, want 42.5", score)
	}
}

func TestCanReceive(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("q") {
		case "tgcanrecruit":
			if got := r.URL.Query().Get("from"); got != "lazarus" {
				t.Errorf("from = %q, want lazarus", got)
			}
			fmt.Fprint(w, `<NATION><TGCANRECRUIT>1</TGCANRECRUIT></NATION>`)
		case "tgcancampaign":
			fmt.Fprint(w, `<NATION><TGCANCAMPAIGN>0</TGCANCAMPAIGN></NATION>`)
		default:
			http.Error(w, "bad q", http.StatusBadRequest)
		}
	})

	ok, err := c.CanReceive(context.Background(), "alpha", ClassRecruitment, "lazarus")
	if err != nil {
		t.Fatalf("CanReceive recruitment error: %v", err)
	}
	if !ok {
		t.Fatal("recruitment eligibility = false, want true")
	}

	ok, err = c.CanReceive(context.Background(), "alpha", ClassStandard, "")
	if err != nil {
		t.Fatalf("CanReceive standard error: %v", err)
	}
	if ok {
		t.Fatal("campaign eligibility = true, want false")
	}
}

func TestSendTelegram(t *testing.T) {
	t.Parallel()
	var lastQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		lastQuery = r.URL.RawQuery
		fmt.Fprint(w, "queued")
	})

	creds := Credentials{ClientKey: "ck"}
	tg := Telegram{ID: "42", SecretKey: "sk", Class: ClassStandard}
	if err := c.SendTelegram(context.Background(), creds, tg, "testlandia"); err != nil {
		t.Fatalf("SendTelegram error: %v", err)
	}
	for _, frag := range []string{"a=sendTG", "client=ck", "tgid=42", "key=sk", "to=testlandia"} {
		if !strings.Contains(lastQuery, frag) {
			t.Fatalf("query %q is missing %q", lastQuery, frag)
		}
	}
}

func TestSendTelegramNotQueued(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Invalid client key")
	})

	err := c.SendTelegram(context.Background(), Credentials{}, Telegram{}, "testlandia")
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *RemoteError", err)
	}
}

func TestRemoteErrors(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unknown nation: ghost", http.StatusNotFound)
	})

	_, err := c.NationCategory(context.Background(), "ghost", false)
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *RemoteError", err)
	}
	if re.Status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", re.Status)
	}
	if !IsUnknownNation(err) {
		t.Fatal("IsUnknownNation = false, want true")
	}
}

func TestIsUnknownNation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "404", err: &RemoteError{Status: 404}, want: true},
		{name: "body marker", err: &RemoteError{Status: 200, Body: "Unknown Nation: x"}, want: true},
		{name: "other remote", err: &RemoteError{Status: 500, Body: "boom"}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "wrapped", err: fmt.Errorf("lookup: %w", &RemoteError{Status: 404}), want: true},
		{name: "nil", err: nil, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnknownNation(tt.err); got != tt.want {
				t.Fatalf("IsUnknownNation = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	t.Parallel()
	if got := splitList("", ":"); got != nil {
		t.Fatalf("empty input = %v, want nil", got)
	}
	if got := splitList("a: b :c", ":"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("split = %v", got)
	}
}

func TestCacheExpiry(t *testing.T) {
	t.Parallel()
	cache := newTTLCache()
	now := time.Now()
	cache.put("k", "v", now.Add(time.Minute))

	if v, ok := cache.get("k", now); !ok || v != "v" {
		t.Fatalf("get before expiry = %v, %v", v, ok)
	}
	if _, ok := cache.get("k", now.Add(2*time.Minute)); ok {
		t.Fatal("entry should have expired")
	}
	if _, ok := cache.get("missing", now); ok {
		t.Fatal("missing key should not be found")
	}
}
