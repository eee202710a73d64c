package eval

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"herald/internal/directory"
	"herald/pkg/logx"
)

// fakeResolver serves canned directory data and records which calls asked
// for fresh results.
type fakeResolver struct {
	regions    map[string][]string
	tagRegions map[string][]string
	members    []string
	delegates  []string
	events     []directory.Event
	categories map[string]string
	census     map[string]float64

	freshCalls int
	calls      int

	// err fails the per-nation attribute lookups (category, census).
	err error
}

func (f *fakeResolver) bump(fresh bool) {
	f.calls++
	if fresh {
		f.freshCalls++
	}
}

func (f *fakeResolver) RegionNations(_ context.Context, region string, fresh bool) ([]string, error) {
	f.bump(fresh)
	ns, ok := f.regions[region]
	if !ok {
		return nil, &directory.RemoteError{Status: 404, Body: "Unknown region: " + region}
	}
	return ns, nil
}

func (f *fakeResolver) RegionsByTag(_ context.Context, tags []string, fresh bool) ([]string, error) {
	f.bump(fresh)
	var out []string
	for _, t := range tags {
		out = append(out, f.tagRegions[t]...)
	}
	return out, nil
}

func (f *fakeResolver) WAMembers(_ context.Context, fresh bool) ([]string, error) {
	f.bump(fresh)
	return f.members, nil
}

func (f *fakeResolver) WADelegates(_ context.Context, fresh bool) ([]string, error) {
	f.bump(fresh)
	return f.delegates, nil
}

func (f *fakeResolver) Happenings(_ context.Context, filter string, limit int, fresh bool) ([]directory.Event, error) {
	f.bump(fresh)
	if limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func (f *fakeResolver) NationCategory(_ context.Context, nation string, fresh bool) (string, error) {
	f.bump(fresh)
	if f.err != nil {
		return "", f.err
	}
	cat, ok := f.categories[nation]
	if !ok {
		return "", &directory.RemoteError{Status: 200, Body: "Unknown nation: " + nation}
	}
	return cat, nil
}

func (f *fakeResolver) CensusScore(_ context.Context, nation string, scale int, fresh bool) (float64, error) {
	f.bump(fresh)
	if f.err != nil {
		return 0, f.err
	}
	score, ok := f.census[nation]
	if !ok {
		return 0, &directory.RemoteError{Status: 200, Body: "Unknown nation: " + nation}
	}
	return score, nil
}

func evalString(t *testing.T, res *fakeResolver, q string, rules CacheRules) []string {
	t.Helper()
	out, err := New(res, logx.Nop()).Evaluate(context.Background(), q, rules)
	if err != nil {
		t.Fatalf("Evaluate(%q) error: %v", q, err)
	}
	return out
}

func TestEvaluateSetAlgebra(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{
		regions: map[string][]string{
			"lazarus": {"alpha", "beta", "gamma"},
		},
		members: []string{"beta", "delta"},
	}
	tests := []struct {
		name string
		q    string
		want []string
	}{
		{name: "add", q: "nations [A, B];", want: []string{"a", "b"}},
		{name: "remove", q: "nations [A, B]; -nations [B];", want: []string{"a"}},
		{name: "limit", q: "regions [lazarus]; /wa [members];", want: []string{"beta"}},
		{name: "dedupe keeps first occurrence", q: "nations [B, A]; nations [A, C];", want: []string{"b", "a", "c"}},
		{name: "normalization", q: "nations [North Pacific Region];", want: []string{"north_pacific_region"}},
		{name: "group add", q: "(nations [A]; nations [B];);", want: []string{"a", "b"}},
		{name: "group remove", q: "regions [lazarus]; -(wa [members];);", want: []string{"alpha", "gamma"}},
		{name: "remove then re-add", q: "nations [A, B]; -nations [B]; nations [B];", want: []string{"a", "b"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := evalString(t, res, tt.q, nil)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Evaluate(%q) = %v, want %v", tt.q, got, tt.want)
			}
		})
	}
}

func TestEvaluateTags(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{
		tagRegions: map[string][]string{"frontier": {"lazarus", "balder"}},
		regions: map[string][]string{
			"lazarus": {"alpha"},
			"balder":  {"beta"},
		},
	}
	got := evalString(t, res, "tags [frontier];", nil)
	want := []string{"alpha", "beta"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tags = %v, want %v", got, want)
	}
}

func TestEvaluateFoundings(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{events: []directory.Event{
		{ID: 1, Text: "@@new_dawn@@ was founded in %%lazarus%%."},
		{ID: 2, Text: "@@old_guard@@ was refounded in %%balder%%."},
		{ID: 3, Text: "@@young_blood@@ was founded in %%lazarus%%."},
	}}

	got := evalString(t, res, "new [10];", nil)
	if want := []string{"new_dawn", "young_blood"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("new = %v, want %v", got, want)
	}

	got = evalString(t, res, "refounded [10];", nil)
	if want := []string{"old_guard"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("refounded = %v, want %v", got, want)
	}
}

func TestEvaluateWADelegates(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{delegates: []string{"Chief Consul"}}
	got := evalString(t, res, "wa [delegates];", nil)
	if want := []string{"chief_consul"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("delegates = %v, want %v", got, want)
	}
}

func TestEvaluateFilters(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{
		regions:    map[string][]string{"lazarus": {"alpha", "beta", "gamma"}},
		categories: map[string]string{"alpha": "Anarchy", "beta": "Psychotic Dictatorship", "gamma": "Anarchy"},
		census:     map[string]float64{"alpha": 5, "beta": 50, "gamma": 500},
	}

	got := evalString(t, res, "regions [lazarus]; /categories [anarchy];", nil)
	if want := []string{"alpha", "gamma"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("limit categories = %v, want %v", got, want)
	}

	got = evalString(t, res, "regions [lazarus]; -categories [anarchy];", nil)
	if want := []string{"beta"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("remove categories = %v, want %v", got, want)
	}

	got = evalString(t, res, "regions [lazarus]; /census [1, 0, 100];", nil)
	if want := []string{"alpha", "beta"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("limit census = %v, want %v", got, want)
	}

	got = evalString(t, res, "regions [lazarus]; -census [1, 0, 100];", nil)
	if want := []string{"gamma"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("remove census = %v, want %v", got, want)
	}
}

func TestEvaluateFilterAddRejected(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{}
	for _, q := range []string{"census [1, 0, 10];", "+categories [anarchy];", "nations [A]; categories [anarchy];"} {
		_, err := New(res, logx.Nop()).Evaluate(context.Background(), q, nil)
		var uerr *UnsupportedActionError
		if !errors.As(err, &uerr) {
			t.Fatalf("Evaluate(%q) error = %v, want *UnsupportedActionError", q, err)
		}
	}
}

func TestEvaluateFilterUnknownNationSkipped(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{
		regions:    map[string][]string{"lazarus": {"alpha", "ghost", "beta"}},
		categories: map[string]string{"alpha": "Anarchy", "beta": "Anarchy"},
	}
	// "ghost" is unknown to the directory: treated as a non-match, not fatal.
	got := evalString(t, res, "regions [lazarus]; /categories [anarchy];", nil)
	if want := []string{"alpha", "beta"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("filter with unknown nation = %v, want %v", got, want)
	}
}

func TestEvaluateFilterOtherErrorsFatal(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{
		regions: map[string][]string{"lazarus": {"alpha"}},
	}
	res.categories = nil
	res.err = fmt.Errorf("connection reset")

	_, err := New(res, logx.Nop()).Evaluate(context.Background(), "regions [lazarus]; /categories [anarchy];", nil)
	if err == nil || err.Error() != "connection reset" {
		t.Fatalf("expected the remote failure to abort evaluation, got %v", err)
	}
}

func TestEvaluateParseErrorsSurface(t *testing.T) {
	t.Parallel()
	_, err := New(&fakeResolver{}, logx.Nop()).Evaluate(context.Background(), "nations [A]", nil)
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEvaluateCacheRules(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{regions: map[string][]string{"lazarus": {"alpha"}}}
	rules := CacheRules{"regions": true}
	evalString(t, res, "regions [lazarus];", rules)
	if res.freshCalls != 1 {
		t.Fatalf("fresh calls = %d, want 1", res.freshCalls)
	}

	res.freshCalls = 0
	evalString(t, res, "regions [lazarus];", nil)
	if res.freshCalls != 0 {
		t.Fatalf("fresh calls without rules = %d, want 0", res.freshCalls)
	}
}

func TestEvaluateDeterminism(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{
		regions: map[string][]string{"lazarus": {"alpha", "beta", "gamma"}},
		members: []string{"beta"},
	}
	q := "regions [lazarus]; -wa [members]; nations [Omega];"
	first := evalString(t, res, q, nil)
	second := evalString(t, res, q, nil)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("evaluation is not deterministic: %v vs %v", first, second)
	}
}
