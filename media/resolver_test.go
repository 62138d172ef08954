package media

import (
	"context"
	"strings"
	"sync"
	"testing"
)

var rightmoveTemplates = []string{
	"https://media.example.co.uk",
	"https://media.example.co.uk:443",
	"https://media.example.co.uk/dir/crop/10:9-16:9",
}

// fakeProber answers true for URLs that start with one of the live prefixes
type fakeProber struct {
	mu    sync.Mutex
	live  []string
	calls []string
}

func (p *fakeProber) Check(ctx context.Context, url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, url)
	for _, prefix := range p.live {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

func TestCandidates_AbsolutePassThrough(t *testing.T) {
	r := NewResolver(&fakeProber{})
	r.Register("rightmove", rightmoveTemplates)

	got := r.Candidates("rightmove", "https://cdn.other.com/a.jpg")
	if len(got) != 1 || got[0] != "https://cdn.other.com/a.jpg" {
		t.Fatalf("expected pass-through, got %v", got)
	}

	got = r.Candidates("rightmove", "//cdn.other.com/a.jpg")
	if len(got) != 1 || got[0] != "https://cdn.other.com/a.jpg" {
		t.Fatalf("expected scheme-relative ref to gain https, got %v", got)
	}
}

func TestCandidates_TemplateOrder(t *testing.T) {
	r := NewResolver(&fakeProber{})
	r.Register("rightmove", rightmoveTemplates)

	got := r.Candidates("rightmove", "/img/1.jpg")
	want := []string{
		"https://media.example.co.uk/img/1.jpg",
		"https://media.example.co.uk:443/img/1.jpg",
		"https://media.example.co.uk/dir/crop/10:9-16:9/img/1.jpg",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidate %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if r.Resolve("rightmove", "img/1.jpg") != want[0] {
		t.Fatalf("expected Resolve to use first template")
	}
	if got := r.Candidates("unknown", "/img/1.jpg"); len(got) != 0 {
		t.Fatalf("expected no candidates for unregistered provider")
	}
}

func TestResolveLive_CachesWorkingTemplate(t *testing.T) {
	prober := &fakeProber{live: []string{"https://media.example.co.uk/dir/crop/"}}
	r := NewResolver(prober)
	r.Register("rightmove", rightmoveTemplates)

	url, ok := r.ResolveLive(context.Background(), "rightmove", "/img/1.jpg")
	if !ok {
		t.Fatalf("expected crop template to resolve")
	}
	if url != "https://media.example.co.uk/dir/crop/10:9-16:9/img/1.jpg" {
		t.Fatalf("unexpected url %s", url)
	}
	if len(prober.calls) != 3 {
		t.Fatalf("expected 3 probes for first image, got %d", len(prober.calls))
	}

	tmpl, ok := r.Chosen("rightmove")
	if !ok || tmpl != rightmoveTemplates[2] {
		t.Fatalf("expected crop template cached, got %q", tmpl)
	}

	prober.calls = nil
	url, ok = r.ResolveLive(context.Background(), "rightmove", "/img/2.jpg")
	if !ok || url != "https://media.example.co.uk/dir/crop/10:9-16:9/img/2.jpg" {
		t.Fatalf("unexpected sibling resolution %s %v", url, ok)
	}
	if len(prober.calls) != 1 {
		t.Fatalf("expected sibling image to be probed once, got %d", len(prober.calls))
	}

	r.Reset()
	if _, ok := r.Chosen("rightmove"); ok {
		t.Fatalf("expected cache cleared after Reset")
	}
}

func TestResolveLive_NothingReachable(t *testing.T) {
	r := NewResolver(&fakeProber{})
	r.Register("rightmove", rightmoveTemplates)

	if _, ok := r.ResolveLive(context.Background(), "rightmove", "/img/1.jpg"); ok {
		t.Fatalf("expected no resolution")
	}
	if _, ok := r.Chosen("rightmove"); ok {
		t.Fatalf("nothing should be cached")
	}
}

func TestRefFromURL(t *testing.T) {
	r := NewResolver(&fakeProber{})
	r.Register("rightmove", rightmoveTemplates)

	ref, ok := r.RefFromURL("rightmove", "https://media.example.co.uk/dir/crop/10:9-16:9/img/1.jpg")
	if !ok || ref != "/img/1.jpg" {
		t.Fatalf("expected longest template stripped, got %q %v", ref, ok)
	}

	if _, ok := r.RefFromURL("rightmove", "https://elsewhere.com/img/1.jpg"); ok {
		t.Fatalf("expected foreign URL to be rejected")
	}
}

func TestProviders_Sorted(t *testing.T) {
	r := NewResolver(&fakeProber{})
	for _, id := range []string{"zoopla", "rightmove", "unite", "homes4students"} {
		r.Register(id, rightmoveTemplates)
	}

	want := []string{"homes4students", "rightmove", "unite", "zoopla"}
	for i := 0; i < 3; i++ {
		got := r.Providers()
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("expected %v, got %v", want, got)
			}
		}
	}
}
