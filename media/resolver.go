package media

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
)

// Prober answers whether a URL is currently reachable
type Prober interface {
	Check(ctx context.Context, url string) bool
}

// Resolver turns raw image references into absolute URLs. Providers list
// several media-host templates because the working one changes over time;
// the first template that passes a probe is remembered per provider until
// Reset is called at the start of the next run.
type Resolver struct {
	prober Prober

	mu        sync.Mutex
	templates map[string][]string
	chosen    map[string]int
}

func NewResolver(prober Prober) *Resolver {
	return &Resolver{
		prober:    prober,
		templates: make(map[string][]string),
		chosen:    make(map[string]int),
	}
}

func (r *Resolver) Register(provider string, templates []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[provider] = templates
}

// Reset forgets every cached template choice
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chosen = make(map[string]int)
}

// Chosen returns the template cached for a provider, if any
func (r *Resolver) Chosen(provider string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.chosen[provider]
	if !ok {
		return "", false
	}
	return r.templates[provider][idx], true
}

// IsAbsolute reports whether ref already carries an http(s) scheme
func IsAbsolute(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Join appends ref to a template prefix with exactly one slash between them
func Join(template, ref string) string {
	return strings.TrimRight(template, "/") + "/" + strings.TrimLeft(ref, "/")
}

type candidate struct {
	url      string
	template int // -1 when ref was already absolute
}

// Candidates lists the URLs to try for ref, cached template first
func (r *Resolver) Candidates(provider, ref string) []string {
	cs := r.candidates(provider, ref)
	urls := make([]string, len(cs))
	for i, c := range cs {
		urls[i] = c.url
	}
	return urls
}

func (r *Resolver) candidates(provider, ref string) []candidate {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	if IsAbsolute(ref) {
		return []candidate{{url: ref, template: -1}}
	}
	if strings.HasPrefix(ref, "//") {
		return []candidate{{url: "https:" + ref, template: -1}}
	}

	r.mu.Lock()
	templates := r.templates[provider]
	idx, cached := r.chosen[provider]
	r.mu.Unlock()

	out := make([]candidate, 0, len(templates))
	if cached {
		out = append(out, candidate{url: Join(templates[idx], ref), template: idx})
	}
	for i, tmpl := range templates {
		if cached && i == idx {
			continue
		}
		out = append(out, candidate{url: Join(tmpl, ref), template: i})
	}
	return out
}

// Resolve builds a URL without probing: the cached template, else the first one
func (r *Resolver) Resolve(provider, ref string) string {
	cs := r.candidates(provider, ref)
	if len(cs) == 0 {
		return ""
	}
	return cs[0].url
}

// ResolveLive probes candidates in order and returns the first reachable
// one. A working template is cached for the provider.
func (r *Resolver) ResolveLive(ctx context.Context, provider, ref string) (string, bool) {
	for _, c := range r.candidates(provider, ref) {
		if ctx.Err() != nil {
			return "", false
		}
		if !r.prober.Check(ctx, c.url) {
			continue
		}
		if c.template >= 0 {
			r.remember(provider, c.template)
		}
		return c.url, true
	}
	return "", false
}

func (r *Resolver) remember(provider string, idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.chosen[provider]; !ok || prev != idx {
		log.Printf("Resolver: %s media template -> %s", provider, r.templates[provider][idx])
	}
	r.chosen[provider] = idx
}

// RefFromURL strips a known template prefix off a stored image URL so it can
// be re-resolved. The longest matching template wins.
func (r *Resolver) RefFromURL(provider, imageURL string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := ""
	for _, tmpl := range r.templates[provider] {
		prefix := strings.TrimRight(tmpl, "/") + "/"
		if strings.HasPrefix(imageURL, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return "", false
	}
	return "/" + strings.TrimPrefix(imageURL, best), true
}

// Providers lists the registered provider ids in sorted order
func (r *Resolver) Providers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
