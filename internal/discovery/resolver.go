// Package discovery resolves a Matrix user's homeserver base URL from their
// server domain, using the .well-known/matrix/client lookup with the
// direct-domain fallback mandated by the client-server specification.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/avolkov/mxauth/internal/id"
	"github.com/avolkov/mxauth/internal/logging"
	"github.com/avolkov/mxauth/internal/matrix"
)

var (
	// ErrNetwork wraps transport-level failures. Retryable from the
	// caller's point of view; this package never retries on its own.
	ErrNetwork = errors.New("network error")

	// ErrResolutionFailed means neither the well-known lookup nor the
	// direct-domain fallback produced a valid base URL. Not retryable.
	ErrResolutionFailed = errors.New("homeserver resolution failed")
)

// wellKnownResponse is the body of GET https://{domain}/.well-known/matrix/client.
type wellKnownResponse struct {
	Homeserver struct {
		BaseURL string `json:"base_url"`
	} `json:"m.homeserver"`
}

// Resolver discovers homeserver base URLs. Successful resolutions are cached
// per domain with a TTL so repeated attempts (retyped usernames, several
// accounts on one domain) skip the network.
type Resolver struct {
	http  *http.Client
	cache *cache.Cache
	log   logging.Logger

	// Test seams: URL construction for the well-known lookup and the
	// direct-domain fallback.
	wellKnownURL func(domain string) string
	fallbackBase func(domain string) string
}

// NewResolver constructs a Resolver. A nil httpc falls back to a client with
// a 15s timeout; a nil log discards. Cached entries expire after cacheTTL;
// pass 0 to disable caching.
func NewResolver(httpc *http.Client, cacheTTL time.Duration, log logging.Logger) *Resolver {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = logging.Discard()
	}
	var c *cache.Cache
	if cacheTTL > 0 {
		c = cache.New(cacheTTL, 2*cacheTTL)
	}
	return &Resolver{
		http:  httpc,
		cache: c,
		log:   log.With("component", "resolver"),
		wellKnownURL: func(domain string) string {
			return "https://" + domain + "/.well-known/matrix/client"
		},
		fallbackBase: func(domain string) string {
			return "https://" + domain
		},
	}
}

// Resolve finds the homeserver for uid's domain.
//
// Precedence is fixed by the protocol: a well-known document advertising a
// valid base URL wins; an absent or malformed document falls back to
// https://{domain}. A transport failure aborts with ErrNetwork so the caller
// can distinguish the retryable case.
func (r *Resolver) Resolve(ctx context.Context, uid id.UserID) (matrix.Homeserver, error) {
	return r.ResolveDomain(ctx, uid.Domain())
}

// ResolveDomain is Resolve for a bare server domain.
func (r *Resolver) ResolveDomain(ctx context.Context, domain string) (matrix.Homeserver, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(domain); ok {
			return v.(matrix.Homeserver), nil
		}
	}

	hs, err := r.lookup(ctx, domain)
	if err != nil {
		return matrix.Homeserver{}, err
	}

	if r.cache != nil {
		r.cache.SetDefault(domain, hs)
	}
	return hs, nil
}

func (r *Resolver) lookup(ctx context.Context, domain string) (matrix.Homeserver, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.wellKnownURL(domain), nil)
	if err != nil {
		return r.fallback(ctx, domain)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return matrix.Homeserver{}, ctx.Err()
		}
		return matrix.Homeserver{}, fmt.Errorf("%w: well-known lookup for %s: %v", ErrNetwork, domain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.log.Debug(ctx, "no well-known document", "domain", domain, "status", resp.StatusCode)
		return r.fallback(ctx, domain)
	}

	var wk wellKnownResponse
	if err := json.NewDecoder(resp.Body).Decode(&wk); err != nil || wk.Homeserver.BaseURL == "" {
		r.log.Warn(ctx, "malformed well-known document", "domain", domain)
		return r.fallback(ctx, domain)
	}

	hs, err := matrix.NewHomeserver(wk.Homeserver.BaseURL)
	if err != nil {
		r.log.Warn(ctx, "well-known advertises invalid base url", "domain", domain)
		return r.fallback(ctx, domain)
	}

	r.log.Info(ctx, "resolved homeserver via well-known", "domain", domain, "base_url", hs.URL())
	return hs, nil
}

// fallback treats https://{domain} as the base URL directly.
func (r *Resolver) fallback(ctx context.Context, domain string) (matrix.Homeserver, error) {
	hs, err := matrix.NewHomeserver(r.fallbackBase(domain))
	if err != nil {
		return matrix.Homeserver{}, fmt.Errorf("%w: domain %q", ErrResolutionFailed, domain)
	}
	r.log.Info(ctx, "resolved homeserver via domain fallback", "domain", domain, "base_url", hs.URL())
	return hs, nil
}
