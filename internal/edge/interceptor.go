// Package edge serves the application shell cache-first and passes everything else to the origin.
package edge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"attendance.edge/internal/ports/cache"
	"attendance.edge/internal/ports/messaging"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrInstallFailed is returned when a shell asset could not be fetched during install.
	ErrInstallFailed = errors.New("install failed")
	// ErrNotInstalled is returned by Activate when no static generation exists yet.
	ErrNotInstalled = errors.New("no installed cache generation")
	// ErrNoCachedResponse is returned when neither the asset nor the offline page is cached.
	ErrNoCachedResponse = errors.New("no cached response")
	// ErrResponseTooLarge is returned for origin bodies over the cacheable size.
	ErrResponseTooLarge = errors.New("response too large to cache")
)

var staticExt = regexp.MustCompile(`\.(png|jpg|jpeg|svg|css|js)$`)

const (
	documentRoot       = "/"
	defaultMaxBodySize = 32 << 20

	cacheHeader = "X-Edge-Cache"
)

// State is the lifecycle position of the interceptor.
type State string

const (
	StateIdle       State = "idle"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActive     State = "active"
)

// Options names the origin and the cache generations the interceptor works with.
type Options struct {
	Origin       string
	StaticCache  string
	RuntimeCache string
	ShellURLs    []string
}

// Interceptor is the network layer between foreground contexts and the origin.
// Until Activate succeeds every request is passed through.
type Interceptor struct {
	storage *cache.Storage
	clients messaging.Clients
	opts    Options
	origin  *url.URL
	client  *http.Client
	proxy   *httputil.ReverseProxy
	maxBody int64

	mu    sync.RWMutex
	state State
}

// NewInterceptor creates an interceptor in front of opts.Origin. clients may be nil.
func NewInterceptor(storage *cache.Storage, clients messaging.Clients, opts Options) (*Interceptor, error) {
	origin, err := url.Parse(opts.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", opts.Origin)
	}

	transport := otelhttp.NewTransport(http.DefaultTransport)
	proxy := httputil.NewSingleHostReverseProxy(origin)
	proxy.Transport = transport
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Ctx(r.Context()).Warn().Err(err).Str("path", r.URL.Path).Msg("Origin unreachable")
		w.WriteHeader(http.StatusBadGateway)
	}

	return &Interceptor{
		storage: storage,
		clients: clients,
		opts:    opts,
		origin:  origin,
		client:  &http.Client{Timeout: 30 * time.Second, Transport: transport},
		proxy:   proxy,
		maxBody: defaultMaxBodySize,
		state:   StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (i *Interceptor) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

func (i *Interceptor) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

// Install fetches every shell URL and stores them in the static generation.
// Either every asset is stored or none is; on failure the previous generation is left as it was.
func (i *Interceptor) Install(ctx context.Context) error {
	prev := i.State()
	i.setState(StateInstalling)
	log.Ctx(ctx).Info().Str("cache", i.opts.StaticCache).Int("assets", len(i.opts.ShellURLs)).Msg("Installing app shell")

	items := make([]cache.Item, 0, len(i.opts.ShellURLs))
	for _, u := range i.opts.ShellURLs {
		resp, err := i.fetch(ctx, u, nil)
		if err == nil && (resp.Status < 200 || resp.Status > 299) {
			err = fmt.Errorf("status %d", resp.Status)
		}
		if err != nil {
			i.setState(prev)
			return fmt.Errorf("%w: %s: %w", ErrInstallFailed, u, err)
		}
		items = append(items, cache.Item{Key: u, Response: resp})
	}

	static, err := i.storage.Open(ctx, i.opts.StaticCache)
	if err == nil {
		err = static.PutAll(ctx, items)
	}
	if err != nil {
		i.setState(prev)
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	i.setState(StateInstalled)
	log.Ctx(ctx).Info().Str("cache", i.opts.StaticCache).Msg("App shell installed")
	return nil
}

// Activate drops every cache generation other than the current static and runtime ones
// and starts intercepting. It also activates over a static generation left by an earlier install.
// When the current version never installed, it keeps serving the generations already on disk
// and deletes nothing.
func (i *Interceptor) Activate(ctx context.Context) error {
	names, err := i.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cache generations: %w", err)
	}

	if i.State() != StateInstalled && !slices.Contains(names, i.opts.StaticCache) {
		previous := slices.DeleteFunc(slices.Clone(names), func(n string) bool { return n == i.opts.RuntimeCache })
		if len(previous) == 0 {
			return ErrNotInstalled
		}
		i.setState(StateActive)
		log.Ctx(ctx).Warn().Strs("caches", previous).Str("missing", i.opts.StaticCache).Msg("Interceptor active on previous cache generation")
		return nil
	}

	for _, name := range names {
		if name == i.opts.StaticCache || name == i.opts.RuntimeCache {
			continue
		}
		if _, err := i.storage.Delete(ctx, name); err != nil {
			return fmt.Errorf("failed to delete cache generation %s: %w", name, err)
		}
		log.Ctx(ctx).Info().Str("cache", name).Msg("Deleted old cache generation")
	}

	i.setState(StateActive)

	claimed := 0
	if i.clients != nil {
		claimed = len(i.clients.MatchAll())
	}
	log.Ctx(ctx).Info().Int("clients", claimed).Msg("Interceptor active")
	return nil
}

// IsStaticAsset reports whether path is served cache-first: it contains a shell URL or has a
// static file extension. With the document root in the shell every path matches.
func (i *Interceptor) IsStaticAsset(path string) bool {
	if staticExt.MatchString(path) {
		return true
	}
	for _, u := range i.opts.ShellURLs {
		if strings.Contains(path, u) {
			return true
		}
	}
	return false
}

func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || i.State() != StateActive || !i.IsStaticAsset(r.URL.Path) {
		i.proxy.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()
	span := trace.SpanFromContext(ctx)
	key := r.URL.RequestURI()

	resp, err := i.storage.Match(ctx, key)
	if err == nil {
		span.SetAttributes(attribute.String("app.cache", "hit"))
		writeResponse(w, resp, "HIT")
		return
	}
	if !errors.Is(err, cache.ErrNotFound) {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Cache lookup failed")
	}

	resp, err = i.fetchAndStore(ctx, key, r.Header)
	if errors.Is(err, ErrResponseTooLarge) {
		log.Ctx(ctx).Info().Str("key", key).Msg("Asset too large to cache, passing through")
		i.proxy.ServeHTTP(w, r)
		return
	}
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Network fetch failed, serving offline page")
		offline, err := i.storage.Match(ctx, documentRoot)
		if err != nil {
			span.SetAttributes(attribute.String("app.cache", "miss"))
			http.Error(w, ErrNoCachedResponse.Error(), http.StatusBadGateway)
			return
		}
		span.SetAttributes(attribute.String("app.cache", "offline"))
		writeResponse(w, offline, "OFFLINE")
		return
	}

	span.SetAttributes(attribute.String("app.cache", "miss"))
	writeResponse(w, resp, "MISS")
}

func (i *Interceptor) fetchAndStore(ctx context.Context, key string, header http.Header) (*cache.Response, error) {
	resp, err := i.fetch(ctx, key, header)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return resp, nil
	}

	runtime, err := i.storage.Open(ctx, i.opts.RuntimeCache)
	if err == nil {
		err = runtime.Put(ctx, key, resp)
	}
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Failed to store response in runtime cache")
	}
	return resp, nil
}

// fetch GETs key from the origin and reads the whole body.
func (i *Interceptor) fetch(ctx context.Context, key string, header http.Header) (*cache.Response, error) {
	ref, err := url.Parse(key)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.origin.ResolveReference(ref).String(), nil)
	if err != nil {
		return nil, err
	}
	if accept := header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	res, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, i.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > i.maxBody {
		return nil, fmt.Errorf("%w: %s", ErrResponseTooLarge, key)
	}

	h := res.Header.Clone()
	for _, k := range []string{"Connection", "Content-Length", "Transfer-Encoding", "Set-Cookie"} {
		h.Del(k)
	}
	return &cache.Response{Status: res.StatusCode, Header: h, Body: body}, nil
}

func writeResponse(w http.ResponseWriter, resp *cache.Response, source string) {
	for k, v := range resp.Header {
		w.Header()[k] = v
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.Header().Set(cacheHeader, source)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
