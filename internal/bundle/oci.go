package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	digest "github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Media types for mcpkit bundles, per spec.md section 6.
const (
	MediaTypeWasm        = "application/vnd.mcpkit.wasm.module.v1"
	MediaTypeConfigYAML  = "application/vnd.mcpkit.config.v1+yaml"
	MediaTypeManifest    = "application/vnd.oci.image.manifest.v1+json"
	MediaTypeImageConfig = "application/vnd.oci.image.config.v1+json"
)

// RegistryAuth holds basic-auth credentials for a registry. Username and
// Password may reference an environment variable via "${VARNAME}"; Push and
// Pull resolve these with ExpandEnvVar before use.
type RegistryAuth struct {
	Username string
	Password string
}

// insecureRegistriesEnvVar is the stable external name for the insecure
// registry allowlist, per spec.md section 6.
const insecureRegistriesEnvVar = "MCPKIT_INSECURE_REGISTRIES"

// isInsecureRegistry reports whether registry should be addressed over
// plain http instead of https.
func isInsecureRegistry(registry string) bool {
	lower := strings.ToLower(registry)
	if strings.HasPrefix(lower, "localhost") ||
		strings.HasPrefix(lower, "127.") ||
		strings.HasPrefix(lower, "0.0.0.0") ||
		strings.HasPrefix(lower, "[::1]") {
		return true
	}

	list := os.Getenv(insecureRegistriesEnvVar)
	if list == "" {
		return false
	}
	registryHost, _, _ := strings.Cut(registry, ":")
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.EqualFold(item, registry) {
			return true
		}
		itemHost, _, _ := strings.Cut(item, ":")
		if itemHost != "" && strings.EqualFold(itemHost, registryHost) {
			return true
		}
	}
	return false
}

// registryURL builds the v2 API URLs for one registry/repository pair.
type registryURL struct {
	registry   string
	repository string
	scheme     string
}

func newRegistryURL(registry, repository string) registryURL {
	scheme := "https"
	if isInsecureRegistry(registry) {
		scheme = "http"
	}
	return registryURL{registry: registry, repository: repository, scheme: scheme}
}

func (r registryURL) base() string { return fmt.Sprintf("%s://%s", r.scheme, r.registry) }

func (r registryURL) blobURL(digest string) string {
	return fmt.Sprintf("%s/v2/%s/blobs/%s", r.base(), r.repository, digest)
}

func (r registryURL) uploadInitiationURL() string {
	return fmt.Sprintf("%s/v2/%s/blobs/uploads/", r.base(), r.repository)
}

func (r registryURL) manifestURL(tag string) string {
	return fmt.Sprintf("%s/v2/%s/manifests/%s", r.base(), r.repository, tag)
}

func (r registryURL) scope(actions string) string {
	return fmt.Sprintf("repository:%s:%s", r.repository, actions)
}

// bearerChallenge is a parsed "WWW-Authenticate: Bearer ..." header.
type bearerChallenge struct {
	realm   string
	service string
	scope   string
}

func parseBearerChallenge(header string) (*bearerChallenge, bool) {
	header = strings.TrimSpace(header)
	scheme, params, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return nil, false
	}

	var c bearerChallenge
	for _, part := range strings.Split(params, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch strings.TrimSpace(key) {
		case "realm":
			c.realm = value
		case "service":
			c.service = value
		case "scope":
			c.scope = value
		}
	}
	if c.realm == "" {
		return nil, false
	}
	return &c, true
}

// authContext carries the credentials used across one push/pull operation,
// escalating from anonymous to basic to a fetched bearer token as the
// registry challenges it.
type authContext struct {
	username, password string
	hasBasic            bool
	bearer              string
}

func anonymousAuth() authContext { return authContext{} }

func basicAuth(username, password string) authContext {
	return authContext{username: username, password: password, hasBasic: true}
}

func (a *authContext) applyTo(req *http.Request) {
	if a.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+a.bearer)
		return
	}
	if a.hasBasic {
		req.SetBasicAuth(a.username, a.password)
	}
}

func (a *authContext) fetchBearerToken(ctx context.Context, client *http.Client, challenge *bearerChallenge, scope string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, challenge.realm, nil)
	if err != nil {
		return fmt.Errorf("%w: building token request: %v", ErrAuthRequired, err)
	}
	q := req.URL.Query()
	if challenge.service != "" {
		q.Set("service", challenge.service)
	}
	if scope == "" {
		scope = challenge.scope
	}
	if scope != "" {
		q.Set("scope", scope)
	}
	req.URL.RawQuery = q.Encode()
	if a.hasBasic {
		req.SetBasicAuth(a.username, a.password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthRequired, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &RegistryError{Status: resp.StatusCode, Message: string(body)}
	}

	var tokenResp struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("%w: decoding token response: %v", ErrAuthRequired, err)
	}
	token := tokenResp.Token
	if token == "" {
		token = tokenResp.AccessToken
	}
	if token == "" {
		return ErrAuthRequired
	}
	a.bearer = token
	return nil
}

// Client is the OCI registry client used to push and pull bundles. A nil
// Cache means pull never short-circuits through the local store.
type Client struct {
	HTTPClient *http.Client
	Cache      *Cache

	// CreatedBy is recorded in the OCI config's history entry.
	CreatedBy string
}

// NewClient builds a Client with sane HTTP defaults.
func NewClient(cache *Cache) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Cache:      cache,
		CreatedBy:  "mcpkit",
	}
}

func buildAuthContext(auth *RegistryAuth) (authContext, error) {
	if auth == nil || auth.Username == "" || auth.Password == "" {
		return anonymousAuth(), nil
	}
	username, err := ExpandEnvVar(auth.Username)
	if err != nil {
		return authContext{}, err
	}
	password, err := ExpandEnvVar(auth.Password)
	if err != nil {
		return authContext{}, err
	}
	return basicAuth(username, password), nil
}

// ExpandEnvVar resolves a "${VARNAME}" placeholder against the process
// environment; any other string passes through unchanged.
func ExpandEnvVar(value string) (string, error) {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		name := value[2 : len(value)-1]
		v, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("bundle: required environment variable %q is not set", name)
		}
		return v, nil
	}
	return value, nil
}

// sendWithAuth runs build and, each time the registry responds 401 with a
// bearer challenge, fetches a bearer token and retries (up to 3 attempts
// total).
func (c *Client) sendWithAuth(ctx context.Context, build func() (*http.Request, error), auth *authContext, scope string) (*http.Response, error) {
	for attempt := 1; ; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}
		auth.applyTo(req)

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("bundle: request failed: %w", err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
		resp.Body.Close()

		if !auth.hasBasic || attempt >= 3 {
			return nil, ErrAuthRequired
		}
		challenge, ok := parseBearerChallenge(resp.Header.Get("WWW-Authenticate"))
		if !ok {
			return nil, ErrAuthRequired
		}
		if err := auth.fetchBearerToken(ctx, c.HTTPClient, challenge, scope); err != nil {
			return nil, err
		}
	}
}

// Push uploads wasm, configYAML, and a generated OCI image config to the
// registry named by uri, then writes and returns the manifest digest.
func (c *Client) Push(ctx context.Context, wasm, configYAML []byte, uri string, auth *RegistryAuth, now time.Time) (string, error) {
	registry, repository, tag, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	if tag == "" {
		tag = "latest"
	}

	authCtx, err := buildAuthContext(auth)
	if err != nil {
		return "", err
	}

	ociConfig := ispec.Image{
		Architecture: "wasm",
		OS:           "wasi",
		RootFS:       ispec.RootFS{Type: "layers", DiffIDs: []digest.Digest{}},
		History: []ispec.History{{
			Created:   ptrTime(now),
			CreatedBy: c.CreatedBy,
		}},
	}
	configJSON, err := json.Marshal(ociConfig)
	if err != nil {
		return "", fmt.Errorf("bundle: marshalling oci config: %w", err)
	}
	configDigest := ComputeDigest(configJSON)

	if err := c.uploadBlob(ctx, registry, repository, configJSON, configDigest, &authCtx); err != nil {
		return "", err
	}

	wasmDigest := ComputeDigest(wasm)
	if err := c.uploadBlob(ctx, registry, repository, wasm, wasmDigest, &authCtx); err != nil {
		return "", err
	}

	configYAMLDigest := ComputeDigest(configYAML)
	if err := c.uploadBlob(ctx, registry, repository, configYAML, configYAMLDigest, &authCtx); err != nil {
		return "", err
	}

	manifest := ispec.Manifest{
		MediaType: MediaTypeManifest,
		Config: ispec.Descriptor{
			MediaType: MediaTypeImageConfig,
			Digest:    digest.Digest(configDigest),
			Size:      int64(len(configJSON)),
		},
		Layers: []ispec.Descriptor{
			{MediaType: MediaTypeWasm, Digest: digest.Digest(wasmDigest), Size: int64(len(wasm))},
			{MediaType: MediaTypeConfigYAML, Digest: digest.Digest(configYAMLDigest), Size: int64(len(configYAML))},
		},
		Annotations: map[string]string{"org.mcpkit.bundle.version": tag},
	}
	manifest.SchemaVersion = 2

	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("bundle: marshalling manifest: %w", err)
	}
	manifestDigest := ComputeDigest(manifestJSON)

	if err := c.uploadManifest(ctx, registry, repository, tag, manifestJSON, &authCtx); err != nil {
		return "", err
	}
	return manifestDigest, nil
}

// Pull fetches (or reuses a cached) bundle. A cache hit that fails
// self-verification is discarded and re-fetched from the registry.
func (c *Client) Pull(ctx context.Context, uri string, auth *RegistryAuth, now time.Time) (*Bundle, error) {
	if c.Cache != nil {
		if b, err := c.Cache.Get(uri); err == nil && b.Verify() == nil {
			return b, nil
		}
	}

	registry, repository, tag, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if tag == "" {
		tag = "latest"
	}

	authCtx, err := buildAuthContext(auth)
	if err != nil {
		return nil, err
	}

	manifest, err := c.pullManifest(ctx, registry, repository, tag, &authCtx)
	if err != nil {
		return nil, err
	}

	wasmLayer, ok := findLayer(manifest, MediaTypeWasm)
	if !ok {
		return nil, fmt.Errorf("%w: wasm module layer not found", ErrRegistry)
	}
	configLayer, ok := findLayer(manifest, MediaTypeConfigYAML)
	if !ok {
		return nil, fmt.Errorf("%w: config yaml layer not found", ErrRegistry)
	}

	wasm, err := c.pullBlob(ctx, registry, repository, wasmLayer.Digest.String(), &authCtx)
	if err != nil {
		return nil, err
	}
	configYAML, err := c.pullBlob(ctx, registry, repository, configLayer.Digest.String(), &authCtx)
	if err != nil {
		return nil, err
	}

	if err := VerifyDigest(wasm, wasmLayer.Digest.String()); err != nil {
		return nil, err
	}
	if err := VerifyDigest(configYAML, configLayer.Digest.String()); err != nil {
		return nil, err
	}

	b := New(wasm, configYAML, fmt.Sprintf("%s/%s", registry, repository), tag, now)

	if c.Cache != nil {
		if err := c.Cache.Put(uri, b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func findLayer(manifest *ispec.Manifest, mediaType string) (ispec.Descriptor, bool) {
	for _, l := range manifest.Layers {
		if l.MediaType == mediaType {
			return l, true
		}
	}
	return ispec.Descriptor{}, false
}

func (c *Client) uploadBlob(ctx context.Context, registry, repository string, content []byte, digest string, auth *authContext) error {
	ru := newRegistryURL(registry, repository)
	url := ru.blobURL(digest)
	scope := ru.scope("push,pull")

	headResp, err := c.sendWithAuth(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	}, auth, scope)
	if err != nil {
		return err
	}
	headResp.Body.Close()
	if headResp.StatusCode >= 200 && headResp.StatusCode < 300 {
		return nil
	}

	uploadURL := ru.uploadInitiationURL()
	uploadResp, err := c.sendWithAuth(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Length", "0")
		req.Header.Set("Accept", MediaTypeManifest)
		return req, nil
	}, auth, scope)
	if err != nil {
		return err
	}
	defer uploadResp.Body.Close()

	if uploadResp.StatusCode < 200 || uploadResp.StatusCode >= 300 {
		body, _ := io.ReadAll(uploadResp.Body)
		switch uploadResp.StatusCode {
		case http.StatusUnauthorized:
			return ErrAuthRequired
		case http.StatusForbidden:
			return &RegistryError{Status: 403, Message: "permission denied: registry credentials lack write access"}
		case http.StatusMethodNotAllowed:
			return &RegistryError{Status: 405, Message: fmt.Sprintf("method not allowed at %s: %s", uploadURL, body)}
		}
		return &RegistryError{Status: uploadResp.StatusCode, Message: string(body)}
	}

	location := uploadResp.Header.Get("Location")
	if location == "" {
		return fmt.Errorf("%w: upload response missing Location header", ErrRegistry)
	}
	putURL := resolveUploadLocation(ru, location, digest)

	putResp, err := c.sendWithAuth(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, bytes.NewReader(content))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.ContentLength = int64(len(content))
		return req, nil
	}, auth, scope)
	if err != nil {
		return err
	}
	defer putResp.Body.Close()
	if putResp.StatusCode < 200 || putResp.StatusCode >= 300 {
		body, _ := io.ReadAll(putResp.Body)
		return &RegistryError{Status: putResp.StatusCode, Message: string(body)}
	}
	return nil
}

func resolveUploadLocation(ru registryURL, location, digest string) string {
	var full string
	if strings.HasPrefix(location, "http") {
		full = location
	} else {
		rel := location
		if !strings.HasPrefix(rel, "/") {
			rel = "/" + rel
		}
		full = ru.base() + rel
	}
	sep := "?"
	if strings.Contains(full, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sdigest=%s", full, sep, digest)
}

func (c *Client) uploadManifest(ctx context.Context, registry, repository, tag string, manifest []byte, auth *authContext) error {
	ru := newRegistryURL(registry, repository)
	url := ru.manifestURL(tag)
	scope := ru.scope("push,pull")

	resp, err := c.sendWithAuth(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(manifest))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", MediaTypeManifest)
		req.ContentLength = int64(len(manifest))
		return req, nil
	}, auth, scope)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &RegistryError{Status: resp.StatusCode, Message: string(body)}
	}
	return nil
}

func (c *Client) pullManifest(ctx context.Context, registry, repository, tag string, auth *authContext) (*ispec.Manifest, error) {
	ru := newRegistryURL(registry, repository)
	url := ru.manifestURL(tag)
	scope := ru.scope("pull")

	resp, err := c.sendWithAuth(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", MediaTypeManifest)
		return req, nil
	}, auth, scope)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrAuthRequired
		}
		body, _ := io.ReadAll(resp.Body)
		return nil, &RegistryError{Status: resp.StatusCode, Message: string(body)}
	}

	var manifest ispec.Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("%w: decoding manifest: %v", ErrRegistry, err)
	}
	return &manifest, nil
}

func (c *Client) pullBlob(ctx context.Context, registry, repository, digest string, auth *authContext) ([]byte, error) {
	ru := newRegistryURL(registry, repository)
	url := ru.blobURL(digest)
	scope := ru.scope("pull")

	resp, err := c.sendWithAuth(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}, auth, scope)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrAuthRequired
		}
		body, _ := io.ReadAll(resp.Body)
		return nil, &RegistryError{Status: resp.StatusCode, Message: string(body)}
	}
	return io.ReadAll(resp.Body)
}

func ptrTime(t time.Time) *time.Time { return &t }
