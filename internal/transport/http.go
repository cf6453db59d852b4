package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/steveyegge/sharesync/internal/entity"
	"github.com/steveyegge/sharesync/internal/hash"
	"github.com/steveyegge/sharesync/internal/store"
)

// HTTPClient is the network implementation of Transport, POSTing JSON
// bodies to the five /sync endpoints. A single low-level doRequest helper
// sets headers, executes the request, and classifies non-2xx responses,
// layered under typed per-endpoint methods.
//
// Client-side response timeouts are intentionally disabled: HTTPClient's
// http.Client carries no Timeout, so only connection-level failures
// (dial, DNS, TCP reset) surface as UnreachableService; a slow but live
// server instead surfaces as a 408/504 mapped to Timeout.
type HTTPClient struct {
	BaseURL    string
	AuthToken  string
	HTTPClient *http.Client
	// Logger receives one line per request: endpoint, status classification
	// (or success), and latency. A nil Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewHTTPClient builds an HTTPClient against baseURL, authenticating
// requests with a bearer token.
func NewHTTPClient(baseURL, authToken string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		BaseURL:   baseURL,
		AuthToken: authToken,
		Logger:    logger,
		HTTPClient: &http.Client{
			// No Timeout: see doc comment above.
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
	}
}

var _ Transport = (*HTTPClient)(nil)

// --- wire shapes ---

type wirePath struct {
	RepoName string   `json:"repoName"`
	Segments []string `json:"segments"`
}

func toWirePath(p store.Path) wirePath {
	return wirePath{RepoName: p.RepoName, Segments: p.Segments}
}

type getCausalHashByPathWireResp struct {
	Kind    string `json:"kind"`
	HashJWT string `json:"hashJwt,omitempty"`
}

func (c *HTTPClient) GetCausalHashByPath(ctx context.Context, path store.Path) (*GetCausalHashByPathResponse, error) {
	body, err := c.doRequest(ctx, "getCausalHashByPath", map[string]any{"path": toWirePath(path)})
	if err != nil {
		return nil, err
	}
	var w getCausalHashByPathWireResp
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
	}
	switch w.Kind {
	case "success":
		return &GetCausalHashByPathResponse{Kind: GetCausalHashByPathSuccess, Found: w.HashJWT != "", HashJWT: hash.HashJWT(w.HashJWT)}, nil
	case "no_read_permission":
		return &GetCausalHashByPathResponse{Kind: GetCausalHashByPathNoReadPermission, Path: path}, nil
	default:
		return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
	}
}

type updatePathWireReq struct {
	Path         wirePath `json:"path"`
	ExpectedHash *string  `json:"expectedHash,omitempty"`
	NewHash      string   `json:"newHash"`
}

type updatePathWireResp struct {
	Kind     string   `json:"kind"`
	Expected string   `json:"expected,omitempty"`
	Actual   string   `json:"actual,omitempty"`
	Missing  []string `json:"missing,omitempty"`
}

func (c *HTTPClient) UpdatePath(ctx context.Context, req UpdatePathRequest) (*UpdatePathResponse, error) {
	wreq := updatePathWireReq{Path: toWirePath(req.Path), NewHash: req.NewHash.String()}
	if req.ExpectedHash != nil {
		s := req.ExpectedHash.String()
		wreq.ExpectedHash = &s
	}
	body, err := c.doRequest(ctx, "updatePath", wreq)
	if err != nil {
		return nil, err
	}
	var w updatePathWireResp
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
	}
	switch w.Kind {
	case "success":
		return &UpdatePathResponse{Kind: UpdatePathSuccess}, nil
	case "hash_mismatch":
		exp, actual, err := parseTwoHashes(w.Expected, w.Actual)
		if err != nil {
			return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
		}
		return &UpdatePathResponse{Kind: UpdatePathHashMismatch, Expected: exp, Actual: actual}, nil
	case "missing_dependencies":
		missing, err := parseHashSet(w.Missing)
		if err != nil {
			return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
		}
		return &UpdatePathResponse{Kind: UpdatePathMissingDependencies, Missing: missing}, nil
	case "no_write_permission":
		return &UpdatePathResponse{Kind: UpdatePathNoWritePermission, Path: req.Path}, nil
	default:
		return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
	}
}

type fastForwardPathWireReq struct {
	Path         wirePath `json:"path"`
	ExpectedHash string   `json:"expectedHash"`
	Hashes       []string `json:"hashes"`
}

type fastForwardPathWireResp struct {
	Kind    string   `json:"kind"`
	Missing []string `json:"missing,omitempty"`
	Parent  string   `json:"parent,omitempty"`
	Child   string   `json:"child,omitempty"`
}

func (c *HTTPClient) FastForwardPath(ctx context.Context, req FastForwardPathRequest) (*FastForwardPathResponse, error) {
	hashes := make([]string, len(req.Hashes))
	for i, h := range req.Hashes {
		hashes[i] = h.String()
	}
	wreq := fastForwardPathWireReq{Path: toWirePath(req.Path), ExpectedHash: req.ExpectedHash.String(), Hashes: hashes}
	body, err := c.doRequest(ctx, "fastForwardPath", wreq)
	if err != nil {
		return nil, err
	}
	var w fastForwardPathWireResp
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
	}
	switch w.Kind {
	case "success":
		return &FastForwardPathResponse{Kind: FastForwardPathSuccess}, nil
	case "missing_dependencies":
		missing, err := parseHashSet(w.Missing)
		if err != nil {
			return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
		}
		return &FastForwardPathResponse{Kind: FastForwardPathMissingDependencies, Missing: missing}, nil
	case "no_history":
		return &FastForwardPathResponse{Kind: FastForwardPathNoHistory}, nil
	case "not_fast_forward":
		return &FastForwardPathResponse{Kind: FastForwardPathNotFastForward}, nil
	case "invalid_parentage":
		parent, child, err := parseTwoHashes(w.Parent, w.Child)
		if err != nil {
			return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
		}
		return &FastForwardPathResponse{Kind: FastForwardPathInvalidParentage, Parent: parent, Child: child}, nil
	case "no_write_permission":
		return &FastForwardPathResponse{Kind: FastForwardPathNoWritePermission, Path: req.Path}, nil
	default:
		return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
	}
}

type wireEntity struct {
	Kind     string   `json:"kind"`
	CausalNS string   `json:"causalNs,omitempty"`
	Parents  []string `json:"parents,omitempty"`
	Deps     []string `json:"deps,omitempty"`
	Body     []byte   `json:"body"`
}

func toWireEntity(e *entity.Entity) wireEntity {
	parents := make([]string, len(e.Parents))
	for i, p := range e.Parents {
		parents[i] = p.String()
	}
	deps := make([]string, len(e.Deps))
	for i, d := range e.Deps {
		deps[i] = string(d)
	}
	w := wireEntity{Kind: string(e.Kind), Parents: parents, Deps: deps, Body: e.Body}
	if e.Kind == entity.KindCausal {
		w.CausalNS = e.CausalNS.String()
	}
	return w
}

func fromWireEntity(w wireEntity) (*entity.Entity, error) {
	e := &entity.Entity{Kind: entity.Kind(w.Kind), Body: w.Body}
	if w.CausalNS != "" {
		ns, err := hash.ParseHash32(w.CausalNS)
		if err != nil {
			return nil, err
		}
		e.CausalNS = ns
	}
	for _, p := range w.Parents {
		ph, err := hash.ParseHash32(p)
		if err != nil {
			return nil, err
		}
		e.Parents = append(e.Parents, ph)
	}
	for _, d := range w.Deps {
		e.Deps = append(e.Deps, hash.HashJWT(d))
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

type downloadEntitiesWireReq struct {
	RepoName string   `json:"repoName"`
	Hashes   []string `json:"hashes"`
}

type downloadEntitiesWireResp struct {
	Kind     string                `json:"kind"`
	Entities map[string]wireEntity `json:"entities,omitempty"`
}

func (c *HTTPClient) DownloadEntities(ctx context.Context, req DownloadEntitiesRequest) (*DownloadEntitiesResponse, error) {
	hashes := make([]string, len(req.Hashes))
	for i, h := range req.Hashes {
		hashes[i] = string(h)
	}
	body, err := c.doRequest(ctx, "downloadEntities", downloadEntitiesWireReq{RepoName: req.RepoName, Hashes: hashes})
	if err != nil {
		return nil, err
	}
	var w downloadEntitiesWireResp
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
	}
	if w.Kind != "success" || len(w.Entities) == 0 {
		return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
	}
	entities := make(map[hash.Hash32]*entity.Entity, len(w.Entities))
	for hs, we := range w.Entities {
		h, err := hash.ParseHash32(hs)
		if err != nil {
			return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
		}
		e, err := fromWireEntity(we)
		if err != nil {
			return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
		}
		entities[h] = e
	}
	return &DownloadEntitiesResponse{Entities: entities}, nil
}

type uploadEntitiesWireReq struct {
	RepoName string                `json:"repoName"`
	Entities map[string]wireEntity `json:"entities"`
}

type uploadEntitiesWireResp struct {
	Kind         string   `json:"kind"`
	Need         []string `json:"need,omitempty"`
	MismatchHash string   `json:"mismatchHash,omitempty"`
	Expected     string   `json:"expected,omitempty"`
	Actual       string   `json:"actual,omitempty"`
}

func (c *HTTPClient) UploadEntities(ctx context.Context, req UploadEntitiesRequest) (*UploadEntitiesResponse, error) {
	wireEnts := make(map[string]wireEntity, len(req.Entities))
	for h, e := range req.Entities {
		wireEnts[h.String()] = toWireEntity(e)
	}
	body, err := c.doRequest(ctx, "uploadEntities", uploadEntitiesWireReq{RepoName: req.RepoName, Entities: wireEnts})
	if err != nil {
		return nil, err
	}
	var w uploadEntitiesWireResp
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
	}
	switch w.Kind {
	case "success":
		return &UploadEntitiesResponse{Kind: UploadEntitiesSuccess}, nil
	case "need_dependencies":
		need, err := parseHashSet(w.Need)
		if err != nil {
			return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
		}
		return &UploadEntitiesResponse{Kind: UploadEntitiesNeedDependencies, Need: need}, nil
	case "hash_mismatch_for_entity":
		mismatch, expected, err := parseTwoHashes(w.MismatchHash, w.Expected)
		if err != nil {
			return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
		}
		actual, err := hash.ParseHash32(w.Actual)
		if err != nil {
			return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
		}
		return &UploadEntitiesResponse{Kind: UploadEntitiesHashMismatchForEntity, MismatchHash: mismatch, Expected: expected, Actual: actual}, nil
	case "no_write_permission":
		return &UploadEntitiesResponse{Kind: UploadEntitiesNoWritePermission, RepoName: req.RepoName}, nil
	default:
		return nil, &Error{Kind: InvalidResponse, Raw: string(body)}
	}
}

func parseHashSet(ss []string) (hash.Set, error) {
	out := hash.NewSet()
	for _, s := range ss {
		h, err := hash.ParseHash32(s)
		if err != nil {
			return nil, err
		}
		out.Add(h)
	}
	return out, nil
}

func parseTwoHashes(a, b string) (hash.Hash32, hash.Hash32, error) {
	ha, err := hash.ParseHash32(a)
	if err != nil {
		return hash.Hash32{}, hash.Hash32{}, err
	}
	hb, err := hash.ParseHash32(b)
	if err != nil {
		return hash.Hash32{}, hash.Hash32{}, err
	}
	return ha, hb, nil
}

// doRequest POSTs a JSON-encoded payload to baseURL+"/sync/"+endpoint and
// returns the raw response body, classifying non-2xx responses.
func (c *HTTPClient) doRequest(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/sync/%s", c.BaseURL, endpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		logger.Error("transport: request failed", "endpoint", endpoint, "error", err, "elapsed", time.Since(start))
		return nil, &Error{Kind: UnreachableService, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("transport: reading response failed", "endpoint", endpoint, "error", err)
		return nil, &Error{Kind: UnreachableService, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		classified := classifyStatus(resp.StatusCode, body)
		logger.Warn("transport: request classified as error", "endpoint", endpoint, "status", resp.StatusCode, "kind", classified.Kind.String(), "elapsed", time.Since(start))
		return nil, classified
	}

	logger.Debug("transport: request succeeded", "endpoint", endpoint, "elapsed", time.Since(start))
	return body, nil
}
