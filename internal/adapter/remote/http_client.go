package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/rl1809/game-shelf/internal/core/domain"
	"github.com/rl1809/game-shelf/internal/port"
)

var _ port.GameAPI = (*HTTPClient)(nil)

const (
	defaultUserAgent = "game-shelf/0.1"
	defaultTimeout   = 15 * time.Second
	defaultRateLimit = rate.Limit(20)
	defaultBurst     = 10
	maxBatchSize     = 100
	tracerName       = "github.com/rl1809/game-shelf/internal/adapter/remote"
	requestIDHeader  = "X-Request-ID"
	readBackAttempts = 3
	readBackDelay    = 200 * time.Millisecond
)

// HTTPClient talks to the inventory server's JSON API. Mutations are followed
// by a read of the canonical record so callers get the full game. Only that
// read is retried here; the mutation itself is sent once per call.
type HTTPClient struct {
	baseURL   *url.URL
	http      *http.Client
	limiter   *rate.Limiter
	tracer    trace.Tracer
	userAgent string
}

type ClientOption func(*HTTPClient)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func NewHTTPClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api url %q must include scheme and host", baseURL)
	}

	c := &HTTPClient{
		baseURL:   base,
		http:      &http.Client{Timeout: defaultTimeout},
		limiter:   rate.NewLimiter(defaultRateLimit, defaultBurst),
		tracer:    otel.Tracer(tracerName),
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *HTTPClient) Get(ctx context.Context, key domain.Key) (*domain.Game, error) {
	id, err := serverID(key)
	if err != nil {
		return nil, err
	}
	var payload gameEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/game/"+id, nil, &payload); err != nil {
		return nil, err
	}
	game := payload.Game.toDomain()
	return &game, nil
}

func (c *HTTPClient) BatchGet(ctx context.Context, keys []domain.Key) (domain.BatchResult, error) {
	if len(keys) == 0 {
		return domain.BatchResult{}, nil
	}
	if len(keys) > maxBatchSize {
		return domain.BatchResult{}, domain.Invalid("keys", fmt.Sprintf("at most %d games per batch", maxBatchSize))
	}

	req := batchRequest{GameIDs: make([]int64, 0, len(keys))}
	for _, key := range keys {
		id, ok := key.ID()
		if !ok {
			return domain.BatchResult{}, domain.Invalid("keys", "cannot refresh "+key.String())
		}
		req.GameIDs = append(req.GameIDs, id)
	}

	var payload batchResponse
	if err := c.do(ctx, http.MethodPost, "/api/games/batch-refresh", req, &payload); err != nil {
		return domain.BatchResult{}, err
	}

	res := domain.BatchResult{Found: make([]domain.Game, 0, len(payload.Games))}
	for _, g := range payload.Games {
		res.Found = append(res.Found, g.toDomain())
	}
	for _, id := range payload.MissingGameIDs {
		res.Missing = append(res.Missing, domain.KeyFromID(id))
	}
	return res, nil
}

func (c *HTTPClient) Create(ctx context.Context, req domain.CreateRequest) (*domain.Game, error) {
	var path string
	switch req.List {
	case domain.ListWishlist:
		path = "/api/wishlist/add"
	case domain.ListCollection:
		path = "/api/collection/add"
	default:
		return nil, domain.Invalid("list", "unknown list "+string(req.List))
	}

	body := createRequest{URL: req.URL, Condition: req.Condition}
	if req.List == domain.ListCollection {
		body.PurchaseDate = req.PurchaseDate
		body.PurchaseSource = req.PurchaseSource
		body.PurchasePrice = req.PurchasePrice
	}

	var payload gameEnvelope
	if err := c.do(ctx, http.MethodPost, path, body, &payload); err != nil {
		return nil, err
	}
	if payload.Game.ID == 0 {
		return nil, &domain.RemoteError{Status: http.StatusBadGateway, Message: "server returned no game id"}
	}
	created := payload.Game.toDomain()
	return c.readBack(ctx, created.Key, &created), nil
}

func (c *HTTPClient) Delete(ctx context.Context, key domain.Key, req domain.DeleteRequest) error {
	switch req.List {
	case domain.ListWishlist:
		id, err := serverID(key)
		if err != nil {
			return err
		}
		return c.do(ctx, http.MethodDelete, "/api/wishlist/"+id+"/remove", nil, nil)
	case domain.ListCollection:
		if req.PurchasedGameID == nil {
			return domain.Invalid("purchased_game_id", "required to remove from collection")
		}
		pid := strconv.FormatInt(*req.PurchasedGameID, 10)
		return c.do(ctx, http.MethodDelete, "/api/purchased_game/"+pid+"/remove_from_collection", nil, nil)
	}
	return domain.Invalid("list", "unknown list "+string(req.List))
}

func (c *HTTPClient) EditFields(ctx context.Context, key domain.Key, edit domain.FieldEdit) (*domain.Game, error) {
	id, err := serverID(key)
	if err != nil {
		return nil, err
	}

	if edit.Name != nil || edit.Console != nil {
		current, err := c.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		body := detailsRequest{Name: current.Name, Console: current.Console}
		if edit.Name != nil {
			body.Name = *edit.Name
		}
		if edit.Console != nil {
			body.Console = *edit.Console
		}
		if err := c.do(ctx, http.MethodPut, "/api/game/"+id+"/details", body, nil); err != nil {
			return nil, err
		}
	}

	if edit.Condition != nil {
		list := edit.List
		if list == "" {
			list = domain.ListCollection
		}
		path := fmt.Sprintf("/api/%s/%s/condition", list, id)
		if err := c.do(ctx, http.MethodPut, path, conditionRequest{Condition: *edit.Condition}, nil); err != nil {
			return nil, err
		}
	}

	return c.readBack(ctx, key, nil), nil
}

func (c *HTTPClient) Transition(ctx context.Context, key domain.Key, t domain.StatusTransition) (*domain.Game, error) {
	id, err := serverID(key)
	if err != nil {
		return nil, err
	}

	base := "/api/game/" + id
	switch t.Change {
	case domain.StatusLent:
		err = c.do(ctx, http.MethodPost, base+"/mark_as_lent", lendRequest{LentDate: t.LentDate, LentTo: t.LentTo}, nil)
	case domain.StatusReturned:
		err = c.do(ctx, http.MethodDelete, base+"/unmark_as_lent", nil, nil)
	case domain.StatusForSale:
		err = c.do(ctx, http.MethodPost, base+"/mark_for_sale", saleRequest{AskingPrice: t.AskingPrice, Notes: t.Notes}, nil)
	case domain.StatusNotForSale:
		err = c.do(ctx, http.MethodDelete, base+"/unmark_for_sale", nil, nil)
	case domain.StatusPurchased:
		body := purchaseRequest{PurchaseDate: t.PurchaseDate, PurchaseSource: t.PurchaseSource, PurchasePrice: t.PurchasePrice}
		err = c.do(ctx, http.MethodPost, "/api/wishlist/"+id+"/purchase", body, nil)
	default:
		return nil, domain.Invalid("change", "unknown status change "+string(t.Change))
	}
	if err != nil {
		return nil, err
	}
	return c.readBack(ctx, key, nil), nil
}

func (c *HTTPClient) UpdatePrice(ctx context.Context, key domain.Key) (*domain.Game, error) {
	id, err := serverID(key)
	if err != nil {
		return nil, err
	}
	if err := c.do(ctx, http.MethodPost, "/api/game/"+id+"/update_price", nil, nil); err != nil {
		return nil, err
	}
	return c.readBack(ctx, key, nil), nil
}

func (c *HTTPClient) PriceHistory(ctx context.Context, key domain.Key) ([]domain.PricePoint, error) {
	id, err := serverID(key)
	if err != nil {
		return nil, err
	}
	var payload []pricePointDTO
	if err := c.do(ctx, http.MethodGet, "/api/game/"+id+"/price_history", nil, &payload); err != nil {
		return nil, err
	}
	points := make([]domain.PricePoint, 0, len(payload))
	for _, p := range payload {
		points = append(points, domain.PricePoint{Price: p.Price, Date: p.Date})
	}
	return points, nil
}

func (c *HTTPClient) LastPriceUpdate(ctx context.Context, key domain.Key) (string, error) {
	id, err := serverID(key)
	if err != nil {
		return "", err
	}
	var payload lastUpdateResponse
	if err := c.do(ctx, http.MethodGet, "/api/game/"+id+"/last_price_update", nil, &payload); err != nil {
		return "", err
	}
	return str(payload.LastUpdate), nil
}

// readBack fetches the canonical record after a committed mutation. Failing
// reads are retried here and never surface as an error, since the caller
// would replay the write. If the record stays unreadable fallback is
// returned; a nil record leaves the local copy for the next refresh.
func (c *HTTPClient) readBack(ctx context.Context, key domain.Key, fallback *domain.Game) *domain.Game {
	for attempt := 0; attempt < readBackAttempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(readBackDelay << (attempt - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return fallback
			case <-t.C:
			}
		}
		game, err := c.Get(ctx, key)
		if err == nil {
			return game
		}
		if !domain.IsTransient(err) {
			break
		}
	}
	return fallback
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, dest any) error {
	ctx, span := c.tracer.Start(ctx, method+" "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	err := c.roundTrip(ctx, span, method, path, body, dest)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *HTTPClient) roundTrip(ctx context.Context, span trace.Span, method, path string, body, dest any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &domain.RemoteError{Message: "rate limit wait", Err: err}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	reqURL := c.baseURL.ResolveReference(&url.URL{Path: c.baseURL.Path + path})
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(requestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", reqURL.String()),
		attribute.String("http.request_id", requestID),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.RemoteError{Message: err.Error(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &domain.RemoteError{Status: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload errorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := http.StatusText(resp.StatusCode)
	if err := json.Unmarshal(raw, &payload); err == nil {
		switch {
		case payload.Error != "":
			msg = payload.Error
		case payload.Message != "":
			msg = payload.Message
		}
	}
	return &domain.RemoteError{Status: resp.StatusCode, Message: msg}
}

func serverID(key domain.Key) (string, error) {
	id, ok := key.ID()
	if !ok {
		return "", domain.Invalid("key", "no server id for "+key.String())
	}
	return strconv.FormatInt(id, 10), nil
}
