package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/utils"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Product is the live catalog view the cart needs to price and validate a line.
type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
}

type Catalog interface {
	Product(ctx context.Context, productID string) (*Product, error)
}

var ErrCatalogUnavailable = errors.New("catalog unavailable")

type httpCatalog struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewHTTPCatalog reads products from the product service's detail endpoint.
func NewHTTPCatalog(
	baseURL string,
	timeout time.Duration,
	tp trace.TracerProvider,
	propagator propagation.TextMapPropagator,
	logger *zap.Logger,
) Catalog {
	return &httpCatalog{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(
				http.DefaultTransport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithPropagators(propagator),
			),
		},
		cb:     utils.NewBreaker("CatalogService", logger),
		logger: logger,
	}
}

func (c *httpCatalog) Product(ctx context.Context, productID string) (*Product, error) {
	// A 404 yields a nil product rather than an error so it does not trip the breaker.
	product, err := utils.ExecuteWithBreaker(c.cb, func() (*Product, error) {
		return c.fetch(ctx, productID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			mylogger.Warn(ctx, c.logger, "Catalog circuit breaker open", zap.String("product_id", productID))
		}

		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}

	if product == nil {
		return nil, ErrProductNotFound
	}

	return product, nil
}

func (c *httpCatalog) fetch(ctx context.Context, productID string) (*Product, error) {
	endpoint := fmt.Sprintf("%s/api/products/%s", c.baseURL, url.PathEscape(productID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("catalog responded with status %d", resp.StatusCode)
	}

	var product Product
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return nil, fmt.Errorf("decode catalog product: %w", err)
	}

	return &product, nil
}
