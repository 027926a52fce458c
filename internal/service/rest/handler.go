package restsvc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	cartsvc "github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/session"
)

const (
	sessionCookieName    = "cart_session"
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyTTL       = 24 * time.Hour

	maxRequestBodySize = 1 << 16
)

// Handler реализует HTTP/JSON API поверх движка корзины.
type Handler struct {
	cart     *cartsvc.Service
	sessions *session.Resolver
	catalog  domain.CatalogRepository
	idemRepo domain.IdempotencyRepository
	metrics  *metrics.CartMetrics
	logger   *log.Entry

	currency string
}

// Option настраивает Handler.
type Option func(*Handler)

// WithIdempotency включает обработку заголовка Idempotency-Key на мутирующих операциях.
func WithIdempotency(repo domain.IdempotencyRepository) Option {
	return func(h *Handler) {
		h.idemRepo = repo
	}
}

// WithMetrics включает сбор метрик API.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler конструирует HTTP-обработчик с зависимостями.
// defaultCurrency используется для форматирования цен каталога.
func NewHandler(
	cart *cartsvc.Service,
	sessions *session.Resolver,
	catalog domain.CatalogRepository,
	defaultCurrency string,
	logger *log.Entry,
	options ...Option,
) *Handler {
	if logger == nil {
		logger = log.WithField("component", "rest-handler")
	}

	h := &Handler{
		cart:     cart,
		sessions: sessions,
		catalog:  catalog,
		logger:   logger,
		currency: defaultCurrency,
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// Routes возвращает маршрутизатор API.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cart", h.instrument("show", h.handleShowCart))
	mux.HandleFunc("POST /cart/add", h.instrument("add", h.handleAddLine))
	mux.HandleFunc("POST /cart/update", h.instrument("update", h.handleUpdateLine))
	mux.HandleFunc("POST /cart/remove", h.instrument("remove", h.handleRemoveLine))
	mux.HandleFunc("GET /products", h.instrument("products", h.handleListProducts))
	return mux
}

// operationResult несёт статус и тело ответа до сериализации.
// raw используется при повторе закэшированного idempotency-ответа.
type operationResult struct {
	status int
	body   any
	raw    json.RawMessage
}

func okResult(body any) operationResult {
	return operationResult{status: http.StatusOK, body: body}
}

func errResult(status int, body any) operationResult {
	return operationResult{status: status, body: body}
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) instrument(operation string, fn func(http.ResponseWriter, *http.Request) operationResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if h.metrics != nil {
			h.metrics.RequestStarted()
			defer h.metrics.RequestFinished()
		}

		result := fn(w, r)
		h.writeResult(w, result)

		if h.metrics != nil {
			h.metrics.RecordOperation(operation, resultLabel(result.status))
			h.metrics.RecordOperationDuration(operation, time.Since(start))
		}
	}
}

func resultLabel(status int) string {
	switch {
	case status < 400:
		return metrics.ResultOK
	case status == http.StatusNotFound:
		return metrics.ResultNotFound
	case status == http.StatusUnprocessableEntity:
		return metrics.ResultInvalid
	default:
		return metrics.ResultError
	}
}

func (h *Handler) writeResult(w http.ResponseWriter, result operationResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.status)

	if result.raw != nil {
		if _, err := w.Write(result.raw); err != nil {
			h.logger.WithError(err).Warn("failed to write cached response")
		}
		return
	}

	if result.body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(result.body); err != nil {
		h.logger.WithError(err).Warn("failed to encode response")
	}
}

// resolveCart привязывает запрос к корзине по сессионной cookie,
// устанавливая cookie для новых сессий.
func (h *Handler) resolveCart(w http.ResponseWriter, r *http.Request) (domain.Cart, error) {
	token := ""
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		token = cookie.Value
	}

	cart, resolved, err := h.sessions.Resolve(token)
	if err != nil {
		return domain.Cart{}, err
	}

	if resolved != token {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    resolved,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return cart, nil
}

func (h *Handler) mapResolveError(err error) operationResult {
	switch {
	case errors.Is(err, domain.ErrDefaultsNotConfigured):
		h.logger.WithError(err).Error("cart defaults are not configured")
		return errResult(http.StatusInternalServerError, errorBody{Error: "service is not configured"})
	case errors.Is(err, domain.ErrStorageTemporary):
		return errResult(http.StatusServiceUnavailable, errorBody{Error: "temporary storage error, retry later"})
	default:
		h.logger.WithError(err).Error("failed to resolve cart session")
		return errResult(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

type cartLineView struct {
	ID        int64           `json:"id"`
	Quantity  int32           `json:"quantity"`
	LineTotal string          `json:"line_total"`
	Product   productLineView `json:"product"`
}

type productLineView struct {
	Name string `json:"name"`
}

type cartView struct {
	ID    int64          `json:"id"`
	Items []cartLineView `json:"items"`
	Total string         `json:"total"`
}

// handleShowCart возвращает снапшот корзины сессии, лениво создавая корзину.
func (h *Handler) handleShowCart(w http.ResponseWriter, r *http.Request) operationResult {
	cart, err := h.resolveCart(w, r)
	if err != nil {
		return h.mapResolveError(err)
	}

	view, err := h.cart.View(cart.ID)
	if err != nil {
		h.logger.WithError(err).WithField("cart_id", cart.ID).Error("failed to build cart view")
		return errResult(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}

	items := make([]cartLineView, 0, len(view.Lines))
	for _, priced := range view.Lines {
		items = append(items, cartLineView{
			ID:        priced.Line.ID,
			Quantity:  priced.Line.Qty,
			LineTotal: pricing.Format(cart.Currency, priced.TotalMinor()),
			Product:   productLineView{Name: priced.Variant.Name},
		})
	}

	return okResult(cartView{
		ID:    cart.ID,
		Items: items,
		Total: pricing.Format(cart.Currency, view.TotalMinor),
	})
}

type addRequest struct {
	VariantID int64  `json:"variant_id"`
	Quantity  *int32 `json:"quantity"`
}

type addResponse struct {
	Success  bool  `json:"success"`
	NewStock int32 `json:"new_stock"`
}

type addErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// handleAddLine добавляет вариант в корзину, резервируя остаток.
func (h *Handler) handleAddLine(w http.ResponseWriter, r *http.Request) operationResult {
	cart, err := h.resolveCart(w, r)
	if err != nil {
		return h.mapResolveError(err)
	}

	body, result, ok := h.readBody(r)
	if !ok {
		return result
	}

	return h.withIdempotency(r, body, func() operationResult {
		var req addRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return errResult(http.StatusUnprocessableEntity, addErrorResponse{Error: "invalid request body"})
		}
		if req.VariantID <= 0 {
			return errResult(http.StatusUnprocessableEntity, addErrorResponse{Error: "variant_id is required"})
		}

		qty := int32(1)
		if req.Quantity != nil {
			qty = *req.Quantity
		}
		if qty < 1 {
			return errResult(http.StatusUnprocessableEntity, addErrorResponse{Error: "quantity must be at least 1"})
		}

		change, err := h.cart.AddLine(cart.ID, req.VariantID, qty)
		if err != nil {
			return h.mapAddError(err)
		}

		return okResult(addResponse{Success: true, NewStock: change.NewStock})
	})
}

func (h *Handler) mapAddError(err error) operationResult {
	switch {
	case domain.IsInsufficientStock(err):
		if h.metrics != nil {
			h.metrics.RecordInsufficientStock()
		}
		available, _ := domain.AvailableStock(err)
		return errResult(http.StatusUnprocessableEntity, addErrorResponse{
			Error: fmt.Sprintf("Insufficient qty in stock. Available: %d", available),
		})
	case errors.Is(err, domain.ErrVariantNotFound):
		return errResult(http.StatusNotFound, addErrorResponse{Error: "Variant not found"})
	case errors.Is(err, domain.ErrQtyInvalid):
		return errResult(http.StatusUnprocessableEntity, addErrorResponse{Error: "quantity must be at least 1"})
	case errors.Is(err, domain.ErrStorageTemporary):
		return errResult(http.StatusServiceUnavailable, errorBody{Error: "temporary storage error, retry later"})
	default:
		h.logger.WithError(err).Error("add line failed")
		return errResult(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

type updateRequest struct {
	LineID   int64  `json:"line_id"`
	Quantity *int32 `json:"quantity"`
}

type updateResponse struct {
	Success   bool   `json:"success"`
	LineTotal string `json:"line_total"`
	Total     string `json:"total"`
	VariantID int64  `json:"variant_id"`
	NewStock  int32  `json:"new_stock"`
}

type updateStockErrorResponse struct {
	Error string `json:"error"`
	Stock int32  `json:"stock"`
}

// handleUpdateLine выставляет позиции новое количество.
func (h *Handler) handleUpdateLine(w http.ResponseWriter, r *http.Request) operationResult {
	cart, err := h.resolveCart(w, r)
	if err != nil {
		return h.mapResolveError(err)
	}

	body, result, ok := h.readBody(r)
	if !ok {
		return result
	}

	return h.withIdempotency(r, body, func() operationResult {
		var req updateRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return errResult(http.StatusUnprocessableEntity, errorBody{Error: "invalid request body"})
		}
		if req.LineID <= 0 {
			return errResult(http.StatusUnprocessableEntity, errorBody{Error: "line_id is required"})
		}
		if req.Quantity == nil || *req.Quantity < 1 {
			return errResult(http.StatusUnprocessableEntity, errorBody{Error: "quantity must be at least 1"})
		}

		change, err := h.cart.SetLineQty(cart.ID, req.LineID, *req.Quantity)
		if err != nil {
			return h.mapUpdateError(err)
		}

		return okResult(updateResponse{
			Success:   true,
			LineTotal: pricing.Format(cart.Currency, change.LineTotalMinor),
			Total:     pricing.Format(cart.Currency, change.CartTotalMinor),
			VariantID: change.VariantID,
			NewStock:  change.NewStock,
		})
	})
}

func (h *Handler) mapUpdateError(err error) operationResult {
	switch {
	case domain.IsInsufficientStock(err):
		if h.metrics != nil {
			h.metrics.RecordInsufficientStock()
		}
		available, _ := domain.AvailableStock(err)
		return errResult(http.StatusUnprocessableEntity, updateStockErrorResponse{
			Error: "Not enough stock",
			Stock: available,
		})
	case errors.Is(err, domain.ErrCartLineNotFound):
		return errResult(http.StatusNotFound, errorBody{Error: "Cart line not found"})
	case errors.Is(err, domain.ErrVariantNotFound):
		return errResult(http.StatusNotFound, errorBody{Error: "Variant not found"})
	case errors.Is(err, domain.ErrQtyInvalid):
		return errResult(http.StatusUnprocessableEntity, errorBody{Error: "quantity must be at least 1"})
	case errors.Is(err, domain.ErrStorageTemporary):
		return errResult(http.StatusServiceUnavailable, errorBody{Error: "temporary storage error, retry later"})
	default:
		h.logger.WithError(err).Error("update line failed")
		return errResult(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

type removeRequest struct {
	LineID int64 `json:"line_id"`
}

type removeResponse struct {
	Success   bool  `json:"success"`
	VariantID int64 `json:"variant_id"`
	NewStock  int32 `json:"new_stock"`
}

type removeErrorResponse struct {
	Success bool `json:"success"`
}

// handleRemoveLine удаляет позицию, возвращая её количество на склад.
func (h *Handler) handleRemoveLine(w http.ResponseWriter, r *http.Request) operationResult {
	cart, err := h.resolveCart(w, r)
	if err != nil {
		return h.mapResolveError(err)
	}

	body, result, ok := h.readBody(r)
	if !ok {
		return result
	}

	return h.withIdempotency(r, body, func() operationResult {
		var req removeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return errResult(http.StatusUnprocessableEntity, errorBody{Error: "invalid request body"})
		}
		if req.LineID <= 0 {
			return errResult(http.StatusUnprocessableEntity, errorBody{Error: "line_id is required"})
		}

		change, err := h.cart.RemoveLine(cart.ID, req.LineID)
		if err != nil {
			return h.mapRemoveError(err)
		}

		return okResult(removeResponse{
			Success:   true,
			VariantID: change.VariantID,
			NewStock:  change.NewStock,
		})
	})
}

func (h *Handler) mapRemoveError(err error) operationResult {
	switch {
	case errors.Is(err, domain.ErrCartLineNotFound):
		return errResult(http.StatusNotFound, removeErrorResponse{Success: false})
	case errors.Is(err, domain.ErrStorageTemporary):
		return errResult(http.StatusServiceUnavailable, errorBody{Error: "temporary storage error, retry later"})
	default:
		h.logger.WithError(err).Error("remove line failed")
		return errResult(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

type productView struct {
	ID          int64  `json:"id"`
	SKU         string `json:"sku"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Stock       int32  `json:"stock"`
}

// handleListProducts возвращает опубликованные варианты каталога.
func (h *Handler) handleListProducts(_ http.ResponseWriter, _ *http.Request) operationResult {
	variants, err := h.catalog.ListPublished()
	if err != nil {
		h.logger.WithError(err).Error("failed to list products")
		return errResult(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}

	products := make([]productView, 0, len(variants))
	for _, variant := range variants {
		products = append(products, productView{
			ID:          variant.ID,
			SKU:         variant.SKU,
			Name:        variant.Name,
			Description: variant.Description,
			Price:       pricing.Format(h.currency, variant.PriceMinor),
			Stock:       variant.Stock,
		})
	}

	return okResult(products)
}

func (h *Handler) readBody(r *http.Request) ([]byte, operationResult, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		return nil, errResult(http.StatusBadRequest, errorBody{Error: "failed to read request body"}), false
	}
	return body, operationResult{}, true
}

// withIdempotency повторяет закэшированный ответ для уже виденного
// Idempotency-Key вместо повторного выполнения мутации.
func (h *Handler) withIdempotency(r *http.Request, body []byte, fn func() operationResult) operationResult {
	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if h.idemRepo == nil || key == "" {
		return fn()
	}

	reqHash := buildIdempotencyRequestHash(r.Method, r.URL.Path, body)

	record, err := h.idemRepo.CreateProcessing(key, reqHash, time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		return h.replayIdempotency(err, record)
	}

	result := fn()

	data, encErr := json.Marshal(result.body)
	if encErr != nil {
		h.logger.WithError(encErr).WithField("idempotency_key", key).Warn("failed to encode idempotency cache payload")
		data = nil
	}

	if result.status < 400 {
		if err := h.idemRepo.MarkDone(key, data, result.status); err != nil {
			h.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
		}
	} else {
		if err := h.idemRepo.MarkFailed(key, data, result.status); err != nil {
			h.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
		}
	}

	return result
}

func (h *Handler) replayIdempotency(createErr error, record domain.IdempotencyRecord) operationResult {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return errResult(http.StatusConflict, errorBody{
			Error: "idempotency key is already used with different request payload",
		})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			if record.HTTPStatus == 0 || len(record.ResponseBody) == 0 {
				return errResult(http.StatusInternalServerError, errorBody{Error: "idempotency cache is empty"})
			}
			return operationResult{status: record.HTTPStatus, raw: json.RawMessage(record.ResponseBody)}
		case domain.IdempotencyStatusProcessing:
			return errResult(http.StatusConflict, errorBody{
				Error: "request with the same idempotency key is already processing",
			})
		default:
			return errResult(http.StatusInternalServerError, errorBody{Error: "unknown idempotency record status"})
		}
	default:
		h.logger.WithError(createErr).Warn("failed to create idempotency record")
		return errResult(http.StatusInternalServerError, errorBody{Error: "failed to initialize idempotency request"})
	}
}

func buildIdempotencyRequestHash(method, path string, body []byte) string {
	payload := make([]byte, 0, len(method)+len(path)+len(body)+2)
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, path...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
