package handler

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/qrcode"
	"github.com/sifan077/shortlink/internal/app/service"
	infraPrometheus "github.com/sifan077/shortlink/internal/infra/prometheus"
	"github.com/sifan077/shortlink/internal/http/middleware"
	"go.uber.org/zap"
)

const serverErrorMessage = "Server error"

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger      *zap.Logger
	LinkService service.LinkService
	QRCodes     qrcode.Encoder
	Metrics     *infraPrometheus.Metrics
}

// APIHandler implements the endpoints used by the browser client.
type APIHandler struct {
	logger      *zap.Logger
	linkService service.LinkService
	qrCodes     qrcode.Encoder
	metrics     *infraPrometheus.Metrics
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	qrCodes := deps.QRCodes
	if qrCodes == nil {
		qrCodes = qrcode.NewPNGEncoder(qrcode.DefaultSize)
	}
	return &APIHandler{
		logger:      logger,
		linkService: deps.LinkService,
		qrCodes:     qrCodes,
		metrics:     deps.Metrics,
	}
}

// Register wires API routes onto the provided router.
func (h *APIHandler) Register(router fiber.Router) {
	api := router.Group("/api")
	{
		api.Get("/urls", h.ListURLs)
		api.Post("/shorten", h.Shorten)
		api.Post("/qrcode", h.QRCode)
	}
}

// ShortenRequest represents the request body for creating a short link.
type ShortenRequest struct {
	LongURL     string `json:"longUrl"`
	CustomAlias string `json:"customAlias,omitempty"`
}

// ShortenResponse represents the response for a created short link.
type ShortenResponse struct {
	LongURL  string    `json:"longUrl"`
	ShortURL string    `json:"shortUrl"`
	URLCode  string    `json:"urlCode"`
	Date     time.Time `json:"date"`
	Clicks   int64     `json:"clicks"`
}

// URLResponse is one entry of the recent links listing.
type URLResponse struct {
	ID       string    `json:"_id"`
	LongURL  string    `json:"longUrl"`
	ShortURL string    `json:"shortUrl"`
	Clicks   int64     `json:"clicks"`
	Date     time.Time `json:"date"`
}

// QRCodeRequest represents the request body for rendering a QR code.
type QRCodeRequest struct {
	ShortURL string `json:"shortUrl"`
}

// QRCodeResponse carries the PNG as a data URI.
type QRCodeResponse struct {
	QRCode string `json:"qrCode"`
}

// Shorten handles POST /api/shorten
func (h *APIHandler) Shorten(c *fiber.Ctx) error {
	var req ShortenRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	link, err := h.linkService.Shorten(c.UserContext(), service.ShortenInput{
		URL:   req.LongURL,
		Alias: strings.TrimSpace(req.CustomAlias),
	})
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			return errorJSON(c, fiber.StatusBadRequest, verr.Message)
		case errors.Is(err, service.ErrAliasTaken):
			return errorJSON(c, fiber.StatusConflict, "Custom alias is already in use")
		default:
			h.logger.Error("failed to shorten url",
				zap.Error(err),
				zap.String("request_id", middleware.GetRequestID(c)))
			return errorJSON(c, fiber.StatusInternalServerError, serverErrorMessage)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(ShortenResponse{
		LongURL:  link.URL,
		ShortURL: h.linkService.ShortURL(link.Code),
		URLCode:  link.Code,
		Date:     link.CreatedAt,
		Clicks:   link.Clicks,
	})
}

// ListURLs handles GET /api/urls
func (h *APIHandler) ListURLs(c *fiber.Ctx) error {
	links, err := h.linkService.ListRecent(c.UserContext(), c.QueryInt("limit", 0))
	if err != nil {
		h.logger.Error("failed to list urls",
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(c)))
		return errorJSON(c, fiber.StatusInternalServerError, serverErrorMessage)
	}

	response := make([]URLResponse, len(links))
	for i := range links {
		response[i] = h.toURLResponse(&links[i])
	}
	return c.JSON(response)
}

// QRCode handles POST /api/qrcode
func (h *APIHandler) QRCode(c *fiber.Ctx) error {
	var req QRCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	text := strings.TrimSpace(req.ShortURL)
	if text == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Short URL is required")
	}

	png, err := h.qrCodes.Encode(text)
	if err != nil {
		h.metrics.QRCode(infraPrometheus.ResultError)
		h.logger.Error("failed to render qr code",
			zap.Error(err),
			zap.Int("length", len(text)),
			zap.String("request_id", middleware.GetRequestID(c)))
		return errorJSON(c, fiber.StatusInternalServerError, serverErrorMessage)
	}

	h.metrics.QRCode(infraPrometheus.ResultOK)
	return c.JSON(QRCodeResponse{QRCode: qrcode.DataURI(png)})
}

func (h *APIHandler) toURLResponse(link *model.Link) URLResponse {
	return URLResponse{
		ID:       link.ID,
		LongURL:  link.URL,
		ShortURL: h.linkService.ShortURL(link.Code),
		Clicks:   link.Clicks,
		Date:     link.CreatedAt,
	}
}

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}
