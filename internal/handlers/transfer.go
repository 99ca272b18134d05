package handlers

import (
	stderrors "errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"ocstransfer/internal/errors"
	"ocstransfer/internal/models"
	"ocstransfer/internal/repositories"
	"ocstransfer/internal/services/transfer"
	"ocstransfer/internal/utils"
	"ocstransfer/internal/utils/response"
)

// TransferHandler exposes the transfer orchestrator over HTTP.
type TransferHandler struct {
	service transfer.Service
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(s transfer.Service) *TransferHandler { return &TransferHandler{service: s} }

// statusFor maps an outcome code to the HTTP status of the reply. Business
// rejections are a normal 200 answer carrying their code.
func statusFor(k errors.Kind) int {
	switch k {
	case errors.BadRequest:
		return fiber.StatusBadRequest
	case errors.UserNotAllowed:
		return fiber.StatusForbidden
	case errors.ConcurrentUpdateDetected:
		return fiber.StatusConflict
	case errors.ServiceUnavailable, errors.ConfigurationError, errors.PropertyNotFound:
		return fiber.StatusServiceUnavailable
	case errors.OCSTimeout:
		return fiber.StatusGatewayTimeout
	}
	return fiber.StatusOK
}

// request decodes the body and stamps the caller identity from the token.
func (h *TransferHandler) request(c *fiber.Ctx) (models.TransferRequest, *transfer.TransferOutcome) {
	var req models.TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return req, &transfer.TransferOutcome{
			StatusCode:    errors.BadRequest.Code(),
			StatusMessage: "invalid request body",
		}
	}
	claims, err := utils.GetCallerClaims(c)
	if err != nil {
		return req, &transfer.TransferOutcome{
			StatusCode:    errors.UserNotAllowed.Code(),
			StatusMessage: errors.DefaultMessage(errors.UserNotAllowed),
		}
	}
	req.CallerID = claims.CallerID()
	req.CallerRoles = claims.Roles
	req.RequestedAt = time.Now().UTC()

	// A subscriber token may only move its own credit.
	if !claims.HasRole(models.RoleOperator) && !claims.HasRole(models.RoleSystem) && req.SourceMSISDN != claims.CallerID() {
		return req, &transfer.TransferOutcome{
			StatusCode:    errors.UserNotAllowed.Code(),
			StatusMessage: errors.DefaultMessage(errors.UserNotAllowed),
		}
	}
	if c.Get(fiber.HeaderAcceptLanguage) == "ar" {
		req.Arabic = true
	}
	return req, nil
}

func reply(c *fiber.Ctx, out transfer.TransferOutcome) error {
	return c.Status(statusFor(out.Kind())).JSON(out)
}

// Submit handles POST /api/transfers.
func (h *TransferHandler) Submit(c *fiber.Ctx) error {
	req, early := h.request(c)
	if early != nil {
		return reply(c, *early)
	}
	out := h.service.Submit(c.UserContext(), req)
	log.Infow("transfer request handled", "request_id", req.RequestID, "caller", req.CallerID,
		"code", out.StatusCode, "status", out.Status, "transaction_id", out.TransactionID)
	return reply(c, out)
}

// Validate handles POST /api/transfers/validate.
func (h *TransferHandler) Validate(c *fiber.Ctx) error {
	req, early := h.request(c)
	if early != nil {
		return reply(c, *early)
	}
	return reply(c, h.service.ValidateOnly(c.UserContext(), req))
}

// Get handles GET /api/transfers/:id.
func (h *TransferHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return response.BadRequest(c, "invalid transaction id")
	}
	tx, err := h.service.Get(c.UserContext(), uint(id))
	if stderrors.Is(err, repositories.ErrTransferNotFound) {
		return response.NotFound(c, "transaction not found")
	}
	if err != nil {
		log.Errorw("transfer lookup failed", "transaction_id", id, "error", err)
		return response.ServerError(c, "failed to load transaction")
	}

	claims, err := utils.GetCallerClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	if !claims.HasPermission(models.PermissionTransferAdmin) && !claims.HasRole(models.RoleSystem) &&
		tx.SourceMSISDN != claims.CallerID() && tx.DestinationMSISDN != claims.CallerID() {
		return response.NotFound(c, "transaction not found")
	}
	return response.Success(c, "transaction retrieved", tx)
}

// Denominations handles GET /api/denominations.
func (h *TransferHandler) Denominations(c *fiber.Ctx) error {
	values, err := h.service.ListDenominations(c.UserContext())
	if err != nil {
		k := errors.KindOf(err)
		log.Warnw("denominations unavailable", "code", k.Code(), "error", err)
		return c.Status(statusFor(k)).JSON(transfer.TransferOutcome{
			StatusCode:    k.Code(),
			StatusMessage: errors.DefaultMessage(k),
		})
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = models.FormatAmount(v)
	}
	return response.Success(c, "denominations retrieved", out)
}
