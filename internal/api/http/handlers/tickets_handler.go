package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/campus-helpdesk/internal/api/dto"
	"github.com/spec-kit/campus-helpdesk/internal/auth"
	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/service"
	apperrors "github.com/spec-kit/campus-helpdesk/pkg/util/errorutil"
)

var validate = validator.New()

// TicketsHandler exposes the lifecycle engine operations.
type TicketsHandler struct {
	lifecycle *service.LifecycleService
	tat       *service.TATService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(lifecycle *service.LifecycleService, tat *service.TATService) *TicketsHandler {
	return &TicketsHandler{lifecycle: lifecycle, tat: tat}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.CreateTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	ticket, err := h.lifecycle.CreateTicket(c.UserContext(), principal.Actor(), service.CreateTicketInput{
		Subject:         req.Subject,
		Description:     req.Description,
		DomainID:        req.DomainID,
		CategoryID:      req.CategoryID,
		SubcategoryID:   req.SubcategoryID,
		AckHours:        req.AckHours,
		ResolutionHours: req.ResolutionHours,
		Metadata:        req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	ticket, err := h.lifecycle.GetTicket(c.UserContext(), principal.Actor(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// ListActivity GET /tickets/:id/activity.
func (h *TicketsHandler) ListActivity(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	entries, err := h.lifecycle.ListActivity(c.UserContext(), principal.Actor(), c.Params("id"), limit, offset)
	if err != nil {
		return err
	}
	items := make([]dto.ActivityResponse, 0, len(entries))
	for i := range entries {
		items = append(items, dto.FromActivity(&entries[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// UpdateStatus POST /tickets/:id/status.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.UpdateStatusRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	ticket, err := h.lifecycle.UpdateStatus(c.UserContext(), c.Params("id"), domain.TicketStatus(req.Status), principal.Actor(), req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// SetTAT POST /tickets/:id/tat.
func (h *TicketsHandler) SetTAT(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.SetTATRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	ticket, err := h.tat.SetTAT(c.UserContext(), c.Params("id"), principal.Actor(), req.TAT, req.MarkInProgress)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// ExtendTAT POST /tickets/:id/tat/extend.
func (h *TicketsHandler) ExtendTAT(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.ExtendTATRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.tat.ExtendTAT(c.UserContext(), c.Params("id"), principal.Actor(), req.Hours, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ExtendTATResponse{
		Ticket:        dto.FromTicket(result.Ticket),
		TATExtensions: result.TATExtensions,
		Warning:       result.Warning,
	}})
}

// Reopen POST /tickets/:id/reopen.
func (h *TicketsHandler) Reopen(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.ReopenRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.lifecycle.ReopenTicket(c.UserContext(), c.Params("id"), principal.Actor(), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ReopenResponse{
		Ticket:      dto.FromTicket(result.Ticket),
		ReopenCount: result.ReopenCount,
		Warning:     result.Warning,
	}})
}

// Forward POST /tickets/:id/forward.
func (h *TicketsHandler) Forward(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.ForwardRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.lifecycle.ForwardTicket(c.UserContext(), c.Params("id"), req.TargetActorID, principal.Actor(), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ForwardResponse{
		ForwardCount: result.ForwardCount,
		Warning:      result.Warning,
	}})
}

func parseBody(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := validate.Struct(req); err != nil {
		return apperrors.NewValidationError("invalid payload", map[string]any{"reason": err.Error()})
	}
	return nil
}
