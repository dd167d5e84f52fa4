package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"

	"github.com/spec-kit/campus-helpdesk/internal/api/dto"
	"github.com/spec-kit/campus-helpdesk/internal/config"
	"github.com/spec-kit/campus-helpdesk/internal/service"
)

// OpsHandler exposes the scheduler entry points for manual invocation.
// The in-process workers call the same services on their interval.
type OpsHandler struct {
	escalations *service.EscalationService
	dispatcher  *service.OutboxDispatcher
	clock       clockwork.Clock
	outboxCfg   config.OutboxConfig
}

// NewOpsHandler constructs handler.
func NewOpsHandler(escalations *service.EscalationService, dispatcher *service.OutboxDispatcher, clock clockwork.Clock, outboxCfg config.OutboxConfig) *OpsHandler {
	return &OpsHandler{escalations: escalations, dispatcher: dispatcher, clock: clock, outboxCfg: outboxCfg}
}

// RunEscalations POST /internal/escalations/run.
func (h *OpsHandler) RunEscalations(c *fiber.Ctx) error {
	result, err := h.escalations.RunScan(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ScanResponse{
		AcknowledgementEscalated: result.AcknowledgementEscalated,
		ResolutionEscalated:      result.ResolutionEscalated,
		Total:                    result.Total,
	}})
}

// FlushOutbox POST /internal/outbox/flush.
func (h *OpsHandler) FlushOutbox(c *fiber.Ctx) error {
	batchSize, _ := strconv.Atoi(c.Query("batch_size", "0"))
	deadlineSeconds, _ := strconv.Atoi(c.Query("deadline_seconds", strconv.Itoa(h.outboxCfg.RunTimeoutSeconds)))
	deadline := h.clock.Now().Add(time.Duration(deadlineSeconds) * time.Second)

	result, err := h.dispatcher.Flush(c.UserContext(), batchSize, deadline)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FlushResponse{
		Sent:         result.Sent,
		Failed:       result.Failed,
		StillPending: result.StillPending,
	}})
}
