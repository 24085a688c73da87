package server

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/parkwalk/go-docent/pkg/hub"
	"github.com/parkwalk/go-docent/pkg/knowledge"
	"github.com/parkwalk/go-docent/pkg/vision"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"version":  Version,
		"sessions": s.store.Len(),
		"monitors": s.hub.MonitorCount(),
		"components": fiber.Map{
			"stt":       s.deps.STT != nil,
			"llm":       s.deps.LLM != nil,
			"tts":       s.deps.TTS != nil,
			"vision":    s.deps.Vision != nil,
			"knowledge": s.kb != nil,
		},
	})
}

// handleDetection ingests one computer vision detection from the
// external detector and makes it available to that visitor's session.
func (s *Server) handleDetection(c *fiber.Ctx) error {
	var body struct {
		ClientID   string  `json:"client_id"`
		Animal     string  `json:"animal"`
		Confidence float64 `json:"confidence"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	body.ClientID = strings.TrimSpace(body.ClientID)
	body.Animal = strings.TrimSpace(body.Animal)
	if body.ClientID == "" || body.Animal == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "client_id and animal are required",
		})
	}

	if s.deps.Vision == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "detection context disabled",
		})
	}

	s.deps.Vision.Observe(vision.Detection{
		ClientID:   body.ClientID,
		Label:      body.Animal,
		Confidence: body.Confidence,
	})
	s.deps.Metrics.DetectionsIngested.Inc()
	s.hub.Publish(hub.NewEvent(hub.EventDetection, body.ClientID, body.Animal))

	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleSessions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"count": s.store.Len()})
}

func (s *Server) handleListExhibits(c *fiber.Ctx) error {
	if s.kb == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "knowledge store disabled",
		})
	}

	subjects, err := s.kb.Subjects(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"exhibits": subjects, "count": len(subjects)})
}

// handleAddFact records one background fact for an exhibit subject.
func (s *Server) handleAddFact(c *fiber.Ctx) error {
	if s.kb == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "knowledge store disabled",
		})
	}

	var body struct {
		Subject string `json:"subject"`
		Fact    string `json:"fact"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := s.kb.AddFact(c.Context(), body.Subject, body.Fact); err != nil {
		if errors.Is(err, knowledge.ErrInvalidFact) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
