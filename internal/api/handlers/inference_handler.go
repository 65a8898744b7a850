package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kelvana/presetsmith/internal/models"
	"github.com/kelvana/presetsmith/internal/services"
	"github.com/kelvana/presetsmith/internal/utils"
)

// SupportedSynth is the one model/synth kind served today.
const SupportedSynth = "vital"

type InferenceHandler struct {
	svc services.InferenceService
}

func NewInferenceHandler(svc services.InferenceService) *InferenceHandler {
	return &InferenceHandler{svc: svc}
}

type SubmitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type StatusResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

func (h *InferenceHandler) ServerMetadata(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":       "presetsmith",
		"version":    "0.1.0",
		"extensions": []string{},
	})
}

func (h *InferenceHandler) HealthLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"live": true})
}

func (h *InferenceHandler) HealthReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func (h *InferenceHandler) ModelMetadata(c *gin.Context) {
	model, ok := supportedModel(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":     model,
		"platform": "pytorch_torchscript",
		"inputs":   []string{},
		"outputs":  []string{},
	})
}

func (h *InferenceHandler) ModelReady(c *gin.Context) {
	model, ok := supportedModel(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": model, "ready": true})
}

// Infer accepts the raw (optionally gzipped) audio payload and answers with
// the request id and PENDING as soon as the job is durable. Unrecognized
// audio fails here synchronously; no job is created.
func (h *InferenceHandler) Infer(c *gin.Context) {
	model, ok := supportedModel(c)
	if !ok {
		return
	}

	raw, err := c.GetRawData()
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "InferenceHandler.Infer", "failed to read request body", err))
		return
	}

	res, err := h.svc.Submit(c.Request.Context(), raw, model)
	if err != nil {
		if utils.IsCode(err, utils.CodeUnsupportedFormat) && res != nil {
			msg := "unsupported audio format"
			var ae *utils.AppError
			if errors.As(err, &ae) {
				msg = ae.Message
			}
			c.JSON(http.StatusUnprocessableEntity, SubmitResponse{
				RequestID: res.ID,
				Status:    string(models.StatusError),
				Error:     msg,
			})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, SubmitResponse{
		RequestID: res.ID,
		Status:    string(res.Status),
	})
}

// GetStatus reports the current state of a request, with NOT_FOUND as the
// sentinel for unknown ids. A backing-store outage is not "unknown": it
// surfaces as 503 so clients keep retrying.
func (h *InferenceHandler) GetStatus(c *gin.Context) {
	id := c.Param("id")

	st, err := h.svc.GetStatus(c.Request.Context(), id)
	if err != nil {
		if utils.IsCode(err, utils.CodeNotFound) {
			c.JSON(http.StatusOK, StatusResponse{RequestID: id, Status: models.StatusNotFound})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{RequestID: id, Status: string(st)})
}

// GetResult streams the preset back as an attachment. Success evicts the
// in-memory copy; the durable artifact remains and serves repeat calls.
func (h *InferenceHandler) GetResult(c *gin.Context) {
	id := c.Param("id")

	data, err := h.svc.ConsumeResult(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+id+`.vital"`)
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func supportedModel(c *gin.Context) (string, bool) {
	model := strings.ToLower(c.Param("model"))
	if model != SupportedSynth {
		writeError(c, utils.E(utils.CodeNotFound, "InferenceHandler", "model not supported", nil))
		return "", false
	}
	return model, true
}
