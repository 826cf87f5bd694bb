package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenMatrixCore/internal/devices"
	"github.com/KevinKickass/OpenMatrixCore/internal/extron"
	"github.com/KevinKickass/OpenMatrixCore/internal/storage"
	"github.com/KevinKickass/OpenMatrixCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// lookupDevice resolves the :id parameter, which may be a UUID or a device
// name. It writes the error response itself.
func (s *Server) lookupDevice(c *gin.Context) (*devices.Device, bool) {
	param := c.Param("id")
	manager := s.lm.DeviceManager()

	var (
		device *devices.Device
		exists bool
	)
	if id, err := uuid.Parse(param); err == nil {
		device, exists = manager.GetDevice(id)
	} else {
		device, exists = manager.GetDeviceByName(param)
	}

	if !exists {
		c.AbortWithStatusJSON(http.StatusNotFound, types.NewErrorResponse(types.ErrCodeNotFound, "device not found", param))
		return nil, false
	}
	return device, true
}

func outputParam(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("output"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrCodeInvalidRequest, "invalid output number", c.Param("output")))
		return 0, false
	}
	return n, true
}

// GET /api/v1/devices
func (s *Server) listDevices(c *gin.Context) {
	list := s.lm.DeviceManager().ListDevices()

	response := make([]types.DeviceStatus, 0, len(list))
	for _, device := range list {
		response = append(response, device.Status())
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": response,
		"count":   len(response),
	})
}

// GET /api/v1/devices/:id
func (s *Server) getDevice(c *gin.Context) {
	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"definition": device.Definition.Redacted(),
		"status":     device.Status(),
	})
}

// GET /api/v1/devices/:id/info
func (s *Server) getDeviceInfo(c *gin.Context) {
	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}

	info, err := device.Client.Info(c.Request.Context())
	if err != nil {
		abortWithDeviceError(c, "information request failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"video_inputs":  info.VideoInputs,
		"video_outputs": info.VideoOutputs,
		"audio_inputs":  info.AudioInputs,
		"audio_outputs": info.AudioOutputs,
	})
}

// GET /api/v1/devices/:id/history
func (s *Server) getRouteHistory(c *gin.Context) {
	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}

	store := s.lm.Storage()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.ErrCodeInternal, "route history requires the database", nil))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := store.ListRouteEvents(c.Request.Context(), device.ID, limit)
	if err != nil {
		s.logger.Error("Failed to list route events", zap.String("device", device.Definition.Name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrCodeInternal, "failed to load history", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// GET /api/v1/devices/:id/outputs
func (s *Server) listOutputs(c *gin.Context) {
	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outputs": device.Outputs(),
		"stale":   device.Client.Stale(),
	})
}

// GET /api/v1/devices/:id/outputs/:output
// Resyncs first when the state is stale and the session can do so.
func (s *Server) getOutput(c *gin.Context) {
	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}
	n, ok := outputParam(c)
	if !ok {
		return
	}

	_, err := device.Client.QueryRoute(c.Request.Context(), n, extron.SignalVideo)
	stale := errors.Is(err, extron.ErrStale)
	if err != nil && !stale {
		abortWithDeviceError(c, "query failed", err)
		return
	}

	status, err := device.Output(n)
	if err != nil {
		abortWithDeviceError(c, "query failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"output": status,
		"stale":  stale,
	})
}

// SetOutputRequest selects either a numeric input (0 clears the output)
// or one of the output's option labels.
type SetOutputRequest struct {
	Input  *int   `json:"input"`
	Option string `json:"option"`
}

// PUT /api/v1/devices/:id/outputs/:output
func (s *Server) setOutput(c *gin.Context) {
	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}
	n, ok := outputParam(c)
	if !ok {
		return
	}

	var req SetOutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrCodeInvalidRequest, "Invalid request body", err.Error()))
		return
	}
	if (req.Input == nil) == (req.Option == "") {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrCodeInvalidRequest, "exactly one of input or option is required", nil))
		return
	}

	ctx := c.Request.Context()
	var err error
	if req.Input != nil {
		err = device.Client.SetRoute(ctx, n, *req.Input, extron.SignalVideo)
	} else {
		var unit *extron.OutputUnit
		if unit, err = device.Client.Output(n); err == nil {
			err = unit.Select(ctx, req.Option)
		}
	}
	if err != nil {
		abortWithDeviceError(c, "route change failed", err)
		return
	}

	s.logger.Info("Route set via API",
		zap.String("device", device.Definition.Name),
		zap.Int("output", n),
		zap.String("username", c.GetString("username")))

	status, _ := device.Output(n)
	c.JSON(http.StatusOK, status)
}

// POST /api/v1/devices/:id/connect
func (s *Server) connectDevice(c *gin.Context) {
	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}

	if err := device.Client.Connect(c.Request.Context()); err != nil {
		abortWithDeviceError(c, "connect failed", err)
		return
	}
	c.JSON(http.StatusOK, device.Status())
}

// POST /api/v1/devices/:id/resync
func (s *Server) resyncDevice(c *gin.Context) {
	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}

	if err := device.Client.Resync(c.Request.Context()); err != nil {
		abortWithDeviceError(c, "resync failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outputs": device.Outputs(),
		"stale":   device.Client.Stale(),
	})
}

// POST /api/v1/devices
func (s *Server) createDevice(c *gin.Context) {
	var def types.MatrixDevice
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrCodeInvalidRequest, "Invalid request body", err.Error()))
		return
	}
	if err := s.lm.DeviceManager().Validator().ValidateDevice(&def); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrCodeInvalidRequest, "invalid device", err.Error()))
		return
	}
	if _, exists := s.lm.DeviceManager().GetDeviceByName(def.Name); exists {
		c.JSON(http.StatusConflict, types.NewErrorResponse(types.ErrCodeInvalidRequest, "device name already in use", def.Name))
		return
	}

	// Save to database first (upsert); the row's id becomes the device id.
	store := s.lm.Storage()
	if store != nil {
		id, err := store.SaveDevice(c.Request.Context(), def)
		if err != nil {
			s.logger.Error("Failed to save device", zap.String("device", def.Name), zap.Error(err))
			c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrCodeInternal, "failed to save device", nil))
			return
		}
		def.ID = id
	}

	device, err := s.lm.DeviceManager().AddDevice(def)
	if err != nil && store != nil {
		// Do not leave a row behind that the next start would load.
		if delErr := store.DeleteDevice(c.Request.Context(), def.ID); delErr != nil && !errors.Is(delErr, storage.ErrNotFound) {
			s.logger.Error("Failed to roll back saved device", zap.String("device", def.Name), zap.Error(delErr))
		}
	}
	if errors.Is(err, devices.ErrDuplicateDevice) {
		c.JSON(http.StatusConflict, types.NewErrorResponse(types.ErrCodeInvalidRequest, "device name already in use", def.Name))
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrCodeInvalidRequest, "failed to add device", err.Error()))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"definition": device.Definition.Redacted(),
		"status":     device.Status(),
	})
}

// DELETE /api/v1/devices/:id
func (s *Server) deleteDevice(c *gin.Context) {
	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}

	if err := s.lm.DeviceManager().RemoveDevice(device.ID); err != nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.ErrCodeNotFound, "device not found", err.Error()))
		return
	}

	// File-defined devices have no row.
	if store := s.lm.Storage(); store != nil {
		err := store.DeleteDevice(c.Request.Context(), device.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("Failed to delete device from database", zap.String("device", device.Definition.Name), zap.Error(err))
		}
	}

	c.Status(http.StatusNoContent)
}
