package plugins

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/sensor-manager/sensor"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// SendSuccess sends a successful response
func SendSuccess(c *fiber.Ctx, data interface{}, message string) error {
	return c.JSON(APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// SendError sends an error response
func SendError(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// SendErrorMessage sends an error response with a custom message
func SendErrorMessage(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error:   message,
	})
}

// SendSensorError picks the status code from the sensor error kind
func SendSensorError(c *fiber.Ctx, err error) error {
	return SendError(c, sensorStatus(err), err)
}

func sensorStatus(err error) int {
	switch {
	case errors.Is(err, sensor.ErrInvalidArgument),
		errors.Is(err, sensor.ErrInvalidWidth),
		errors.Is(err, sensor.ErrUnknownCommand):
		return fiber.StatusBadRequest
	case errors.Is(err, sensor.ErrSessionClosed):
		return fiber.StatusConflict
	case errors.Is(err, sensor.ErrUnsupported):
		return fiber.StatusNotImplemented
	case errors.Is(err, sensor.ErrTransport),
		errors.Is(err, sensor.ErrDeviceMismatch):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
