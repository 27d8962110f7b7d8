package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"legalbot/internal/domain"
	"legalbot/internal/repository"
)

func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, gin.H{
		"success": true,
		"data":    data,
	})
}

func Error(c *gin.Context, statusCode int, code string, message string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// FromError maps service errors onto the envelope. Internal detail stays in
// logs; clients get a generic message for unexpected failures.
func FromError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		Error(c, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, domain.ErrInvalidStatus):
		Error(c, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, repository.ErrSlotTaken):
		Error(c, http.StatusConflict, "SLOT_TAKEN", "selected time is not available")
	case errors.Is(err, gorm.ErrRecordNotFound):
		Error(c, http.StatusNotFound, "NOT_FOUND", "resource not found")
	default:
		Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "operation failed")
	}
}
