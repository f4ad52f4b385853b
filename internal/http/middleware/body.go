package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/domain"
	"github.com/trungvo-ux/windows97/internal/middleware"
)

const ginBodyKey = "body"

var registerTagNames sync.Once

// Validatable is a request body with cross-field rules.
type Validatable interface {
	Validate() error
}

// BindBody decodes the JSON body into a fresh T, runs the struct tag rules
// and then T's own Validate. Parse failures answer 400 "Invalid JSON in
// request body"; rule failures answer 400 "Invalid request body" with the
// failing field paths.
func BindBody[T any, P interface {
	*T
	Validatable
}](maxBytes int64) gin.HandlerFunc {
	registerTagNames.Do(useJSONFieldNames)

	return func(c *gin.Context) {
		log := middleware.Logger(c)
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}

		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
				return
			}
			log.Warn("read request body failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON in request body"})
			return
		}

		body := P(new(T))
		if err := json.Unmarshal(raw, body); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				details := domain.ValidationErrors{{Path: typeErr.Field, Message: fmt.Sprintf("Expected %s.", typeErr.Type.Kind())}}
				abortInvalidBody(c, details)
				return
			}
			log.Warn("invalid JSON in request body", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON in request body"})
			return
		}

		if err := binding.Validator.ValidateStruct(body); err != nil {
			abortInvalidBody(c, translateValidation(err))
			return
		}
		if err := body.Validate(); err != nil {
			var details domain.ValidationErrors
			if !errors.As(err, &details) {
				details = domain.ValidationErrors{{Message: err.Error()}}
			}
			abortInvalidBody(c, details)
			return
		}

		c.Set(ginBodyKey, body)
		c.Next()
	}
}

// Body returns the body stored by BindBody.
func Body[T any](c *gin.Context) (*T, bool) {
	value, ok := c.Get(ginBodyKey)
	if !ok {
		return nil, false
	}
	body, ok := value.(*T)
	return body, ok
}

func abortInvalidBody(c *gin.Context, details domain.ValidationErrors) {
	middleware.Logger(c).Warn("invalid request body", zap.String("details", details.Error()))
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": details,
	})
}

func useJSONFieldNames() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
}

func translateValidation(err error) domain.ValidationErrors {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.ValidationErrors{{Message: err.Error()}}
	}
	out := make(domain.ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		path := fe.Namespace()
		if i := strings.Index(path, "."); i >= 0 {
			path = path[i+1:]
		}
		out.Add(path, fieldMessage(fe))
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	collection := fe.Kind() == reflect.Slice || fe.Kind() == reflect.Map
	switch fe.Tag() {
	case "required":
		return "Required."
	case "oneof":
		return fmt.Sprintf("Must be one of: %s.", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "max":
		if collection {
			return fmt.Sprintf("Must contain at most %s items.", fe.Param())
		}
		return fmt.Sprintf("Must be at most %s characters.", fe.Param())
	case "min":
		if collection {
			return fmt.Sprintf("Must contain at least %s items.", fe.Param())
		}
		return fmt.Sprintf("Must be at least %s characters.", fe.Param())
	case "gte":
		return fmt.Sprintf("Must be greater than or equal to %s.", fe.Param())
	case "lte":
		return fmt.Sprintf("Must be less than or equal to %s.", fe.Param())
	default:
		return fmt.Sprintf("Failed %q validation.", fe.Tag())
	}
}
