package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

var requestValidator = validator.New()

// contentPolicy strips all markup. Message bodies are markdown rendered by
// the clients, so entities are unescaped again after sanitising.
var contentPolicy = bluemonday.StrictPolicy()

var errInvalidJSON = errors.New("invalid JSON body")

func decodeAndValidate(body io.Reader, dst any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return errInvalidJSON
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errInvalidJSON
	}

	if err := requestValidator.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			first := validationErrors[0]
			field := strings.ToLower(first.Field())
			switch first.Tag() {
			case "required":
				return fmt.Errorf("%s is required", field)
			case "max":
				return fmt.Errorf("%s is too long (max %s)", field, first.Param())
			case "excludesall":
				return fmt.Errorf("%s contains invalid characters", field)
			default:
				return fmt.Errorf("invalid %s", field)
			}
		}

		return fmt.Errorf("invalid request payload")
	}

	return nil
}

// sanitizeContent removes markup and trims surrounding whitespace.
func sanitizeContent(s string) string {
	return strings.TrimSpace(html.UnescapeString(contentPolicy.Sanitize(s)))
}
