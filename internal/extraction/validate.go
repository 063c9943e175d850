package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks data against the extraction schema.
func Validate(data *Data) error {
	if data == nil {
		return fmt.Errorf("%w: empty result", ErrSchemaValidation)
	}
	if err := validate.Struct(data); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}
	return nil
}

// Parse decodes a provider JSON answer and validates it. Code fences around the JSON are tolerated.
func Parse(raw string) (*Data, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var data Data
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &data); err != nil {
		return nil, fmt.Errorf("%w: malformed json: %v", ErrSchemaValidation, err)
	}
	if err := Validate(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
