package flowtypes

import (
	"encoding/json"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	bindValidator     *validator.Validate
	bindValidatorOnce sync.Once
)

func getValidator() *validator.Validate {
	bindValidatorOnce.Do(func() { bindValidator = validator.New() })
	return bindValidator
}

// Bind decodes raw patch JSON into a PatchDocument and runs the struct-tag
// invariants declared on these types (required fields, numeric ranges).
// This is the "bind the patch into patchType": by the
// time a caller reaches here, pkg/validator's structural pass has already
// run, so Bind failing indicates an internal inconsistency between the two
// passes rather than a normal operator mistake.
func Bind(raw []byte) (*PatchDocument, error) {
	var doc PatchDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := getValidator().Struct(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
