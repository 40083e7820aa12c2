package keyframe

import (
	"encoding/json"
	"fmt"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// EmotionEntry is one emotion frame as the model is asked to emit it.
type EmotionEntry struct {
	Tag        string  `json:"tag" jsonschema:"description=One of the allowed emotion tags"`
	Proportion float64 `json:"proportion" jsonschema:"minimum=0,maximum=1,description=Normalised position in the reply"`
}

// BodyEntry is one body-animation frame as the model is asked to emit it.
type BodyEntry struct {
	Name       string  `json:"name" jsonschema:"description=One of the allowed animation names"`
	Proportion float64 `json:"proportion" jsonschema:"minimum=0,maximum=1,description=Normalised position in the reply"`
}

// Output is the JSON document the keyframe pass must return.
type Output struct {
	EmotionalKeyframes    []EmotionEntry `json:"emotional_keyframes" jsonschema:"minItems=2"`
	BodyAnimationSequence []BodyEntry    `json:"body_animation_sequence" jsonschema:"minItems=2"`
}

const schemaURL = "https://spacelive.local/schemas/keyframes.json"

var (
	schemaOnce     sync.Once
	schemaText     string
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() {
	r := &invopop.Reflector{ExpandedStruct: true, DoNotReference: true}
	b, err := json.MarshalIndent(r.Reflect(&Output{}), "", "  ")
	if err != nil {
		schemaErr = fmt.Errorf("keyframe: reflect schema: %w", err)
		return
	}
	schemaText = string(b)
	compiledSchema, schemaErr = jsonschema.CompileString(schemaURL, schemaText)
	if schemaErr != nil {
		schemaErr = fmt.Errorf("keyframe: compile schema: %w", schemaErr)
	}
}

// SchemaJSON returns the JSON Schema of [Output], reflected from the Go types.
func SchemaJSON() string {
	schemaOnce.Do(loadSchema)
	return schemaText
}

// ValidateDocument checks a decoded JSON document against the [Output]
// schema. A non-nil error lists every violation; the repair pass still runs
// afterwards.
func ValidateDocument(doc any) error {
	schemaOnce.Do(loadSchema)
	if schemaErr != nil {
		return schemaErr
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("keyframe: schema: %w", err)
	}
	return nil
}
