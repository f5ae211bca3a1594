package contracts

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"queue-listener-service/schemas"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const schemasRoot = "events"

// Validator хранит скомпилированные схемы событий по ключу "OrderEvent/1.0.0"
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator компилирует все схемы из fsys (каталог events/)
func NewValidator(fsys fs.FS) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	var paths []string
	err := fs.WalkDir(fsys, schemasRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		file, err := fsys.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		// схемы добавляются ресурсами, чтобы работали $ref между ними
		if err := compiler.AddResource(path, file); err != nil {
			return fmt.Errorf("failed to add schema resource %s: %w", path, err)
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking schema resources: %w", err)
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(paths))}
	for _, path := range paths {
		key := generateKeyFromPath(path)
		if key == "" {
			return nil, fmt.Errorf("unexpected schema path %s", path)
		}
		schema, err := compiler.Compile(path)
		if err != nil {
			return nil, fmt.Errorf("could not compile schema %s: %w", path, err)
		}
		v.schemas[key] = schema
	}
	return v, nil
}

// generateKeyFromPath: "events/order-status/v1.json" -> "OrderStatusEvent/1.0.0"
func generateKeyFromPath(path string) string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(path, schemasRoot+"/"), ".json")

	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || !strings.HasPrefix(parts[1], "v") {
		return ""
	}

	caser := cases.Title(language.English)
	var name strings.Builder
	for _, p := range strings.Split(parts[0], "-") {
		name.WriteString(caser.String(p))
	}
	name.WriteString("Event")

	return fmt.Sprintf("%s/%s.0.0", name.String(), strings.TrimPrefix(parts[1], "v"))
}

// Keys возвращает ключи зарегистрированных схем
func (v *Validator) Keys() []string {
	keys := make([]string, 0, len(v.schemas))
	for k := range v.schemas {
		keys = append(keys, k)
	}
	return keys
}

// ValidateEvent проверяет тело сообщения по схеме eventType/eventVersion.
// Версия "1" и "1.0" приводятся к "1.0.0".
func (v *Validator) ValidateEvent(eventType, eventVersion string, body []byte) error {
	key := fmt.Sprintf("%s/%s", eventType, normalizeVersion(eventVersion))
	schema, ok := v.schemas[key]
	if !ok {
		return fmt.Errorf("schema for event '%s' version '%s' not found", eventType, eventVersion)
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("message body is not a valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("JSON schema validation failed: %w", err)
	}
	return nil
}

func normalizeVersion(version string) string {
	version = strings.TrimPrefix(version, "v")
	switch strings.Count(version, ".") {
	case 0:
		return version + ".0.0"
	case 1:
		return version + ".0"
	}
	return version
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
	defaultErr       error
)

// Default возвращает валидатор по встроенным схемам
func Default() (*Validator, error) {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = NewValidator(schemas.SchemasFS)
	})
	return defaultValidator, defaultErr
}
