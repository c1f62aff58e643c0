package model

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed order_task.schema.json
var orderTaskSchemaJSON string

const orderTaskSchemaURL = "https://storefront.local/schemas/order_task.schema.json"

var (
	orderTaskSchema     *jsonschema.Schema
	orderTaskSchemaErr  error
	orderTaskSchemaOnce sync.Once
)

func compiledOrderTaskSchema() (*jsonschema.Schema, error) {
	orderTaskSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(orderTaskSchemaURL, strings.NewReader(orderTaskSchemaJSON)); err != nil {
			orderTaskSchemaErr = fmt.Errorf("order task schema load failed: %w", err)
			return
		}
		orderTaskSchema, orderTaskSchemaErr = c.Compile(orderTaskSchemaURL)
	})
	return orderTaskSchema, orderTaskSchemaErr
}

// DecodeOrderTask validates the wire body against the order task schema,
// then decodes it. Shape errors wrap ErrInvalidTask.
func DecodeOrderTask(body []byte) (*OrderTask, error) {
	schema, err := compiledOrderTaskSchema()
	if err != nil {
		return nil, err
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: malformed json: %v", ErrInvalidTask, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}

	var task OrderTask
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	return &task, nil
}

// EncodeOrderTask marshals the task for the queue
func EncodeOrderTask(task *OrderTask) ([]byte, error) {
	return json.Marshal(task)
}
