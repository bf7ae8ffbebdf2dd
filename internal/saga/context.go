package saga

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Scalar — допустимые типы значений контекста.
//
// Деньги хранятся только как decimal.Decimal: при сериализации
// они пишутся строкой и читаются обратно без потери точности.
// time.Time приводится к UTC уже при записи (Put, PutMeta): Location
// и показания монотонных часов не сохраняются, зато значение до и
// после сериализации совпадает по ==.
type Scalar interface {
	string | int64 | bool | decimal.Decimal | uuid.UUID | time.Time
}

// Kind — тег типа значения в сериализованном контексте.
type Kind string

const (
	KindString  Kind = "string"
	KindInt     Kind = "int"
	KindBool    Kind = "bool"
	KindDecimal Kind = "decimal"
	KindUUID    Kind = "uuid"
	KindTime    Kind = "time"
)

// Context — данные, которые шаги саги передают друг другу.
//
// Data — бизнес-данные (счета, суммы, балансы до/после).
// Meta — служебные данные (ключи трассировки, источник запроса).
// Context не потокобезопасен: каждая попытка шага работает со своей копией.
type Context struct {
	SagaInstanceID uuid.UUID
	SagaType       string
	Compensating   bool
	RetryCount     int

	data map[string]any
	meta map[string]any
}

// NewContext создаёт пустой контекст для саги указанного типа.
func NewContext(sagaType string) *Context {
	return &Context{
		SagaType: sagaType,
		data:     make(map[string]any),
		meta:     make(map[string]any),
	}
}

// Put записывает значение в данные контекста.
func Put[T Scalar](c *Context, key string, v T) {
	if c.data == nil {
		c.data = make(map[string]any)
	}
	c.data[key] = normalize(v)
}

// Get читает значение из данных контекста.
// Второе значение false, если ключа нет или тип не совпадает.
func Get[T Scalar](c *Context, key string) (T, bool) {
	v, ok := c.data[key].(T)
	return v, ok
}

// PutMeta записывает значение в метаданные.
func PutMeta[T Scalar](c *Context, key string, v T) {
	if c.meta == nil {
		c.meta = make(map[string]any)
	}
	c.meta[key] = normalize(v)
}

func normalize(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return v
}

// GetMeta читает значение из метаданных.
func GetMeta[T Scalar](c *Context, key string) (T, bool) {
	v, ok := c.meta[key].(T)
	return v, ok
}

// Has проверяет наличие ключа в данных.
func (c *Context) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Delete удаляет ключ из данных.
func (c *Context) Delete(key string) {
	delete(c.data, key)
}

// Keys возвращает отсортированные ключи данных.
func (c *Context) Keys() []string {
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Copy возвращает независимую копию контекста.
// Все значения скалярные и неизменяемые, поэтому копируются только карты.
func (c *Context) Copy() *Context {
	cp := *c
	cp.data = make(map[string]any, len(c.data))
	for k, v := range c.data {
		cp.data[k] = v
	}
	cp.meta = make(map[string]any, len(c.meta))
	for k, v := range c.meta {
		cp.meta[k] = v
	}
	return &cp
}

// --- Serialization ---

type wireValue struct {
	T Kind            `json:"t"`
	V json.RawMessage `json:"v"`
}

type wireContext struct {
	SagaInstanceID uuid.UUID            `json:"saga_instance_id"`
	SagaType       string               `json:"saga_type"`
	Compensating   bool                 `json:"compensating"`
	RetryCount     int                  `json:"retry_count"`
	Data           map[string]wireValue `json:"data"`
	Meta           map[string]wireValue `json:"metadata"`
}

// MarshalJSON сериализует контекст с тегами типов.
func (c *Context) MarshalJSON() ([]byte, error) {
	data, err := encodeValues(c.data)
	if err != nil {
		return nil, err
	}
	meta, err := encodeValues(c.meta)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireContext{
		SagaInstanceID: c.SagaInstanceID,
		SagaType:       c.SagaType,
		Compensating:   c.Compensating,
		RetryCount:     c.RetryCount,
		Data:           data,
		Meta:           meta,
	})
}

// UnmarshalJSON восстанавливает контекст, сохраняя исходные типы.
func (c *Context) UnmarshalJSON(b []byte) error {
	var w wireContext
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("decode saga context: %w", err)
	}
	data, err := decodeValues(w.Data)
	if err != nil {
		return err
	}
	meta, err := decodeValues(w.Meta)
	if err != nil {
		return err
	}
	*c = Context{
		SagaInstanceID: w.SagaInstanceID,
		SagaType:       w.SagaType,
		Compensating:   w.Compensating,
		RetryCount:     w.RetryCount,
		data:           data,
		meta:           meta,
	}
	return nil
}

// Marshal — сокращение для json.Marshal(c).
func (c *Context) Marshal() ([]byte, error) {
	return c.MarshalJSON()
}

// UnmarshalContext восстанавливает контекст из JSON.
func UnmarshalContext(b []byte) (*Context, error) {
	var c Context
	if err := c.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	return &c, nil
}

func encodeValues(values map[string]any) (map[string]wireValue, error) {
	out := make(map[string]wireValue, len(values))
	for k, v := range values {
		var kind Kind
		var raw any
		switch x := v.(type) {
		case string:
			kind, raw = KindString, x
		case int64:
			kind, raw = KindInt, x
		case bool:
			kind, raw = KindBool, x
		case decimal.Decimal:
			kind, raw = KindDecimal, x.String()
		case uuid.UUID:
			kind, raw = KindUUID, x.String()
		case time.Time:
			kind, raw = KindTime, x.UTC().Format(time.RFC3339Nano)
		default:
			return nil, fmt.Errorf("saga context key %q: unsupported type %T", k, v)
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("saga context key %q: %w", k, err)
		}
		out[k] = wireValue{T: kind, V: b}
	}
	return out, nil
}

func decodeValues(values map[string]wireValue) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for k, w := range values {
		v, err := decodeValue(w)
		if err != nil {
			return nil, fmt.Errorf("saga context key %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func decodeValue(w wireValue) (any, error) {
	switch w.T {
	case KindString:
		var s string
		err := json.Unmarshal(w.V, &s)
		return s, err
	case KindInt:
		var i int64
		err := json.Unmarshal(w.V, &i)
		return i, err
	case KindBool:
		var b bool
		err := json.Unmarshal(w.V, &b)
		return b, err
	case KindDecimal:
		var s string
		if err := json.Unmarshal(w.V, &s); err != nil {
			return nil, err
		}
		return decimal.NewFromString(s)
	case KindUUID:
		var s string
		if err := json.Unmarshal(w.V, &s); err != nil {
			return nil, err
		}
		return uuid.Parse(s)
	case KindTime:
		var s string
		if err := json.Unmarshal(w.V, &s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	default:
		return nil, fmt.Errorf("unknown value kind %q", w.T)
	}
}
