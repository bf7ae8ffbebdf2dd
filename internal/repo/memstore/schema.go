package memstore

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
)

// Таблицы хранилища.
const (
	tableSagas       = "sagas"
	tableSteps       = "steps"
	tableDeadLetters = "dead_letters"
	tableAccounts    = "accounts"
	tableTransfers   = "transfers"
	tableIdemKeys    = "idempotency_keys"
)

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableSagas: {
				Name: tableSagas,
				Indexes: map[string]*memdb.IndexSchema{
					"id":     {Name: "id", Unique: true, Indexer: &uuidFieldIndex{Field: "ID"}},
					"status": {Name: "status", Indexer: &memdb.StringFieldIndex{Field: "Status"}},
				},
			},
			tableSteps: {
				Name: tableSteps,
				Indexes: map[string]*memdb.IndexSchema{
					"id":   {Name: "id", Unique: true, Indexer: &uuidFieldIndex{Field: "ID"}},
					"saga": {Name: "saga", Indexer: &uuidFieldIndex{Field: "SagaInstanceID"}},
					"saga_order": {
						Name:   "saga_order",
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&uuidFieldIndex{Field: "SagaInstanceID"},
								&memdb.IntFieldIndex{Field: "StepOrder"},
							},
						},
					},
					"saga_name": {
						Name: "saga_name",
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&uuidFieldIndex{Field: "SagaInstanceID"},
								&memdb.StringFieldIndex{Field: "StepName"},
							},
						},
					},
				},
			},
			tableDeadLetters: {
				Name: tableDeadLetters,
				Indexes: map[string]*memdb.IndexSchema{
					"id":   {Name: "id", Unique: true, Indexer: &uuidFieldIndex{Field: "ID"}},
					"saga": {Name: "saga", Unique: true, Indexer: &uuidFieldIndex{Field: "SagaInstanceID"}},
				},
			},
			tableAccounts: {
				Name: tableAccounts,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &uuidFieldIndex{Field: "ID"}},
				},
			},
			tableTransfers: {
				Name: tableTransfers,
				Indexes: map[string]*memdb.IndexSchema{
					"id":   {Name: "id", Unique: true, Indexer: &uuidFieldIndex{Field: "ID"}},
					"saga": {Name: "saga", Unique: true, Indexer: &uuidFieldIndex{Field: "SagaInstanceID"}},
					"idempotency_key": {
						Name:         "idempotency_key",
						Unique:       true,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "IdempotencyKey"},
					},
				},
			},
			tableIdemKeys: {
				Name: tableIdemKeys,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Key"}},
				},
			},
		},
	}
}

// uuidFieldIndex индексирует поле типа uuid.UUID по его 16 байтам.
// memdb.UUIDFieldIndex работает только со строковыми полями.
type uuidFieldIndex struct {
	Field string
}

func (u *uuidFieldIndex) FromObject(obj any) (bool, []byte, error) {
	v := reflect.Indirect(reflect.ValueOf(obj)).FieldByName(u.Field)
	if !v.IsValid() {
		return false, nil, fmt.Errorf("field %q for %T is invalid", u.Field, obj)
	}
	id, ok := v.Interface().(uuid.UUID)
	if !ok {
		return false, nil, fmt.Errorf("field %q for %T is not uuid.UUID", u.Field, obj)
	}
	if id == uuid.Nil {
		return false, nil, nil
	}
	return true, id[:], nil
}

func (u *uuidFieldIndex) FromArgs(args ...any) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	id, ok := args[0].(uuid.UUID)
	if !ok {
		return nil, fmt.Errorf("argument must be uuid.UUID: %#v", args[0])
	}
	return id[:], nil
}
