// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Validator is implemented by every value stored in a JSON column.
type Validator interface {
	Validate() error
}

// Nullable is a JSON column that may be NULL. Values are validated when read
// back from the database, so a corrupted blob surfaces as a scan error rather
// than an invalid struct.
type Nullable[T Validator] struct {
	Val   T
	Valid bool
}

// Some wraps v as a present value.
func Some[T Validator](v T) Nullable[T] {
	return Nullable[T]{Val: v, Valid: true}
}

// Ptr returns a pointer to the value, or nil when absent.
func (n Nullable[T]) Ptr() *T {
	if !n.Valid {
		return nil
	}
	v := n.Val
	return &v
}

// Scan implements the sql.Scanner interface
func (n *Nullable[T]) Scan(value any) error {
	var zero T
	if value == nil {
		n.Val, n.Valid = zero, false
		return nil
	}

	raw, err := columnBytes(value)
	if err != nil {
		return err
	}
	if string(raw) == "null" {
		n.Val, n.Valid = zero, false
		return nil
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode %T column: %w", v, err)
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("invalid %T column: %w", v, err)
	}
	n.Val, n.Valid = v, true
	return nil
}

// Value implements the driver.Valuer interface
func (n Nullable[T]) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	if err := n.Val.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to store invalid %T: %w", n.Val, err)
	}
	b, err := json.Marshal(n.Val)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// MarshalJSON renders an absent value as null.
func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Val)
}

// UnmarshalJSON accepts null or a value.
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		var zero T
		n.Val, n.Valid = zero, false
		return nil
	}
	if err := json.Unmarshal(data, &n.Val); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

func columnBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("cannot scan JSON column from %T", value)
	}
}
