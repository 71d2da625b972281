package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// IntArray stores an int slice as a JSON text column.
type IntArray []int

// Value implements the driver.Valuer interface for database serialization.
func (a IntArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *IntArray) Scan(value interface{}) error {
	if value == nil {
		*a = IntArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan IntArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Contains reports whether v is in the array.
func (a IntArray) Contains(v int) bool {
	for _, x := range a {
		if x == v {
			return true
		}
	}
	return false
}

// Models lists every persisted model in migration order.
func Models() []interface{} {
	return []interface{}{
		&Plan{},
		&PlanQuestion{},
		&Recipient{},
		&Subscription{},
		&UserAnswer{},
		&PlanSummarySetting{},
		&UserSummary{},
		&Job{},
		&Execution{},
		&ExecutionItem{},
		&SystemLog{},
		&Flag{},
	}
}
