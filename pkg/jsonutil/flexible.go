// Package jsonutil decodes loosely typed JSON produced by language models.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleStringValue converts a json.RawMessage to a string, handling cases where
// a model returns numbers or booleans instead of strings. Returns "" for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return strconv.FormatInt(int64(numVal), 10)
		}
		return strconv.FormatFloat(numVal, 'g', -1, 64)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return strconv.FormatBool(boolVal)
	}

	return string(raw)
}

// FlexibleIntValue converts a json.RawMessage holding an integer, or a string
// containing one, to an int64. Returns 0 for null/empty.
func FlexibleIntValue(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return parseInt(string(num))
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		if strings.TrimSpace(strVal) == "" {
			return 0, nil
		}
		return parseInt(strings.TrimSpace(strVal))
	}

	return 0, fmt.Errorf("not an integer: %s", raw)
}

func parseInt(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	// 16384.0 is accepted; 1.5 is not.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("not an integer: %s", s)
	}
	return int64(f), nil
}
