/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */


package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Sanitize renders cfg as JSON without the fields tagged sensitive:"true".
func Sanitize(cfg interface{}) ([]byte, error) {
	return json.Marshal(filterSensitive(reflect.ValueOf(cfg)))
}

// SafeMetadata flattens the non-sensitive top-level scalars of cfg into
// string metadata. Nested sections only report whether they are configured.
func SafeMetadata(cfg interface{}) map[string]string {
	metadata := make(map[string]string)

	safe, ok := filterSensitive(reflect.ValueOf(cfg)).(map[string]interface{})
	if !ok {
		return metadata
	}

	for key, value := range safe {
		switch v := value.(type) {
		case nil:
		case string:
			if v != "" {
				metadata[key] = v
			}
		case map[string]interface{}:
			if len(v) > 0 {
				metadata[key+"_configured"] = "true"
			}
		case []interface{}:
			if len(v) > 0 {
				metadata[key+"_count"] = fmt.Sprintf("%d", len(v))
			}
		default:
			metadata[key] = fmt.Sprintf("%v", v)
		}
	}

	return metadata
}

func filterSensitive(rv reflect.Value) interface{} {
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}

		rv = rv.Elem()
	}

	if !rv.IsValid() {
		return nil
	}

	// types with their own text form (durations, times) keep it
	if m, ok := rv.Interface().(json.Marshaler); ok && rv.Kind() != reflect.Struct {
		if data, err := m.MarshalJSON(); err == nil {
			var out interface{}
			if json.Unmarshal(data, &out) == nil {
				return out
			}
		}
	}

	switch rv.Kind() {
	case reflect.Struct:
		rt := rv.Type()
		result := make(map[string]interface{})

		for i := 0; i < rt.NumField(); i++ {
			field := rt.Field(i)
			if !field.IsExported() || field.Tag.Get("sensitive") == "true" {
				continue
			}

			name := field.Name

			if tag := field.Tag.Get("json"); tag != "" {
				if tag == "-" {
					continue
				}

				if n := strings.Split(tag, ",")[0]; n != "" {
					name = n
				}
			}

			result[name] = filterSensitive(rv.Field(i))
		}

		return result
	case reflect.Slice, reflect.Array:
		result := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			result[i] = filterSensitive(rv.Index(i))
		}

		return result
	case reflect.Map:
		result := make(map[string]interface{})

		iter := rv.MapRange()
		for iter.Next() {
			if key, ok := iter.Key().Interface().(string); ok {
				result[key] = filterSensitive(iter.Value())
			}
		}

		return result
	default:
		return rv.Interface()
	}
}
