// Package configutil decodes and validates the free-form settings blocks
// found under provider keys (artifacts.settings and friends).
package configutil

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator. Field names in its errors
// are the mapstructure keys, so messages read like the YAML the user wrote.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		validate = v
	})
	return validate
}

// DecodeSettings decodes a settings map into a typed struct.
// Keys match fields case-, underscore- and hyphen-insensitively, and string
// values are weakly converted ("30" decodes into an int field).
func DecodeSettings(input map[string]any, out any) error {
	_, err := decode(input, out)
	return err
}

// DecodeStrict decodes input into out, rejects keys out does not declare and
// then runs the struct's validate tags. Blank strings count as missing.
func DecodeStrict(input map[string]any, out any) error {
	md, err := decode(input, out)
	if err != nil {
		return err
	}
	var parts []string
	if len(md.Unused) > 0 {
		unknown := append([]string(nil), md.Unused...)
		sort.Strings(unknown)
		parts = append(parts, "unknown: "+strings.Join(unknown, ", "))
	}
	trimStrings(reflect.ValueOf(out))
	if err := Validator().Struct(out); err != nil {
		parts = append(parts, DescribeErrors(err))
	}
	if len(parts) == 0 {
		return nil
	}
	return errors.New(strings.Join(parts, "; "))
}

// DescribeErrors flattens validator errors into "path: problem" pairs joined
// by "; ". The root struct name is dropped from every path.
func DescribeErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldPath(fe.Namespace())+": "+describe(fe))
	}
	return strings.Join(msgs, "; ")
}

// RequireString ensures a value is present for a required config field.
func RequireString(value, path string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", path)
	}
	return nil
}

func decode(input map[string]any, out any) (mapstructure.Metadata, error) {
	var md mapstructure.Metadata
	if len(input) == 0 {
		return md, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		Metadata:         &md,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return md, err
	}
	return md, decoder.Decode(input)
}

func trimStrings(v reflect.Value) {
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.Kind() == reflect.String && f.CanSet() {
			f.SetString(strings.TrimSpace(f.String()))
		}
	}
}

// fieldPath turns "Config.backend.base_url" into "backend.base_url".
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return "is invalid"
	}
}

func normalizeKey(value string) string {
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}
